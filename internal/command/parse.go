package command

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yeguo/idm/internal/app"
	"github.com/yeguo/idm/internal/model"
)

var parseCmd = &cobra.Command{
	Use:   "parse URL...",
	Short: "Parse URLs and list downloadable formats",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o := app.New(cfg, nil)
		defer o.Close()

		if err := o.SubmitParse(args); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		for {
			select {
			case <-sigCh:
				o.CancelParse()
				return fmt.Errorf("parse cancelled")
			case ev := <-o.Events():
				switch e := ev.(type) {
				case app.ParsedItemEvent:
					printEntry(e.Item.Entry)
				case app.BatchCompleteEvent:
					s := e.Summary
					fmt.Printf("\n%d/%d parsed: %d unique items, %d formats, %d duplicates, %d failures\n",
						s.Parsed, s.TotalURLs, s.UniqueItems, s.TotalFormats, s.Duplicates, s.Failures)
					if s.Failures == s.TotalURLs {
						return fmt.Errorf("every URL failed to parse")
					}
					return nil
				}
			}
		}
	},
}

func printEntry(entry model.FormatEntry) {
	fmt.Printf("%-40.40s  %s\n", entry.Title, entry.Label())
}

func init() {
	rootCmd.AddCommand(parseCmd)
}
