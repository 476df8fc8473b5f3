package command

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yeguo/idm/internal/history"
)

var (
	historyLimit int
	historyClear bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List completed downloads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		if historyClear {
			n, err := store.Clear()
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d records\n", n)
			return nil
		}

		records, err := store.List(historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No downloads recorded")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  %-40.40s  %-8s  %s\n",
				r.CreatedAt.Format("2006-01-02 15:04"), r.Title, r.Platform, humanize.Bytes(uint64(r.FileSize)))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "max records to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "delete all history records")
	rootCmd.AddCommand(historyCmd)
}
