package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yeguo/idm/internal/app"
	"github.com/yeguo/idm/internal/compress"
	"github.com/yeguo/idm/internal/history"
	"github.com/yeguo/idm/internal/model"
)

var (
	getFormat   string
	getAudio    bool
	getPriority int
	getCompress bool
)

var getCmd = &cobra.Command{
	Use:   "get URL",
	Short: "Parse one URL and download it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hist, err := history.Open(cfg.DatabasePath)
		if err != nil {
			// history is best effort; the download still proceeds
			log.Printf("History disabled: %v", err)
			hist = nil
		} else {
			defer hist.Close()
		}

		o := app.New(cfg, hist)
		defer o.Close()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		entries, err := collectEntries(o, args[0], sigCh)
		if err != nil {
			return err
		}

		entry, err := pickEntry(entries, getFormat, getAudio)
		if err != nil {
			return err
		}
		fmt.Printf("Downloading: %s (%s)\n", entry.Title, entry.Label())

		taskID, err := o.SubmitDownload(entry, getPriority)
		if err != nil {
			return err
		}
		path, err := awaitDownload(o, taskID, sigCh)
		if err != nil {
			return err
		}

		if getCompress {
			return compressArtifact(path, sigCh)
		}
		return nil
	},
}

func compressArtifact(path string, sigCh <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Println("Compressing...")
	out, err := compress.NewService(cfg.FFmpegPath).Run(ctx, path, func(percent int) {
		fmt.Printf("\r%3d%%", percent)
	})
	if err != nil {
		fmt.Println()
		return fmt.Errorf("compression failed: %w", err)
	}
	fmt.Printf("\rCompressed: %s\n", out)
	return nil
}

// collectEntries parses one URL and gathers its format entries until
// the batch summary arrives.
func collectEntries(o *app.Orchestrator, url string, sigCh <-chan os.Signal) ([]model.FormatEntry, error) {
	if err := o.SubmitParse([]string{url}); err != nil {
		return nil, err
	}

	var entries []model.FormatEntry
	for {
		select {
		case <-sigCh:
			o.CancelParse()
			return nil, errors.New("parse cancelled")
		case ev := <-o.Events():
			switch e := ev.(type) {
			case app.ParsedItemEvent:
				entries = append(entries, e.Item.Entry)
			case app.BatchCompleteEvent:
				if len(entries) == 0 {
					return nil, fmt.Errorf("no downloadable formats found for %s", url)
				}
				return entries, nil
			}
		}
	}
}

// pickEntry selects the rendition to download: an explicit format ID
// wins, then the audio bucket when requested, then the first (highest)
// video bucket.
func pickEntry(entries []model.FormatEntry, formatID string, audio bool) (model.FormatEntry, error) {
	if formatID != "" {
		for _, e := range entries {
			if e.FormatID == formatID {
				return e, nil
			}
		}
		return model.FormatEntry{}, fmt.Errorf("format %s not available; run 'idm parse' to list formats", formatID)
	}
	if audio {
		for _, e := range entries {
			if e.Resolution == "audio" {
				return e, nil
			}
		}
		return model.FormatEntry{}, errors.New("no audio-only format available")
	}
	for _, e := range entries {
		if e.Resolution != "audio" {
			return e, nil
		}
	}
	return entries[0], nil
}

func awaitDownload(o *app.Orchestrator, taskID string, sigCh <-chan os.Signal) (string, error) {
	for {
		select {
		case <-sigCh:
			o.Cancel(taskID)
			// keep waiting: the worker gets a bounded join before the
			// task reaches a terminal state
		case ev := <-o.Events():
			switch e := ev.(type) {
			case app.TaskUpdateEvent:
				if e.Task.ID != taskID {
					continue
				}
				switch e.Task.Status {
				case model.StatusActive:
					fmt.Printf("\r%3d%%  %-12s", e.Task.Percent, e.Task.Speed)
				case model.StatusFailed:
					fmt.Println()
					return "", fmt.Errorf("download failed: %s", e.Task.LastError)
				case model.StatusCancelled:
					fmt.Println()
					return "", errors.New("download cancelled")
				}
			case app.TaskCompletedEvent:
				if e.Task.ID != taskID {
					continue
				}
				fmt.Printf("\rDone: %s\n", e.Path)
				return e.Path, nil
			}
		}
	}
}

func init() {
	getCmd.Flags().StringVarP(&getFormat, "format", "f", "", "format ID to download")
	getCmd.Flags().BoolVar(&getAudio, "audio", false, "download the audio-only rendition")
	getCmd.Flags().IntVarP(&getPriority, "priority", "p", model.DefaultPriority, "queue priority (1-10, lower is more urgent)")
	getCmd.Flags().BoolVar(&getCompress, "compress", false, "re-encode the result to a smaller MP4 with ffmpeg")
	rootCmd.AddCommand(getCmd)
}
