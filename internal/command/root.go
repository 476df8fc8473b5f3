// Package command wires the CLI surface over the orchestrator.
package command

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yeguo/idm/internal/config"
)

const versionInfo = "1.0.0"

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "idm",
	Short:   "Multi-site video downloader",
	Long:    "idm parses video pages with yt-dlp, dedups results, and\ndownloads with bounded concurrency and a retry ladder.",
	Version: versionInfo,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded

		if out, _ := cmd.Flags().GetString("output"); out != "" {
			cfg.DownloadDir = out
		}
		if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
			cfg.SetMaxConcurrentDownloads(n)
		}
		if ffmpeg, _ := cmd.Flags().GetString("ffmpeg"); ffmpeg != "" {
			cfg.FFmpegPath = ffmpeg
		}
		return nil
	},
	SilenceUsage: true,
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".idm", "config.json")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringP("output", "o", "", "download directory (overrides config)")
	rootCmd.PersistentFlags().IntP("concurrency", "c", 0, "max concurrent downloads (1-10)")
	rootCmd.PersistentFlags().String("ffmpeg", "", "ffmpeg binary path")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
