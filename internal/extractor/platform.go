package extractor

import (
	"strings"

	"github.com/yeguo/idm/internal/config"
)

// Platform tags a source URL with the site family it belongs to.
// The tag is resolved once per URL and drives headers, timeouts, and
// the strategy ladder.
type Platform string

const (
	PlatformYouTube  Platform = "youtube"
	PlatformBilibili Platform = "bilibili"
	PlatformNetEase  Platform = "netease"
	PlatformGeneric  Platform = "generic"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Detect resolves the platform tag for a URL
func Detect(rawURL string) Platform {
	u := strings.ToLower(rawURL)
	switch {
	case strings.Contains(u, "youtube.com"), strings.Contains(u, "youtu.be"):
		return PlatformYouTube
	case strings.Contains(u, "bilibili.com"), strings.Contains(u, "b23.tv"):
		return PlatformBilibili
	case strings.Contains(u, "music.163.com"):
		return PlatformNetEase
	}
	return PlatformGeneric
}

// optionsBuilder produces the base Options for one platform
type optionsBuilder func(cfg *config.Config) Options

// platformOptions is a lookup table instead of per-site branching:
// adding a platform means adding one row here.
var platformOptions = map[Platform]optionsBuilder{
	PlatformYouTube: func(cfg *config.Config) Options {
		return Options{
			Timeout: cfg.ParseTimeout("youtube"),
			Headers: map[string]string{
				"User-Agent": defaultUserAgent,
			},
		}
	},
	PlatformBilibili: func(cfg *config.Config) Options {
		return Options{
			Timeout: cfg.ParseTimeout("bilibili"),
			Headers: map[string]string{
				"User-Agent": defaultUserAgent,
				"Referer":    "https://www.bilibili.com/",
			},
		}
	},
	PlatformNetEase: func(cfg *config.Config) Options {
		return Options{
			Timeout: cfg.ParseTimeout("netease"),
			Headers: map[string]string{
				"User-Agent": defaultUserAgent,
				"Referer":    "https://music.163.com/",
				"Origin":     "https://music.163.com",
			},
		}
	},
	PlatformGeneric: func(cfg *config.Config) Options {
		return Options{
			Timeout: cfg.ParseTimeout("generic"),
			Headers: map[string]string{
				"User-Agent": defaultUserAgent,
			},
		}
	},
}

// OptionsFor returns the base extraction options for a platform,
// filled in from cfg (timeouts, output location, ffmpeg path).
func OptionsFor(p Platform, cfg *config.Config) Options {
	build, ok := platformOptions[p]
	if !ok {
		build = platformOptions[PlatformGeneric]
	}
	opts := build(cfg)
	opts.OutputDir = cfg.DownloadDir
	opts.OutputTemplate = cfg.FilenameTemplate
	opts.FFmpegPath = cfg.FFmpegPath
	return opts
}
