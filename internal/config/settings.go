package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Default values
const (
	DefaultMaxConcurrentDownloads = 5
	DefaultCacheLimit             = 20
	DefaultMaxRetryAttempts       = 3
	DefaultRetryDelaySec          = 2
	DefaultForbiddenDelaySec      = 5
	DefaultParseTimeoutSec        = 60
	DefaultYouTubeTimeoutSec      = 300
	DefaultBilibiliTimeoutSec     = 180
	DefaultFilenameTemplate       = "%(title)s.%(ext)s"
)

// Config holds the orchestration settings. Zero values are replaced by
// defaults on load; setters clamp out-of-range values instead of
// rejecting them.
type Config struct {
	MaxConcurrentDownloads int    `json:"max_concurrent_downloads"`
	CacheLimit             int    `json:"cache_limit"`
	MaxRetryAttempts       int    `json:"max_retry_attempts"`
	RetryDelaySec          int    `json:"retry_delay_sec"`
	ForbiddenDelaySec      int    `json:"forbidden_delay_sec"`
	ParseTimeoutSec        int    `json:"parse_timeout_sec"`
	YouTubeTimeoutSec      int    `json:"youtube_timeout_sec"`
	BilibiliTimeoutSec     int    `json:"bilibili_timeout_sec"`
	DownloadDir            string `json:"download_dir"`
	FilenameTemplate       string `json:"filename_template"`
	FFmpegPath             string `json:"ffmpeg_path"` // passed through to extractors, never invoked here
	DatabasePath           string `json:"database_path"`
}

// Default returns a Config populated with default values
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		MaxConcurrentDownloads: DefaultMaxConcurrentDownloads,
		CacheLimit:             DefaultCacheLimit,
		MaxRetryAttempts:       DefaultMaxRetryAttempts,
		RetryDelaySec:          DefaultRetryDelaySec,
		ForbiddenDelaySec:      DefaultForbiddenDelaySec,
		ParseTimeoutSec:        DefaultParseTimeoutSec,
		YouTubeTimeoutSec:      DefaultYouTubeTimeoutSec,
		BilibiliTimeoutSec:     DefaultBilibiliTimeoutSec,
		DownloadDir:            filepath.Join(home, "Downloads"),
		FilenameTemplate:       DefaultFilenameTemplate,
		DatabasePath:           filepath.Join(home, ".idm", "history.db"),
	}
}

// Load reads a JSON config file over the defaults. A missing file is
// not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// SetMaxConcurrentDownloads clamps count to [1,10] before applying
func (c *Config) SetMaxConcurrentDownloads(count int) {
	if count < 1 {
		count = 1
	}
	if count > 10 {
		count = 10
	}
	c.MaxConcurrentDownloads = count
}

// SetCacheLimit clamps limit to [1,100] before applying
func (c *Config) SetCacheLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	c.CacheLimit = limit
}

// RetryDelay returns the base delay between cascade attempts
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}

// ForbiddenDelay returns the longer delay applied after a 403 response
func (c *Config) ForbiddenDelay() time.Duration {
	return time.Duration(c.ForbiddenDelaySec) * time.Second
}

// ParseTimeout returns the per-URL metadata extraction timeout for the
// given platform tag ("youtube", "bilibili", anything else falls back
// to the default).
func (c *Config) ParseTimeout(platform string) time.Duration {
	switch platform {
	case "youtube":
		return time.Duration(c.YouTubeTimeoutSec) * time.Second
	case "bilibili":
		return time.Duration(c.BilibiliTimeoutSec) * time.Second
	default:
		return time.Duration(c.ParseTimeoutSec) * time.Second
	}
}

// normalize replaces invalid values from a loaded file with defaults
// and re-applies clamping.
func (c *Config) normalize() {
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = DefaultMaxConcurrentDownloads
	}
	c.SetMaxConcurrentDownloads(c.MaxConcurrentDownloads)
	if c.CacheLimit <= 0 {
		c.CacheLimit = DefaultCacheLimit
	}
	c.SetCacheLimit(c.CacheLimit)
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.RetryDelaySec < 0 {
		c.RetryDelaySec = DefaultRetryDelaySec
	}
	if c.ForbiddenDelaySec <= 0 {
		c.ForbiddenDelaySec = DefaultForbiddenDelaySec
	}
	if c.ParseTimeoutSec <= 0 {
		c.ParseTimeoutSec = DefaultParseTimeoutSec
	}
	if c.YouTubeTimeoutSec <= 0 {
		c.YouTubeTimeoutSec = DefaultYouTubeTimeoutSec
	}
	if c.BilibiliTimeoutSec <= 0 {
		c.BilibiliTimeoutSec = DefaultBilibiliTimeoutSec
	}
	if c.FilenameTemplate == "" {
		c.FilenameTemplate = DefaultFilenameTemplate
	}
}
