// Package extractor defines the media extraction boundary: metadata
// parsing and artifact download behind a single interface, with
// adapters for the yt-dlp binary, the library-native YouTube client,
// and plain HTTP media URLs.
package extractor

import (
	"context"
	"time"

	"github.com/yeguo/idm/internal/worker"
)

// Options carries per-request extraction settings. The zero value is
// usable; Merge layers non-zero override fields on top.
type Options struct {
	Format         string // yt-dlp format selector or native itag
	OutputDir      string
	OutputTemplate string            // yt-dlp style, e.g. "%(title)s.%(ext)s"
	Headers        map[string]string // per-platform request headers
	Timeout        time.Duration
	FFmpegPath     string // passed through to the backend, never invoked here
	NoPlaylist     bool

	// Checkpoint is polled at safe points (chunk boundaries, progress
	// callbacks). Nil means never pause or cancel cooperatively.
	Checkpoint func() worker.Signal

	// Log receives human-readable progress lines; the caller owns
	// presentation. Nil discards them.
	Log func(msg string)
}

// Merge returns o with non-zero fields of over layered on top.
// Headers are merged key-wise, override winning.
func (o Options) Merge(over Options) Options {
	out := o
	if over.Format != "" {
		out.Format = over.Format
	}
	if over.OutputDir != "" {
		out.OutputDir = over.OutputDir
	}
	if over.OutputTemplate != "" {
		out.OutputTemplate = over.OutputTemplate
	}
	if over.Timeout > 0 {
		out.Timeout = over.Timeout
	}
	if over.FFmpegPath != "" {
		out.FFmpegPath = over.FFmpegPath
	}
	if over.NoPlaylist {
		out.NoPlaylist = true
	}
	if over.Checkpoint != nil {
		out.Checkpoint = over.Checkpoint
	}
	if over.Log != nil {
		out.Log = over.Log
	}
	if len(over.Headers) > 0 {
		merged := make(map[string]string, len(o.Headers)+len(over.Headers))
		for k, v := range o.Headers {
			merged[k] = v
		}
		for k, v := range over.Headers {
			merged[k] = v
		}
		out.Headers = merged
	}
	return out
}

func (o Options) checkpoint() worker.Signal {
	if o.Checkpoint == nil {
		return worker.SignalContinue
	}
	return o.Checkpoint()
}

func (o Options) logf(msg string) {
	if o.Log != nil {
		o.Log(msg)
	}
}

// Format describes one downloadable rendition reported by a backend
type Format struct {
	ID         string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Resolution string  `json:"resolution"`
	Note       string  `json:"format_note"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`
	Filesize   int64   `json:"filesize"`
	FilesizeA  int64   `json:"filesize_approx"`
	TBR        float64 `json:"tbr"` // total bitrate, kbps
}

// Size returns the best available size estimate
func (f Format) Size() int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}
	return f.FilesizeA
}

// Metadata is the parsed description of one source item, or of a
// collection when Entries is non-empty.
type Metadata struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	WebpageURL string     `json:"webpage_url"`
	Uploader   string     `json:"uploader"`
	Duration   float64    `json:"duration"`
	DirectURL  string     `json:"url"` // raw media URL when the backend resolved one
	Formats    []Format   `json:"formats"`
	Entries    []Metadata `json:"entries"` // playlist children, possibly without formats
}

// IsCollection reports whether this metadata describes a playlist
func (m *Metadata) IsCollection() bool {
	return len(m.Entries) > 0
}

// ProgressEvent is one download progress sample
type ProgressEvent struct {
	BytesDownloaded int64
	BytesTotal      int64 // 0 if unknown
	BytesPerSec     float64
	Finished        bool
}

// Percent returns progress as 0..100, or 0 when total is unknown
func (e ProgressEvent) Percent() int {
	if e.BytesTotal <= 0 {
		return 0
	}
	p := int(float64(e.BytesDownloaded) / float64(e.BytesTotal) * 100)
	if p > 100 {
		p = 100
	}
	return p
}

// MediaExtractor is the backend boundary. Download returns the path of
// the produced artifact.
type MediaExtractor interface {
	ExtractMetadata(ctx context.Context, url string, opts Options) (*Metadata, error)
	Download(ctx context.Context, url string, opts Options, onProgress func(ProgressEvent)) (string, error)
}
