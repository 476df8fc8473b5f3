package model

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// FormatEntry is one downloadable rendition of a parsed source item.
// The parse pipeline derives a handful of these per item (one per
// resolution bucket) and the caller picks one to download.
type FormatEntry struct {
	FormatID   string `json:"format_id"`
	SourceURL  string `json:"source_url"`
	Key        string `json:"key"` // canonical dedup key of the source item
	Title      string `json:"title"`
	Ext        string `json:"ext"`
	Resolution string `json:"resolution"` // "1080p", "720p", "audio"
	Filesize   int64  `json:"filesize"`   // approximate, 0 if unknown
	Platform   string `json:"platform"`
	DirectURL  string `json:"direct_url,omitempty"` // set when the source resolved to raw media
}

// SizeLabel returns the approximate size as a human readable string
func (f FormatEntry) SizeLabel() string {
	if f.Filesize <= 0 {
		return "unknown"
	}
	return humanize.Bytes(uint64(f.Filesize))
}

// Label returns a one-line description suitable for pickers and logs
func (f FormatEntry) Label() string {
	return fmt.Sprintf("%s  %s  %s  %s", f.FormatID, f.Resolution, f.Ext, f.SizeLabel())
}

// SpeedLabel formats a bytes-per-second rate for progress display
func SpeedLabel(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return humanize.Bytes(uint64(bytesPerSec)) + "/s"
}
