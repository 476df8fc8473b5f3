package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/yeguo/idm/internal/model"
	"github.com/yeguo/idm/internal/worker"
)

// YTDLP drives the yt-dlp binary. It is the primary backend for every
// platform.
//
// Pause semantics: yt-dlp runs as a subprocess, so a pause only defers
// the next progress checkpoint; the subprocess keeps transferring until
// cancellation tears down its context.
type YTDLP struct{}

// NewYTDLP creates the yt-dlp backed extractor
func NewYTDLP() *YTDLP {
	return &YTDLP{}
}

// ExtractMetadata runs yt-dlp in dump-json mode and parses its output
func (y *YTDLP) ExtractMetadata(ctx context.Context, url string, opts Options) (*Metadata, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	dl := ytdlp.New().
		SkipDownload().
		DumpSingleJSON()
	applyCommonFlags(dl, opts)

	opts.logf(fmt.Sprintf("yt-dlp metadata: %s", url))
	result, err := dl.Run(ctx, url)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, WrapError(url, fmt.Errorf("metadata extraction timed out after %v", opts.Timeout))
		}
		return nil, WrapError(url, err)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(result.Stdout), &meta); err != nil {
		return nil, WrapError(url, fmt.Errorf("parse yt-dlp json: %w", err))
	}
	if meta.WebpageURL == "" {
		meta.WebpageURL = url
	}
	return &meta, nil
}

// Download runs yt-dlp with the configured format and reports progress
// on a 500ms cadence. The produced artifact path comes from the run's
// extracted info.
func (y *YTDLP) Download(ctx context.Context, url string, opts Options, onProgress func(ProgressEvent)) (string, error) {
	dl := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		Output(outputTemplate(opts))
	applyCommonFlags(dl, opts)
	if opts.Format != "" {
		dl.Format(opts.Format)
	}

	dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
		// Pause blocks here between samples; cancel is observed by the
		// context the caller tears down.
		opts.checkpoint()
		if onProgress == nil {
			return
		}
		ev := ProgressEvent{
			BytesDownloaded: int64(update.DownloadedBytes),
			BytesTotal:      int64(update.TotalBytes),
		}
		if !update.Started.IsZero() {
			elapsed := time.Since(update.Started)
			if elapsed.Seconds() > 0 {
				ev.BytesPerSec = float64(update.DownloadedBytes) / elapsed.Seconds()
			}
		}
		onProgress(ev)
	})

	opts.logf(fmt.Sprintf("yt-dlp download: %s format=%q", url, opts.Format))
	result, err := dl.Run(ctx, url)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return "", worker.ErrCancelled
		}
		// yt-dlp sometimes fails the final rename after the payload is
		// fully written; the verify step decides if the artifact counts.
		if path := extractedPath(result); path != "" {
			if fixed, ok := adoptPartFile(path); ok {
				opts.logf(fmt.Sprintf("adopted partial artifact: %s", fixed))
				return fixed, nil
			}
		}
		return "", WrapError(url, err)
	}

	if onProgress != nil {
		onProgress(ProgressEvent{Finished: true})
	}
	path := extractedPath(result)
	opts.logf(fmt.Sprintf("yt-dlp produced %s", path))
	return path, nil
}

// applyCommonFlags wires headers, playlist mode, and the muxer path
func applyCommonFlags(dl *ytdlp.Command, opts Options) {
	for k, v := range opts.Headers {
		dl.AddHeaders(fmt.Sprintf("%s:%s", k, v))
	}
	if opts.NoPlaylist {
		dl.NoPlaylist()
	}
	if opts.FFmpegPath != "" {
		dl.FFmpegLocation(opts.FFmpegPath)
	}
}

func outputTemplate(opts Options) string {
	tpl := opts.OutputTemplate
	if tpl == "" {
		tpl = "%(title)s.%(ext)s"
	}
	return filepath.Join(opts.OutputDir, tpl)
}

// extractedPath pulls the first downloaded filename out of a run result
func extractedPath(result *ytdlp.Result) string {
	if result == nil {
		return ""
	}
	info, err := result.GetExtractedInfo()
	if err != nil || len(info) == 0 {
		return ""
	}
	if info[0].Filename != nil {
		return *info[0].Filename
	}
	return ""
}

// adoptPartFile promotes a complete .part file left behind by a failed
// rename. Returns the usable path and whether adoption happened.
func adoptPartFile(path string) (string, bool) {
	if st, err := os.Stat(path); err == nil && st.Size() > 0 {
		return path, true
	}
	part := path + ".part"
	st, err := os.Stat(part)
	if err != nil || st.Size() == 0 {
		return "", false
	}
	if err := os.Rename(part, path); err != nil {
		return part, true
	}
	return path, true
}

// DeriveFormats buckets raw backend formats into caller-facing entries,
// one per resolution, preferring the variant with the best size
// estimate. Audio-only formats collapse into a single "audio" bucket.
func DeriveFormats(meta *Metadata, key, sourceURL string, platform Platform) []model.FormatEntry {
	best := make(map[string]Format)
	order := make([]string, 0, 8)

	for _, f := range meta.Formats {
		bucket := f.Resolution
		if f.VCodec == "none" || f.VCodec == "" && f.Resolution == "" {
			bucket = "audio"
		}
		if bucket == "" || bucket == "none" {
			continue
		}
		cur, seen := best[bucket]
		if !seen {
			order = append(order, bucket)
			best[bucket] = f
			continue
		}
		if f.Size() > cur.Size() {
			best[bucket] = f
		}
	}

	entries := make([]model.FormatEntry, 0, len(order))
	for _, bucket := range order {
		f := best[bucket]
		entries = append(entries, model.FormatEntry{
			FormatID:   f.ID,
			SourceURL:  sourceURL,
			Key:        key,
			Title:      meta.Title,
			Ext:        f.Ext,
			Resolution: bucket,
			Filesize:   f.Size(),
			Platform:   string(platform),
			DirectURL:  meta.DirectURL,
		})
	}
	return entries
}
