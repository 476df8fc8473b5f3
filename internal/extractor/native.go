package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/yeguo/idm/internal/worker"
)

// Native downloads YouTube media through the library client instead of
// the yt-dlp subprocess. It is the cascade's last-resort rung: slower
// format coverage, but the chunked stream copy honors pause and cancel
// checkpoints exactly, unlike the subprocess backend.
type Native struct {
	client youtube.Client
	http   *http.Client
}

// Chunk sizes for the two copy loops. Stream copies follow the 32KiB
// convention; direct URL copies checkpoint more often at 8KiB.
const (
	streamChunkSize = 32 * 1024
	directChunkSize = 8 * 1024
)

// NewNative creates the library-native extractor
func NewNative() *Native {
	return &Native{
		http: &http.Client{Timeout: 0}, // per-request contexts bound the work
	}
}

// ExtractMetadata fetches video info through the library client
func (n *Native) ExtractMetadata(ctx context.Context, url string, opts Options) (*Metadata, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	video, err := n.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, WrapError(url, err)
	}

	meta := &Metadata{
		ID:         video.ID,
		Title:      video.Title,
		WebpageURL: url,
		Uploader:   video.Author,
		Duration:   video.Duration.Seconds(),
	}
	for _, f := range video.Formats {
		meta.Formats = append(meta.Formats, Format{
			ID:         strconv.Itoa(f.ItagNo),
			Ext:        extFromMime(f.MimeType),
			Resolution: f.QualityLabel,
			VCodec:     vcodecFromMime(f.MimeType),
			Filesize:   f.ContentLength,
		})
	}
	return meta, nil
}

// Download streams the selected format to the output directory with a
// pause/cancel checkpoint at every chunk boundary.
func (n *Native) Download(ctx context.Context, url string, opts Options, onProgress func(ProgressEvent)) (string, error) {
	video, err := n.client.GetVideoContext(ctx, url)
	if err != nil {
		return "", WrapError(url, err)
	}

	format := pickFormat(video.Formats, opts.Format)
	if format == nil {
		return "", WrapError(url, fmt.Errorf("requested format is not available: %q", opts.Format))
	}
	opts.logf(fmt.Sprintf("native download: itag %d for %s", format.ItagNo, url))

	stream, size, err := n.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return "", WrapError(url, err)
	}
	defer stream.Close()

	name := sanitizeFilename(video.Title) + "." + extFromMime(format.MimeType)
	path := filepath.Join(opts.OutputDir, name)

	if err := copyChunked(ctx, path, stream, size, streamChunkSize, opts, onProgress); err != nil {
		return "", err
	}
	return path, nil
}

// DownloadDirect copies a raw media URL to disk. Used when parsing
// resolved a direct link (the NetEase flow) and for generic media URLs.
func (n *Native) DownloadDirect(ctx context.Context, rawURL string, opts Options, onProgress func(ProgressEvent)) (string, error) {
	opts.logf(fmt.Sprintf("direct download: %s", rawURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", WrapError(rawURL, err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return "", WrapError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", WrapError(rawURL, fmt.Errorf("unexpected status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}

	name := directFilename(rawURL, opts)
	path := filepath.Join(opts.OutputDir, name)

	if err := copyChunked(ctx, path, resp.Body, resp.ContentLength, directChunkSize, opts, onProgress); err != nil {
		return "", err
	}
	return path, nil
}

// copyChunked writes src to path in fixed-size chunks, checkpointing
// between chunks so pause blocks the copy and cancel unwinds it.
func copyChunked(ctx context.Context, path string, src io.Reader, total int64, chunkSize int, opts Options, onProgress func(ProgressEvent)) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, chunkSize)
	var written int64
	started := time.Now()

	for {
		if opts.checkpoint() == worker.SignalCancelled {
			return worker.ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return worker.ErrCancelled
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write chunk: %w", werr)
			}
			written += int64(n)
			if onProgress != nil {
				ev := ProgressEvent{BytesDownloaded: written, BytesTotal: total}
				if elapsed := time.Since(started).Seconds(); elapsed > 0 {
					ev.BytesPerSec = float64(written) / elapsed
				}
				onProgress(ev)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return fmt.Errorf("read stream: %w", rerr)
		}
	}

	if written == 0 {
		return fmt.Errorf("generated file is empty: %s", path)
	}
	opts.logf(fmt.Sprintf("wrote %d bytes to %s", written, path))
	if onProgress != nil {
		onProgress(ProgressEvent{BytesDownloaded: written, BytesTotal: total, Finished: true})
	}
	return nil
}

// pickFormat selects by itag when the selector is numeric, otherwise
// the best progressive (audio+video) format.
func pickFormat(formats youtube.FormatList, selector string) *youtube.Format {
	if itag, err := strconv.Atoi(selector); err == nil {
		for i := range formats {
			if formats[i].ItagNo == itag {
				return &formats[i]
			}
		}
	}
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !strings.Contains(f.MimeType, "video") || f.AudioChannels == 0 {
			continue
		}
		if best == nil || heightOf(f.QualityLabel) > heightOf(best.QualityLabel) {
			best = f
		}
	}
	return best
}

func heightOf(qualityLabel string) int {
	digits := strings.Builder{}
	for _, c := range qualityLabel {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		} else if digits.Len() > 0 {
			break
		}
	}
	v, _ := strconv.Atoi(digits.String())
	return v
}

func extFromMime(mime string) string {
	switch {
	case strings.Contains(mime, "mp4"):
		if strings.HasPrefix(mime, "audio") {
			return "m4a"
		}
		return "mp4"
	case strings.Contains(mime, "webm"):
		if strings.HasPrefix(mime, "audio") {
			return "opus"
		}
		return "webm"
	}
	return "bin"
}

func vcodecFromMime(mime string) string {
	if strings.HasPrefix(mime, "audio") {
		return "none"
	}
	if i := strings.Index(mime, `codecs="`); i >= 0 {
		rest := mime[i+len(`codecs="`):]
		if j := strings.IndexAny(rest, `,"`); j >= 0 {
			return rest[:j]
		}
	}
	return ""
}

func sanitizeFilename(name string) string {
	safe := strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	safe = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`\/:*?"<>|`, r) {
			return -1
		}
		return r
	}, safe)
	if safe == "" {
		safe = "download"
	}
	if len(safe) > 200 {
		safe = safe[:200]
	}
	return safe
}

func directFilename(rawURL string, opts Options) string {
	base := rawURL
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if j := strings.LastIndex(base, "/"); j >= 0 {
		base = base[j+1:]
	}
	if base == "" {
		base = "media"
	}
	return sanitizeFilename(base)
}
