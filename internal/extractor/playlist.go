package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	ytdlplib "github.com/ytget/ytdlp/v2"
)

// URL parameters and templates for YouTube playlist handling
const (
	playlistParam       = "list="
	paramSeparator      = "&"
	youtubeVideoURLTmpl = "https://www.youtube.com/watch?v=%s"

	defaultPlaylistTimeout = 60 * time.Second
)

// PlaylistItem is one child of a collection source
type PlaylistItem struct {
	VideoID string
	Title   string
	URL     string
}

// PlaylistLister fetches the item list of a collection. Split out as a
// small interface so the parse pipeline can be tested without network.
type PlaylistLister interface {
	ListItems(ctx context.Context, url string) ([]PlaylistItem, error)
}

// YouTubePlaylists lists playlist items through the ytdlp library
// client (no subprocess).
type YouTubePlaylists struct {
	timeout time.Duration
}

// NewYouTubePlaylists creates a playlist lister with the default timeout
func NewYouTubePlaylists() *YouTubePlaylists {
	return &YouTubePlaylists{timeout: defaultPlaylistTimeout}
}

// SetTimeout overrides the listing timeout
func (p *YouTubePlaylists) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		p.timeout = timeout
	}
}

// ListItems fetches all items of the playlist referenced by url
func (p *YouTubePlaylists) ListItems(ctx context.Context, url string) ([]PlaylistItem, error) {
	playlistID := ExtractPlaylistID(url)
	if playlistID == "" {
		return nil, fmt.Errorf("could not extract playlist ID from URL: %s", url)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	d := ytdlplib.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, WrapError(url, fmt.Errorf("get playlist items: %w", err))
	}

	out := make([]PlaylistItem, 0, len(items))
	for _, it := range items {
		out = append(out, PlaylistItem{
			VideoID: it.VideoID,
			Title:   it.Title,
			URL:     fmt.Sprintf(youtubeVideoURLTmpl, it.VideoID),
		})
	}
	return out, nil
}

// IsPlaylistURL reports whether the URL references a collection rather
// than a single item.
func IsPlaylistURL(url string) bool {
	return strings.Contains(url, playlistParam)
}

// ExtractPlaylistID pulls the playlist ID out of the various YouTube
// playlist URL shapes.
func ExtractPlaylistID(url string) string {
	if !strings.Contains(url, playlistParam) {
		return ""
	}
	parts := strings.Split(url, playlistParam)
	if len(parts) < 2 {
		return ""
	}
	id := parts[1]
	if strings.Contains(id, paramSeparator) {
		id = strings.Split(id, paramSeparator)[0]
	}
	return id
}
