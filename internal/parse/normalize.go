package parse

import (
	"net/url"
	"regexp"
	"strings"
)

// Canonical key derivation. Different URL shapes of the same item must
// collapse to one key so the dedup cache works on identity, not on the
// raw input string.

var (
	youtubeIDPattern  = regexp.MustCompile(`(?:v=|/embed/|/shorts/|youtu\.be/)([A-Za-z0-9_-]{11})`)
	bilibiliBVPattern = regexp.MustCompile(`(BV[0-9A-Za-z]{10})`)
	bilibiliAVPattern = regexp.MustCompile(`/(av\d+)`)
	neteaseIDPattern  = regexp.MustCompile(`[?&#]id=(\d+)`)
)

// CanonicalKey reduces a raw URL to the identity of the item it points
// at: video id for YouTube, BV/av id for Bilibili, song id for NetEase,
// otherwise scheme, host, and path with query and fragment dropped.
func CanonicalKey(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)

	if m := youtubeIDPattern.FindStringSubmatch(trimmed); m != nil {
		return "youtube:" + m[1]
	}

	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "bilibili.com") || strings.Contains(lower, "b23.tv") {
		if m := bilibiliBVPattern.FindStringSubmatch(trimmed); m != nil {
			return "bilibili:" + m[1] + bilibiliPart(trimmed)
		}
		if m := bilibiliAVPattern.FindStringSubmatch(trimmed); m != nil {
			return "bilibili:" + m[1] + bilibiliPart(trimmed)
		}
	}

	if strings.Contains(lower, "music.163.com") {
		if m := neteaseIDPattern.FindStringSubmatch(trimmed); m != nil {
			return "netease:" + m[1]
		}
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return trimmed
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimSuffix(u.Path, "/")
}

// bilibiliPart preserves the part number of multi-part videos: page 2
// of a BV is a different item than page 1.
func bilibiliPart(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	p := u.Query().Get("p")
	if p == "" || p == "1" {
		return ""
	}
	return "/p" + p
}
