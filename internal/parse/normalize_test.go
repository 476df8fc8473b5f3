package parse

import "testing"

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		// YouTube shapes collapse to the video id
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "youtube:dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "youtube:dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "youtube:dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "youtube:dQw4w9WgXcQ"},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "youtube:dQw4w9WgXcQ"},

		// Bilibili BV and av ids
		{"https://www.bilibili.com/video/BV1xx411c7mD", "bilibili:BV1xx411c7mD"},
		{"https://www.bilibili.com/video/BV1xx411c7mD?spm_id_from=333", "bilibili:BV1xx411c7mD"},
		{"https://www.bilibili.com/video/av170001", "bilibili:av170001"},

		// Multi-part videos stay distinct per page
		{"https://www.bilibili.com/video/BV1xx411c7mD?p=2", "bilibili:BV1xx411c7mD/p2"},
		{"https://www.bilibili.com/video/BV1xx411c7mD?p=1", "bilibili:BV1xx411c7mD"},

		// NetEase song id
		{"https://music.163.com/#/song?id=123456", "netease:123456"},
		{"https://music.163.com/song?id=123456&userid=789", "netease:123456"},

		// Generic URLs drop query and fragment, lowercase host
		{"https://Example.COM/media/file.mp4?token=x#frag", "https://example.com/media/file.mp4"},
		{"https://example.com/media/", "https://example.com/media"},
	}

	for _, test := range tests {
		result := CanonicalKey(test.url)
		if result != test.expected {
			t.Errorf("CanonicalKey(%s) = %s, expected %s", test.url, result, test.expected)
		}
	}
}

func TestCanonicalKey_DistinctItemsStayDistinct(t *testing.T) {
	a := CanonicalKey("https://www.youtube.com/watch?v=aaaaaaaaaaa")
	b := CanonicalKey("https://www.youtube.com/watch?v=bbbbbbbbbbb")
	if a == b {
		t.Error("Different videos collapsed to the same key")
	}
}
