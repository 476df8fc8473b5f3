package compress

import (
	"path/filepath"
	"testing"
)

func TestOutputPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/downloads/video.webm", "/downloads/video-compressed.mp4"},
		{"/downloads/video.mp4", "/downloads/video-compressed.mp4"},
		{"/downloads/no-ext", "/downloads/no-ext-compressed.mp4"},
	}
	for _, tt := range tests {
		if got := OutputPath(tt.input); got != tt.expected {
			t.Errorf("OutputPath(%s) = %s, expected %s", tt.input, got, tt.expected)
		}
	}
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs("/in.webm", "/out.mp4")

	if args[0] != "-y" {
		t.Error("Expected overwrite flag first")
	}
	if args[len(args)-1] != "/out.mp4" {
		t.Errorf("Expected output path last, got %s", args[len(args)-1])
	}

	has := func(flag, value string) bool {
		for i := 0; i < len(args)-1; i++ {
			if args[i] == flag && args[i+1] == value {
				return true
			}
		}
		return false
	}
	if !has("-i", "/in.webm") {
		t.Error("Missing input argument")
	}
	if !has("-c:v", videoCodec) || !has("-c:a", audioCodec) {
		t.Error("Missing codec arguments")
	}
	if !has("-progress", "pipe:2") {
		t.Error("Missing progress pipe argument")
	}
}

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		line     string
		duration float64
		percent  int
		ok       bool
	}{
		{"out_time_us=30000000", 60, 50, true},
		{"out_time_us=90000000", 60, 100, true}, // clamp past the end
		{"out_time_us=0", 60, 0, true},
		{"out_time_us=abc", 60, 0, false},
		{"frame=120", 60, 0, false},
		{"out_time_us=30000000", 0, 0, false}, // unknown duration
	}
	for _, tt := range tests {
		percent, ok := parseProgressLine(tt.line, tt.duration)
		if ok != tt.ok || percent != tt.percent {
			t.Errorf("parseProgressLine(%q, %v) = (%d, %v), expected (%d, %v)",
				tt.line, tt.duration, percent, ok, tt.percent, tt.ok)
		}
	}
}

func TestNewService_FFprobeBesideFFmpeg(t *testing.T) {
	s := NewService("/opt/ffmpeg/bin/ffmpeg")
	if s.FFprobePath != filepath.Join("/opt/ffmpeg/bin", "ffprobe") {
		t.Errorf("Expected ffprobe beside ffmpeg, got %s", s.FFprobePath)
	}

	def := NewService("")
	if def.FFmpegPath != "ffmpeg" || def.FFprobePath != "ffprobe" {
		t.Errorf("Expected PATH lookup defaults, got %s / %s", def.FFmpegPath, def.FFprobePath)
	}
}
