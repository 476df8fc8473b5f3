// Package compress re-encodes a downloaded file to a smaller H.264/AAC
// MP4 with ffmpeg. It is an optional post-download step; task lifecycle
// and cancellation belong to the caller, so Run is synchronous and
// stops with its context.
package compress

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Encoder settings
const (
	videoCodec   = "libx264"
	videoPreset  = "medium"
	videoCRF     = "23"
	audioCodec   = "aac"
	audioBitrate = "128k"

	outputSuffix = "-compressed"
	outputExt    = ".mp4"

	progressTimePrefix = "out_time_us="
)

// Service runs ffmpeg compressions. FFmpegPath and FFprobePath default
// to the bare command names resolved through PATH.
type Service struct {
	FFmpegPath  string
	FFprobePath string
}

// NewService returns a service using the given ffmpeg binary, or PATH
// lookup when path is empty. ffprobe is expected next to ffmpeg.
func NewService(path string) *Service {
	s := &Service{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
	if path != "" {
		s.FFmpegPath = path
		s.FFprobePath = filepath.Join(filepath.Dir(path), "ffprobe")
	}
	return s
}

// Run re-encodes inputPath and returns the output path. onProgress
// receives 0..100 samples parsed from the ffmpeg progress stream. A
// cancelled context removes the partial output.
func (s *Service) Run(ctx context.Context, inputPath string, onProgress func(percent int)) (string, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return "", fmt.Errorf("compress input: %w", err)
	}
	outputPath := OutputPath(inputPath)

	duration, err := s.probeDuration(ctx, inputPath)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, s.FFmpegPath, buildArgs(inputPath, outputPath)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("compress stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start ffmpeg: %w", err)
	}

	go watchProgress(stderr, duration, onProgress)

	if err := cmd.Wait(); err != nil {
		os.Remove(outputPath)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg failed: %w", err)
	}
	return outputPath, nil
}

// probeDuration reads the container duration in seconds via ffprobe
func (s *Service) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, s.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return duration, nil
}

func buildArgs(inputPath, outputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-crf", videoCRF,
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-movflags", "+faststart",
		"-progress", "pipe:2",
		"-nostats",
		outputPath,
	}
}

// watchProgress converts the ffmpeg key=value progress stream into
// percent samples.
func watchProgress(r io.ReadCloser, totalDuration float64, onProgress func(int)) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		percent, ok := parseProgressLine(strings.TrimSpace(scanner.Text()), totalDuration)
		if ok && onProgress != nil {
			onProgress(percent)
		}
	}
}

// parseProgressLine extracts a percent from one "out_time_us=N" line
func parseProgressLine(line string, totalDuration float64) (int, bool) {
	if !strings.HasPrefix(line, progressTimePrefix) || totalDuration <= 0 {
		return 0, false
	}
	us, err := strconv.ParseInt(strings.TrimPrefix(line, progressTimePrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	percent := int(float64(us) / 1e6 / totalDuration * 100)
	if percent > 100 {
		percent = 100
	}
	return percent, true
}

// OutputPath derives the compressed file name next to the input
func OutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	return strings.TrimSuffix(inputPath, ext) + outputSuffix + outputExt
}
