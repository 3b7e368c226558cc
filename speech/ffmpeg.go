package speech

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AudioPreparer probes and converts audio files.
type AudioPreparer interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
	ConvertToWAV(ctx context.Context, in, out string) error
}

// FFmpeg shells out to ffmpeg and ffprobe.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

var ffmpegCandidates = []string{
	"/usr/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
	"/opt/homebrew/bin/ffmpeg",
}

// NewFFmpeg uses path when given, else the first well-known location that
// exists, else whatever "ffmpeg" resolves to on PATH. ffprobe is expected
// next to ffmpeg.
func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
		for _, p := range ffmpegCandidates {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	dir, base := filepath.Split(path)
	probe := dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
	return &FFmpeg{FFmpegPath: path, FFprobePath: probe}
}

// CheckInstalled runs ffmpeg -version.
func (f *FFmpeg) CheckInstalled(ctx context.Context) error {
	if err := exec.CommandContext(ctx, f.FFmpegPath, "-version").Run(); err != nil {
		return fmt.Errorf("ffmpeg not found at %s: %w", f.FFmpegPath, err)
	}
	return nil
}

// Duration reads the container duration with ffprobe.
func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	out, err := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}
	return parseProbeDuration(string(out))
}

func parseProbeDuration(out string) (time.Duration, error) {
	s := strings.TrimSpace(out)
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ConvertToWAV writes 16 kHz mono 16-bit PCM, the input format speech
// models expect.
func (f *FFmpeg) ConvertToWAV(ctx context.Context, in, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-i", in,
		"-vn",
		"-ar", "16000",
		"-ac", "1",
		"-acodec", "pcm_s16le",
		"-y",
		out,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg convert failed: %w\nOutput: %s", err, tail(string(output), 500))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
