// Package speech turns voice messages into text: it validates and
// prepares the audio, then transcribes it on a leased transcription
// device.
package speech

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"birthday_bot/devices"
)

var (
	ErrUnsupportedFormat  = errors.New("speech: unsupported audio format")
	ErrFileTooLarge       = errors.New("speech: audio file too large")
	ErrAudioTooLong       = errors.New("speech: audio too long")
	ErrEmptyAudio         = errors.New("speech: audio file is empty")
	ErrEmptyTranscription = errors.New("speech: nothing recognized")
	ErrModelNotFound      = errors.New("speech: model not served by endpoint")
)

// Model is the artifact a transcription lease carries. audioPath points
// at a prepared 16 kHz mono WAV file.
type Model interface {
	Transcribe(ctx context.Context, audioPath, language string) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, audioPath, language string) (string, error)

func (f ModelFunc) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	return f(ctx, audioPath, language)
}

type multiplier struct{ accel, cpu float64 }

var sizeMultipliers = map[string]multiplier{
	"tiny":   {0.01, 0.1},
	"base":   {0.05, 0.2},
	"small":  {0.1, 0.3},
	"medium": {0.2, 0.7},
	"large":  {0.3, 1.0},
}

// ExpectedTime estimates transcription of audio lasting duration with
// model on deviceID: max(3s, (duration+1) * multiplier).
func ExpectedTime(model, deviceID string, duration time.Duration) time.Duration {
	m, ok := sizeMultipliers[modelSize(model)]
	if !ok {
		m = sizeMultipliers["small"]
	}
	mult := m.cpu
	if devices.IsAccelerator(deviceID) {
		mult = m.accel
	}
	secs := int((duration.Seconds() + 1) * mult)
	return time.Duration(max(3, secs)) * time.Second
}

// modelSize maps names like "whisper-large-v3" or "openai/whisper-small"
// to their size class.
func modelSize(model string) string {
	m := strings.ToLower(model)
	for _, size := range []string{"medium", "large", "small", "base", "tiny"} {
		if strings.Contains(m, size) {
			return size
		}
	}
	return m
}

var artifacts = []string{
	"[BLANK_AUDIO]", "[NO_SPEECH]", "[MUSIC]", "[NOISE]",
	"♪", "♫", "(music)", "(noise)", "(silence)",
}

var punctuation = strings.NewReplacer("...", ".", "!!", "!", "??", "?", ",,", ",")

// PostProcess strips recognizer artifacts and collapses whitespace and
// doubled punctuation.
func PostProcess(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	for _, a := range artifacts {
		text = strings.ReplaceAll(text, a, "")
	}
	text = punctuation.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// roundSeconds is used for log fields.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*10) / 10
}
