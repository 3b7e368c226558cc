package speech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"birthday_bot/logging"
	"birthday_bot/progress"

	"go.uber.org/zap"
)

// Limits bound what the service accepts.
type Limits struct {
	Formats     []string // lower-case extensions with dot
	MaxDuration time.Duration
	MaxFileSize int64
}

func DefaultLimits() Limits {
	return Limits{
		Formats:     []string{".ogg", ".mp3", ".wav", ".m4a", ".flac"},
		MaxDuration: 60 * time.Second,
		MaxFileSize: 20 << 20,
	}
}

// ValidateFile checks extension and size.
func (l Limits) ValidateFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(l.Formats, ext) {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat audio: %w", err)
	}
	if info.Size() == 0 {
		return ErrEmptyAudio
	}
	if l.MaxFileSize > 0 && info.Size() > l.MaxFileSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, info.Size(), l.MaxFileSize)
	}
	return nil
}

// CheckDuration rejects audio longer than MaxDuration.
func (l Limits) CheckDuration(d time.Duration) error {
	if l.MaxDuration > 0 && d > l.MaxDuration {
		return fmt.Errorf("%w: %s, limit %s", ErrAudioTooLong, d.Round(time.Second), l.MaxDuration)
	}
	return nil
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Language string
	Limits   Limits
	WorkDir  string // converted files go here
	Logger   *logging.Logger
}

// Service validates, prepares and transcribes voice messages.
type Service struct {
	pool     *Pool
	prep     AudioPreparer
	language string
	limits   Limits
	workDir  string
	logger   *logging.Logger
}

func NewService(pool *Pool, prep AudioPreparer, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Service{
		pool:     pool,
		prep:     prep,
		language: cfg.Language,
		limits:   cfg.Limits,
		workDir:  workDir,
		logger:   logger.Named("speech"),
	}
}

// Request is one voice message. Duration is what the messenger reported;
// zero means probe the file.
type Request struct {
	AudioPath string
	UserID    int64
	Duration  time.Duration
	Progress  progress.Notifier
}

type Result struct {
	Text          string
	DeviceID      string
	AudioDuration time.Duration
	Elapsed       time.Duration
}

// Transcribe runs the whole voice pipeline for req. The caller owns
// req.AudioPath; the converted copy is removed before returning.
func (s *Service) Transcribe(ctx context.Context, req Request) (*Result, error) {
	notify := progress.OrNop(req.Progress)
	logger := s.logger.With(logging.UserID(req.UserID))

	if err := s.limits.ValidateFile(req.AudioPath); err != nil {
		return nil, err
	}

	dur := req.Duration
	if dur <= 0 {
		probed, err := s.prep.Duration(ctx, req.AudioPath)
		if err != nil {
			logger.Warn("Could not probe audio duration", zap.Error(err))
		} else {
			dur = probed
		}
	}
	if err := s.limits.CheckDuration(dur); err != nil {
		return nil, err
	}

	input := req.AudioPath
	wav := filepath.Join(s.workDir, fmt.Sprintf("voice_%d_%d.wav", req.UserID, time.Now().UnixNano()))
	if err := s.prep.ConvertToWAV(ctx, req.AudioPath, wav); err != nil {
		logger.Warn("Audio conversion failed, using original file", zap.Error(err))
	} else {
		input = wav
		defer func() {
			if err := os.Remove(wav); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to remove converted audio", zap.String("path", wav), zap.Error(err))
			}
		}()
	}

	expected := ExpectedTime(s.pool.Model(), s.pool.firstDevice(), dur)
	notify.Notify(progress.SpeechRecognitionStart, progress.Fields{
		progress.ExpectedTime: int(expected.Seconds()),
	})

	start := time.Now()
	raw, deviceID, err := s.pool.Transcribe(ctx, input, s.language)
	if err != nil {
		logger.Error("Transcription failed", logging.Device(deviceID), zap.Error(err))
		return nil, err
	}
	text := PostProcess(raw)
	elapsed := time.Since(start)
	if text == "" {
		return nil, ErrEmptyTranscription
	}

	notify.Notify(progress.SpeechRecognitionDone, progress.Fields{
		progress.ActualTime: progress.Elapsed(elapsed),
	})
	logger.Info("Voice message transcribed",
		logging.Device(deviceID),
		zap.Float64("audio_seconds", roundSeconds(dur)),
		zap.Int("chars", len(text)),
		zap.Duration("elapsed", elapsed))

	return &Result{Text: text, DeviceID: deviceID, AudioDuration: dur, Elapsed: elapsed}, nil
}
