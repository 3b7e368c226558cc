package shutdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"birthday_bot/core"
	"birthday_bot/logging"

	"go.uber.org/zap"
)

// RemoveMatching returns a hook deleting the files in dir that match
// pattern, such as partial uploads left by interrupted requests. Failures
// are logged and never fail the shutdown.
func RemoveMatching(logger *logging.Logger, dir, pattern string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			logger.Warn("Bad cleanup pattern", zap.String("pattern", pattern), zap.Error(err))
			return nil
		}
		removed, failed := 0, 0
		for _, path := range matches {
			if ctx.Err() != nil {
				logger.Warn("Cleanup interrupted", zap.String("dir", dir), zap.Int("removed", removed))
				return nil
			}
			if err := os.RemoveAll(path); err != nil {
				failed++
				logger.Warn("Failed to remove file", zap.String("path", path), zap.Error(err))
				continue
			}
			removed++
		}
		if removed+failed > 0 {
			logger.Info("Removed leftover files", zap.String("dir", dir), zap.Int("removed", removed), zap.Int("failed", failed))
		}
		return nil
	}
}

// RemoveAged returns a hook running one core.CleanupOld pass over dirs.
func RemoveAged(logger *logging.Logger, dirs []string, maxAge time.Duration) core.ShutdownFunc {
	return func(ctx context.Context) error {
		if maxAge <= 0 {
			return nil
		}
		stats, err := core.CleanupOld(dirs, maxAge, time.Now())
		if err != nil {
			logger.Warn("Final temp cleanup had errors", zap.Int("errors", stats.Errors), zap.Error(err))
		}
		if stats.Removed > 0 {
			logger.Info("Removed expired request directories", zap.Int("removed", stats.Removed))
		}
		return nil
	}
}

// ErrWorkerTimeout means a background worker did not stop before the hook
// context expired.
var ErrWorkerTimeout = errors.New("shutdown: worker did not stop in time")

// StopWorker returns a hook that cancels a background goroutine and waits
// for it to close done.
func StopWorker(cancel context.CancelFunc, done <-chan struct{}) core.ShutdownFunc {
	return func(ctx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ErrWorkerTimeout
		}
	}
}

// Go starts fn in a goroutine bound to a child of parent and returns a
// hook that stops it.
func Go(parent context.Context, fn func(ctx context.Context)) core.ShutdownFunc {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return StopWorker(cancel, done)
}
