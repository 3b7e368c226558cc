package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EnsureDirs creates the temp, image and audio directories.
func (p PathsConfig) EnsureDirs() error {
	for _, dir := range []string{p.TempDir, p.ImagesDir, p.AudioDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// NewRequestDir creates birthday_cards_<userID>_<unix> under root. When
// the name is taken by a request in the same second a numeric suffix is
// added, so concurrent requests never share a directory.
func NewRequestDir(root string, userID int64, now time.Time) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", root, err)
	}
	base := filepath.Join(root, fmt.Sprintf("birthday_cards_%d_%d", userID, now.Unix()))
	dir := base
	for i := 2; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) || i > 100 {
			return "", fmt.Errorf("create request dir: %w", err)
		}
		dir = fmt.Sprintf("%s_%d", base, i)
	}
}

// ArtifactName is the file name of the n-th image, counting from 1.
func ArtifactName(n int) string {
	return fmt.Sprintf("birthday_card_%d.png", n)
}

// CleanupStats summarizes one janitor pass.
type CleanupStats struct {
	Removed int
	Kept    int
	Errors  int
}

// CleanupOld removes direct children of each dir whose modification time
// is older than maxAge. Missing directories are skipped.
func CleanupOld(dirs []string, maxAge time.Duration, now time.Time) (CleanupStats, error) {
	var stats CleanupStats
	var errs []error
	cutoff := now.Add(-maxAge)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				stats.Errors++
				continue
			}
			if !info.ModTime().Before(cutoff) {
				stats.Kept++
				continue
			}
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				stats.Errors++
				errs = append(errs, err)
				continue
			}
			stats.Removed++
		}
	}
	return stats, errors.Join(errs...)
}

// RunJanitor calls CleanupOld every interval until ctx is done. report,
// when set, receives the result of each pass.
func RunJanitor(ctx context.Context, dirs []string, maxAge, interval time.Duration, report func(CleanupStats, error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			stats, err := CleanupOld(dirs, maxAge, now)
			if report != nil {
				report(stats, err)
			}
		}
	}
}
