package staging

// janitor.go removes stale uploads from the staging directory.
//
// Files written by Stage are only needed for the batch that follows the
// upload. The janitor runs on a ticker and deletes regular files older
// than MaxAge. Failures are logged and never stop the loop.

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// JanitorConfig holds configuration for the staging janitor.
type JanitorConfig struct {
	MaxAge        time.Duration // Age after which a staged file is removed (default: 24h)
	CheckInterval time.Duration // How often to sweep (default: 1h)
}

func (c JanitorConfig) withDefaults() JanitorConfig {
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	return c
}

// StartJanitor sweeps the staging directory immediately, then every
// CheckInterval, until ctx is cancelled.
func (r *Resolver) StartJanitor(ctx context.Context, cfg JanitorConfig) {
	if r.Dir == "" {
		return
	}
	cfg = cfg.withDefaults()
	slog.Info("staging janitor started",
		"dir", r.Dir,
		"max_age", cfg.MaxAge.String(),
		"interval", cfg.CheckInterval.String(),
	)

	r.runSweep(cfg.MaxAge)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("staging janitor stopped")
			return
		case <-ticker.C:
			r.runSweep(cfg.MaxAge)
		}
	}
}

func (r *Resolver) runSweep(maxAge time.Duration) {
	start := time.Now()
	removed, err := r.Sweep(start.Add(-maxAge))
	if err != nil {
		slog.Error("staging sweep failed", "error", err)
		return
	}
	slog.Info("staging sweep completed",
		"files_removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Sweep deletes regular files in the staging directory last modified
// before cutoff and returns how many were removed. Subdirectories are
// left alone. A missing directory is not an error.
func (r *Resolver) Sweep(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(r.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(r.Dir, e.Name())
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove staged file", "path", p, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
