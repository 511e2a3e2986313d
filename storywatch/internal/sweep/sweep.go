// Package sweep reclaims media files that stayed in the download directory,
// typically after a failed send.
package sweep

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Result reports one sweep.
type Result struct {
	Scanned int
	Removed int
	Bytes   int64
	Errors  int
}

// Sweeper deletes regular files older than a retention window under a root
// directory. Dot files (the instance lock among them) are never touched.
type Sweeper struct {
	root      string
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a Sweeper. A retention <= 0 disables removal.
func New(root string, retention, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{root: root, retention: retention, interval: interval, logger: logger}
}

// Enabled reports whether the sweeper removes anything at all.
func (sw *Sweeper) Enabled() bool { return sw.retention > 0 }

// Run sweeps once per interval until ctx is done.
func (sw *Sweeper) Run(ctx context.Context) {
	if !sw.Enabled() {
		sw.logger.Info("sweeper: disabled")
		return
	}
	sw.logger.Info("sweeper: started", "root", sw.root, "retention", sw.retention, "interval", sw.interval)
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("sweeper: stopped")
			return
		case now := <-ticker.C:
			res := sw.SweepOnce(now)
			if res.Removed > 0 || res.Errors > 0 {
				sw.logger.Info("sweeper: cycle done",
					"scanned", res.Scanned, "removed", res.Removed, "bytes", res.Bytes, "errors", res.Errors)
			}
		}
	}
}

// SweepOnce removes files last modified before now-retention.
func (sw *Sweeper) SweepOnce(now time.Time) Result {
	var res Result
	if !sw.Enabled() {
		return res
	}
	cutoff := now.Add(-sw.retention)

	err := filepath.WalkDir(sw.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			res.Errors++
			sw.logger.Warn("sweeper: walk", "path", path, "error", err)
			return nil
		}
		if path != sw.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		res.Scanned++
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			res.Errors++
			sw.logger.Warn("sweeper: remove", "path", path, "error", err)
			return nil
		}
		res.Removed++
		res.Bytes += info.Size()
		sw.logger.Debug("sweeper: removed", "path", path, "age", now.Sub(info.ModTime()).Round(time.Second))
		return nil
	})
	if err != nil {
		sw.logger.Warn("sweeper: walk root", "root", sw.root, "error", err)
	}
	return res
}
