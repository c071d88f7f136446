package catalog

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"
)

// Watcher reloads a Registry when the definition files under its directory
// change. It polls file names, sizes and modification times.
type Watcher struct {
	registry *Registry
	dir      string
	interval time.Duration
	logger   *zap.Logger
	onReload func(files int, err error)

	last uint64
}

// NewWatcher creates a watcher. interval must be positive.
func NewWatcher(r *Registry, dir string, interval time.Duration, logger *zap.Logger) (*Watcher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("catalog watcher interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		registry: r,
		dir:      dir,
		interval: interval,
		logger:   logger.With(zap.String("component", "catalog_watcher")),
	}, nil
}

// OnReload registers a callback invoked after every reload attempt.
func (w *Watcher) OnReload(fn func(files int, err error)) { w.onReload = fn }

// Run polls until ctx is done. The first poll only records the current
// state; the registry is expected to be loaded already.
func (w *Watcher) Run(ctx context.Context) error {
	fp, err := fingerprint(w.dir)
	if err != nil {
		return err
	}
	w.last = fp

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		w.poll()
	}
}

func (w *Watcher) poll() {
	fp, err := fingerprint(w.dir)
	if err != nil {
		w.logger.Warn("catalog scan failed", zap.Error(err))
		return
	}
	if fp == w.last {
		return
	}

	n, err := w.registry.Reload(w.dir)
	if err != nil {
		// Keep the old fingerprint so the next tick retries.
		w.logger.Error("catalog reload failed", zap.String("dir", w.dir), zap.Error(err))
	} else {
		w.last = fp
	}
	if w.onReload != nil {
		w.onReload(n, err)
	}
}

// fingerprint hashes the name, size and mtime of every definition file.
func fingerprint(dir string) (uint64, error) {
	var paths []string
	for _, sub := range []string{"agents", "tools"} {
		m, err := filepath.Glob(filepath.Join(dir, sub, "*.yaml"))
		if err != nil {
			return 0, err
		}
		paths = append(paths, m...)
	}
	slices.Sort(paths)

	h := fnv.New64a()
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		fmt.Fprintf(h, "%s|%d|%d\n", p, info.Size(), info.ModTime().UnixNano())
	}
	return h.Sum64(), nil
}
