package janitor

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/taskvault/pkg/config"
	"github.com/fyrsmithlabs/taskvault/pkg/fsio"
)

// Event-triggered sweeps are coalesced so a burst of staging activity does
// not turn into a burst of directory walks.
const eventSweepInterval = 30 * time.Second

// Janitor removes orphaned temp and backup files under a storage root.
type Janitor struct {
	root   string
	cfg    *config.JanitorConfig
	files  *fsio.Files
	logger *zap.Logger

	watcher  *fsnotify.Watcher
	limiter  *rate.Limiter
	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithFiles overrides the file helper used for removals.
func WithFiles(files *fsio.Files) Option {
	return func(j *Janitor) {
		j.files = files
	}
}

// New creates a Janitor for the given storage root.
func New(root string, cfg *config.JanitorConfig, logger *zap.Logger, opts ...Option) (*Janitor, error) {
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if cfg == nil {
		cfg = &config.JanitorConfig{
			Interval: config.Duration(10 * time.Minute),
			MaxAge:   config.Duration(time.Hour),
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Janitor{
		root:    root,
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(eventSweepInterval), 1),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.files == nil {
		j.files = fsio.New()
	}
	return j, nil
}

// SweepOnce walks the root and removes artifacts older than the configured
// max age. Younger artifacts are skipped: they may belong to an in-flight
// transaction. Returns the number of files removed.
func (j *Janitor) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-j.cfg.MaxAge.Duration())
	removed := 0

	err := filepath.WalkDir(j.root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// Unreadable entries are logged and skipped, not fatal.
			j.logger.Warn("sweep: cannot read entry", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !fsio.IsArtifact(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}

		if err := j.files.Delete(path); err != nil {
			j.logger.Warn("sweep: failed to remove artifact", zap.String("path", path), zap.Error(err))
			return nil
		}
		j.logger.Debug("sweep: removed orphaned artifact", zap.String("path", path))
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweeping %s: %w", j.root, err)
	}

	if removed > 0 {
		j.logger.Info("sweep complete",
			zap.String("root", j.root),
			zap.Int("removed", removed))
	}
	return removed, nil
}

// Start begins periodic sweeping in a background goroutine.
//
// When watch is enabled, filesystem events under the root trigger additional
// rate-limited sweeps. Call Stop to clean up.
func (j *Janitor) Start(ctx context.Context) error {
	if j.cfg.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("creating filesystem watcher: %w", err)
		}
		j.watcher = watcher

		if err := watcher.Add(j.root); err != nil {
			_ = watcher.Close()
			j.watcher = nil
			return fmt.Errorf("watching %s: %w", j.root, err)
		}
		// Project directories already on disk get watched too. New ones are
		// picked up from create events.
		entries, err := filepath.Glob(filepath.Join(j.root, "*"))
		if err == nil {
			for _, entry := range entries {
				_ = watcher.Add(entry)
			}
		}
	}

	go j.run(ctx)
	return nil
}

// Stop stops the janitor and releases the watcher.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stop)
		if j.watcher != nil {
			_ = j.watcher.Close()
		}
	})
}

func (j *Janitor) run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval.Duration())
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if j.watcher != nil {
		events = j.watcher.Events
		errs = j.watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case <-ticker.C:
			if _, err := j.SweepOnce(ctx); err != nil {
				j.logger.Warn("periodic sweep failed", zap.Error(err))
			}
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			j.handleEvent(ctx, event)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			j.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (j *Janitor) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		// New project directories need their own watch.
		if info, err := j.files.Backend().Stat(event.Name); err == nil && info.IsDir() {
			_ = j.watcher.Add(event.Name)
			return
		}
	}

	if !fsio.IsArtifact(filepath.Base(event.Name)) {
		return
	}
	if !j.limiter.Allow() {
		return
	}
	if _, err := j.SweepOnce(ctx); err != nil {
		j.logger.Warn("event-triggered sweep failed", zap.Error(err))
	}
}
