package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDebounce is how long the reloader waits after the last write.
var reloadDebounce = 500 * time.Millisecond

// ReloadFunc receives a freshly loaded config and its hash.
type ReloadFunc func(cfg *Config, hash string)

// Reloader watches the config file and hands every valid revision to a
// ReloadFunc. Invalid revisions are logged and skipped.
type Reloader struct {
	watcher  *fsnotify.Watcher
	path     string
	onReload ReloadFunc
	log      logrus.FieldLogger
}

// NewReloader watches the directory holding path so editors that replace
// the file by rename are still seen.
func NewReloader(path string, onReload ReloadFunc, log logrus.FieldLogger) (*Reloader, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}
	return &Reloader{watcher: watcher, path: abs, onReload: onReload, log: log}, nil
}

// Run watches for changes until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer func() { _ = r.watcher.Close() }()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, r.reload)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.WithError(err).Warn("config watcher error")
		}
	}
}

func (r *Reloader) reload() {
	// A missing file would load as defaults.
	if _, err := os.Stat(r.path); err != nil {
		r.log.WithError(err).Warn("config file unavailable, keeping previous config")
		return
	}
	cfg, hash, err := Load(r.path)
	if err != nil {
		r.log.WithError(err).Error("config reload failed, keeping previous config")
		return
	}
	r.log.WithField("hash", hash).Info("config reloaded")
	r.onReload(cfg, hash)
}
