package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mini-broker/log"
)

// Watcher reloads the config file whenever it is written and hands the
// rebuilt Config to a callback. Invalid files are logged and ignored.
type Watcher struct {
	path     string
	base     Config
	changed  map[string]bool
	onChange func(Config)
	logger   log.Logger
	delay    time.Duration

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher watches path. base is the config before the file was applied
// (defaults plus flags); environment variables are re-applied on every reload.
func NewWatcher(path string, base Config, changed map[string]bool, onChange func(Config), logger log.Logger) *Watcher {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Watcher{
		path:     path,
		base:     base,
		changed:  changed,
		onChange: onChange,
		logger:   logger,
		delay:    100 * time.Millisecond,
	}
}

// Run watches until ctx is done. The directory is watched rather than the
// file so editors that replace the file are handled too.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	name := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			w.stopDebounce()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", log.Err(err))
		}
	}
}

func (w *Watcher) debounceReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.delay, w.reload)
}

func (w *Watcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}

func (w *Watcher) reload() {
	cfg, err := Reload(w.path, w.base, w.changed)
	if err != nil {
		w.logger.Warn("config reload rejected", log.String("path", w.path), log.Err(err))
		return
	}
	w.logger.Info("config reloaded", log.String("path", w.path))
	w.onChange(cfg)
}

// Reload rebuilds a Config from base, the file at path and the environment.
func Reload(path string, base Config, changed map[string]bool) (Config, error) {
	cfg := base
	cfg.EtcdEndpoints = append([]string(nil), base.EtcdEndpoints...)

	fc, err := LoadFileConfig(path)
	if err != nil {
		return Config{}, err
	}
	if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
		return Config{}, err
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
