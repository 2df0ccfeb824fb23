package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"virtmcp/pkg/logging"
)

// DefaultDebounceInterval is the time to wait after the last change to
// config.yaml before it is re-read.
const DefaultDebounceInterval = 500 * time.Millisecond

// WatcherConfig holds configuration for the config watcher.
type WatcherConfig struct {
	// ConfigPath is the directory containing config.yaml.
	ConfigPath string

	// Debounce defaults to DefaultDebounceInterval.
	Debounce time.Duration

	// OnChange receives every configuration that loads and validates.
	OnChange func(Config)
}

// Watcher reloads config.yaml when it changes. Invalid files are logged and
// ignored; the previous configuration stays in effect.
type Watcher struct {
	mu sync.Mutex

	config    WatcherConfig
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	debounceTimer *time.Timer
	debounceMu    sync.Mutex
}

// NewWatcher creates a watcher. Call Start to begin watching.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounceInterval
	}
	return &Watcher{config: config}
}

// Start begins watching the configuration directory. The directory must
// exist.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watching the directory catches editors that replace the file.
	if err := watcher.Add(w.config.ConfigPath); err != nil {
		watcher.Close()
		return err
	}

	w.fsWatcher = watcher
	w.stopCh = make(chan struct{})
	w.running = true

	go w.processEvents(watcher.Events, watcher.Errors)

	logging.Info("ConfigWatcher", "Watching %s for changes", FilePath(w.config.ConfigPath))
	return nil
}

// processEvents handles fsnotify events. The channels are passed in so that
// Stop can clear fsWatcher without racing.
func (w *Watcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logging.Debug("ConfigWatcher", "Config file changed: %s (%s)", event.Name, event.Op)
			w.reloadDebounced()

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("ConfigWatcher", err, "fsnotify error")
		}
	}
}

func (w *Watcher) reloadDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.config.Debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	running := w.running
	callback := w.config.OnChange
	w.mu.Unlock()
	if !running {
		return
	}

	cfg, err := LoadConfig(w.config.ConfigPath)
	if err != nil {
		logging.Error("ConfigWatcher", err, "Ignoring invalid configuration change")
		return
	}
	logging.Info("ConfigWatcher", "Configuration reloaded")
	if callback != nil {
		callback(cfg)
	}
}

// Stop stops watching. Pending reloads are cancelled.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	err := w.fsWatcher.Close()
	w.fsWatcher = nil
	return err
}
