package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultPollInterval is how often the watcher re-examines the file when no
// interval option is given.
const defaultPollInterval = 5 * time.Second

// fileState identifies the last accepted version of the config file. The
// mtime gates the cheap path; the hash decides whether content really changed.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// Watcher polls a config file and reports content changes through a callback.
// Polling keeps the watcher portable; an assessment station reloads its
// config rarely enough that inotify would buy nothing.
//
// A file revision that fails [Config.Validate] is logged and discarded, so
// [Watcher.Current] always returns a config that validated at load time.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	seen    fileState

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides the polling interval. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it for changes.
// onChange runs on the polling goroutine with the previous and new config
// whenever the file's content changes to a valid revision; it may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, state, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.seen = state

	go w.run()
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop terminates the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if old, new, changed := w.reload(); changed && w.onChange != nil {
				w.onChange(old, new)
			}
		}
	}
}

// reload re-reads the file if its mtime moved and swaps in the new config
// when the content hash differs and the revision validates. It reports the
// old and new configs so the callback can run without holding the lock.
func (w *Watcher) reload() (old, new *Config, changed bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return nil, nil, false
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.mtime)
	w.mu.Unlock()
	if unchanged {
		return nil, nil, false
	}

	cfg, state, err := w.load()
	if err != nil {
		// Keep serving the last good revision.
		slog.Warn("config watcher: rejected revision", "path", w.path, "err", err)
		return nil, nil, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if state.hash == w.seen.hash {
		// Touched but identical, e.g. an editor rewrote the file in place.
		w.seen.mtime = state.mtime
		return nil, nil, false
	}

	old = w.current
	w.current = cfg
	w.seen = state
	slog.Info("config watcher: configuration reloaded", "path", w.path)
	return old, cfg, true
}

// load reads, parses and validates the file, returning the config together
// with the file state that produced it.
func (w *Watcher) load() (*Config, fileState, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}

	return cfg, fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
