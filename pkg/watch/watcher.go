// Package watch reloads a mapping file when it changes on disk and publishes
// the new table to a rewrite.Rewriter.
package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ha1tch/qmap/pkg/errors"
	"github.com/ha1tch/qmap/pkg/log"
	"github.com/ha1tch/qmap/pkg/mapping"
	"github.com/ha1tch/qmap/pkg/rewrite"
)

// Watcher monitors one mapping file and triggers reloads.
type Watcher struct {
	mu sync.Mutex

	path     string
	rewriter *rewrite.Rewriter
	logger   *log.FieldLogger
	loadOpts []mapping.LoadOption

	fsWatcher *fsnotify.Watcher

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Events arriving within debounceDelay of each other cause one reload.
	debounceDelay time.Duration
	eventTimer    *time.Timer

	onReload func(table *mapping.Table)
	onError  func(err error)
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for batching file events.
// Default is 100ms.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// WithOnReload sets a callback invoked after a new table is published.
func WithOnReload(fn func(table *mapping.Table)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// WithOnError sets a callback for failed reloads and watcher errors.
func WithOnError(fn func(err error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// WithLoadOptions passes options through to mapping.LoadFile on reload.
func WithLoadOptions(opts ...mapping.LoadOption) WatcherOption {
	return func(w *Watcher) {
		w.loadOpts = append(w.loadOpts, opts...)
	}
}

// NewWatcher creates a watcher for the mapping file at path.
func NewWatcher(path string, rw *rewrite.Rewriter, logger *log.Logger, opts ...WatcherOption) (*Watcher, error) {
	if rw == nil {
		return nil, errors.InvalidArgument("rewriter", "must not be nil").WithOp("watch.NewWatcher").Err()
	}
	if logger == nil {
		logger = log.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeWatch, "cannot resolve %s", path).Err()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeWatch, "failed to create file watcher").Err()
	}

	w := &Watcher{
		path:          abs,
		rewriter:      rw,
		logger:        logger.System().WithFields("path", abs),
		fsWatcher:     fsw,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		debounceDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.loadOpts = append([]mapping.LoadOption{mapping.WithLogger(logger)}, w.loadOpts...)

	return w, nil
}

// Start begins watching. The directory holding the file is watched rather
// than the file itself, so editors that save by renaming are still seen.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	dir := filepath.Dir(w.path)
	if err := w.fsWatcher.Add(dir); err != nil {
		w.mu.Unlock()
		return errors.Wrapf(err, errors.ErrCodeWatch, "failed to watch %s", dir).
			WithField("path", w.path).
			Err()
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("config watcher started")

	go w.processEvents()
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.logger.Info("config watcher stopped")
	return w.fsWatcher.Close()
}

// IsRunning returns whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			w.mu.Lock()
			if w.eventTimer != nil {
				w.eventTimer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.reportError(errors.Wrap(err, errors.ErrCodeWatch, "watcher error").Err())
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	w.logger.Debug("config file event", "op", event.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.eventTimer != nil {
		w.eventTimer.Stop()
	}
	w.eventTimer = time.AfterFunc(w.debounceDelay, w.reload)
}

// reload builds a fresh table from disk. On failure the published table is
// left in place.
func (w *Watcher) reload() {
	table, err := mapping.LoadFile(w.path, w.loadOpts...)
	if err != nil {
		w.reportError(err)
		return
	}

	w.rewriter.Swap(table)
	w.logger.Info("mapping table reloaded", "commands", table.Len())

	if w.onReload != nil {
		w.onReload(table)
	}
}

func (w *Watcher) reportError(err error) {
	w.logger.Error("config reload failed, keeping previous table", err)
	if w.onError != nil {
		w.onError(err)
	}
}
