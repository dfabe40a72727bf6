package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches ingestion input files with fsnotify, falling back
// to polling.
type FileWatcher struct {
	opts      Options
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error
	stopCh    chan struct{}

	mu      sync.Mutex
	target  target
	stopped bool
}

// New creates a watcher. It falls back to polling when fsnotify cannot be
// initialised.
func New(opts Options) (*FileWatcher, error) {
	opts = opts.WithDefaults()
	w := &FileWatcher{
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fsnotify unavailable, polling instead", slog.String("error", err.Error()))
		} else {
			w.fsWatcher = fsw
		}
	}
	return w, nil
}

// Polling reports whether the watcher uses polling.
func (w *FileWatcher) Polling() bool {
	return w.fsWatcher == nil
}

// Start watches path, a file or a directory, until ctx is done or Stop is
// called. It blocks.
func (w *FileWatcher) Start(ctx context.Context, path string) error {
	t, err := resolveTarget(path, w.opts.Extensions)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.target = t
	w.mu.Unlock()

	if w.fsWatcher == nil {
		newPoller(t, w.opts.PollInterval).run(ctx, w.stopCh, w.debouncer.Add, w.emitError)
		return ctx.Err()
	}

	if err := w.fsWatcher.Add(t.dir); err != nil {
		return fmt.Errorf("watch %s: %w", t.dir, err)
	}
	slog.Debug("watching", slog.String("dir", t.dir), slog.String("file", t.file))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func resolveTarget(path string, extensions []string) (target, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return target{}, fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return target{}, fmt.Errorf("watch target: %w", err)
	}
	if info.IsDir() {
		return target{dir: abs, extensions: extensions}, nil
	}
	return target{dir: filepath.Dir(abs), file: abs, extensions: extensions}, nil
}

// handle converts an fsnotify event for a target file.
func (w *FileWatcher) handle(event fsnotify.Event) {
	w.mu.Lock()
	t := w.target
	w.mu.Unlock()

	path := filepath.Clean(event.Name)
	if !t.matches(path) {
		return
	}

	var op Operation
	switch {
	case event.Op.Has(fsnotify.Create):
		op = OpCreate
	case event.Op.Has(fsnotify.Write):
		op = OpModify
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}
	w.debouncer.Add(FileEvent{Path: path, Operation: op, Timestamp: time.Now()})
}

// Events returns debounced batches of changes. The channel is closed by Stop.
func (w *FileWatcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors.
func (w *FileWatcher) Errors() <-chan error {
	return w.errors
}

func (w *FileWatcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
		slog.Warn("watcher error dropped", slog.String("error", err.Error()))
	}
}

// Stop stops watching and closes the event channel. Safe to call multiple
// times.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}
