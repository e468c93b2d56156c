// Package watcher provides file watching with debouncing using fsnotify.
package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned when operations are called on a closed Watcher.
var ErrClosed = errors.New("watcher: watcher is closed")

// EventType represents the type of file system event.
type EventType uint32

const (
	// Create is triggered when a file is created.
	Create EventType = 1 << iota
	// Write is triggered when a file is modified.
	Write
	// Remove is triggered when a file is removed.
	Remove
	// Rename is triggered when a file is renamed.
	Rename
	// Chmod is triggered when file permissions change.
	Chmod
	// All events.
	All = Create | Write | Remove | Rename | Chmod
)

// Event represents a file system event.
type Event struct {
	// Path is the absolute path to the file.
	Path string
	// Type is the type of event.
	Type EventType
}

// eventTypeFromFsnotify converts fsnotify.Op to EventType.
func eventTypeFromFsnotify(op fsnotify.Op) EventType {
	var t EventType
	if op.Has(fsnotify.Create) {
		t |= Create
	}
	if op.Has(fsnotify.Write) {
		t |= Write
	}
	if op.Has(fsnotify.Remove) {
		t |= Remove
	}
	if op.Has(fsnotify.Rename) {
		t |= Rename
	}
	if op.Has(fsnotify.Chmod) {
		t |= Chmod
	}
	return t
}

// Handler is called when a file system event occurs.
// Multiple events may be coalesced into a single call due to debouncing.
type Handler func(events []Event)

// ErrorHandler is called when a watch error occurs.
type ErrorHandler func(err error)

// Watcher watches files for changes and delivers debounced batches to a
// handler.
type Watcher struct {
	fsWatcher    *fsnotify.Watcher
	debouncer    *Debouncer
	handler      Handler
	errorHandler ErrorHandler
	eventFilter  EventType

	mu            sync.Mutex
	watchedPaths  map[string]bool
	pendingEvents []Event
	closed        bool
}

// New creates a new Watcher. By default all event types are watched; use
// WithEventFilter to narrow them.
func New(handler Handler, opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher:    fsWatcher,
		debouncer:    NewDebouncer(DefaultDebounceDuration),
		handler:      handler,
		eventFilter:  All,
		watchedPaths: make(map[string]bool),
	}

	for _, opt := range opts {
		opt(w)
	}

	go w.run()

	return w, nil
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebouncer sets a custom debouncer.
func WithDebouncer(d *Debouncer) Option {
	return func(w *Watcher) {
		if d != nil {
			w.debouncer = d
		}
	}
}

// WithEventFilter sets which event types to watch.
func WithEventFilter(filter EventType) Option {
	return func(w *Watcher) {
		w.eventFilter = filter
	}
}

// WithErrorHandler sets the error handler.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(w *Watcher) {
		w.errorHandler = handler
	}
}

// Add adds a file path to the watcher.
func (w *Watcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if w.watchedPaths[absPath] {
		return nil // Already watching
	}

	if _, err := os.Stat(absPath); err != nil {
		return err
	}

	if err := w.fsWatcher.Add(absPath); err != nil {
		return err
	}
	w.watchedPaths[absPath] = true

	return nil
}

// Remove removes a path from the watcher.
func (w *Watcher) Remove(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if !w.watchedPaths[absPath] {
		return nil // Not watching
	}

	if err := w.fsWatcher.Remove(absPath); err != nil {
		return err
	}
	delete(w.watchedPaths, absPath)

	return nil
}

// Close stops the watcher, cancels any pending debounce, and releases
// resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.debouncer.Cancel()
	return w.fsWatcher.Close()
}

// run processes events from fsnotify.
func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if w.errorHandler != nil {
				w.errorHandler(err)
			}
		}
	}
}

// handleEvent filters and queues a single fsnotify event, restarting the
// debounce window.
func (w *Watcher) handleEvent(fsEvent fsnotify.Event) {
	eventType := eventTypeFromFsnotify(fsEvent.Op)

	if eventType&w.eventFilter == 0 {
		return
	}

	event := Event{
		Path: fsEvent.Name,
		Type: eventType,
	}

	// A removed or renamed file is no longer watched.
	if eventType&Remove != 0 || eventType&Rename != 0 {
		w.mu.Lock()
		delete(w.watchedPaths, fsEvent.Name)
		w.mu.Unlock()
	}

	w.mu.Lock()
	w.pendingEvents = append(w.pendingEvents, event)
	w.mu.Unlock()

	w.debouncer.Trigger(func() {
		w.mu.Lock()
		toDeliver := w.pendingEvents
		w.pendingEvents = nil
		w.mu.Unlock()

		if len(toDeliver) > 0 && w.handler != nil {
			w.handler(toDeliver)
		}
	})
}

// DefaultDebounceDuration is the debounce window used when none is given.
const DefaultDebounceDuration = 250 * time.Millisecond

// Debouncer coalesces rapid triggers into a single callback. Each Trigger
// restarts the window, so the callback fires only after the window passes
// without further triggers.
type Debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	timer    *time.Timer
}

// NewDebouncer creates a Debouncer with the given window.
func NewDebouncer(d time.Duration) *Debouncer {
	if d <= 0 {
		d = DefaultDebounceDuration
	}
	return &Debouncer{duration: d}
}

// Trigger schedules fn after the debounce window, replacing any pending
// callback.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, fn)
}

// Cancel stops any pending callback.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
