// Package reload watches the external settings file and applies recognized
// variable changes to the process environment, clearing the durable account
// store when the credential set itself rotates and then notifying
// registered callbacks.
package reload

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/credmux/credmux/internal/config"
	"github.com/credmux/credmux/internal/envfile"
	"github.com/credmux/credmux/internal/watcher"
)

// debounceWindow is how long after the last write a reload is triggered.
// Editors often produce bursts of writes; each write restarts the window.
const debounceWindow = 500 * time.Millisecond

// AccountStore is the slice of the durable store the watcher needs: a full
// wipe when the credential set changes.
type AccountStore interface {
	ClearAll() bool
}

// Callback runs after a settings change has been applied. Errors are logged
// and never abort remaining callbacks.
type Callback func() error

// Watcher observes the settings file and coordinates live reload.
type Watcher struct {
	path  string
	store AccountStore

	mu        sync.Mutex
	fw        *watcher.Watcher
	callbacks []Callback
}

// New creates a Watcher for the settings file at path.
func New(path string, store AccountStore) *Watcher {
	return &Watcher{path: path, store: store}
}

// OnReload registers a callback invoked after each applied change, in
// registration order.
func (w *Watcher) OnReload(cb Callback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// StartWatching begins observing the settings file. A missing file or an
// already-active watch is a logged no-op.
func (w *Watcher) StartWatching() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fw != nil {
		log.Printf("RELOAD: watch already active path=%s", w.path)
		return
	}
	if _, err := os.Stat(w.path); err != nil {
		log.Printf("RELOAD: settings file not found, watch skipped path=%s", w.path)
		return
	}

	fw, err := watcher.New(
		func([]watcher.Event) {
			if _, err := w.Reload(); err != nil {
				log.Printf("RELOAD: reload failed path=%s err=%v", w.path, err)
			}
		},
		watcher.WithDebouncer(watcher.NewDebouncer(debounceWindow)),
		watcher.WithEventFilter(watcher.Write|watcher.Create),
		watcher.WithErrorHandler(func(err error) {
			log.Printf("RELOAD: watch error path=%s err=%v", w.path, err)
		}),
	)
	if err != nil {
		log.Printf("RELOAD: starting watcher failed path=%s err=%v", w.path, err)
		return
	}
	if err := fw.Add(w.path); err != nil {
		log.Printf("RELOAD: watching settings file failed path=%s err=%v", w.path, err)
		fw.Close()
		return
	}

	w.fw = fw
	log.Printf("RELOAD: watching settings file path=%s", w.path)
}

// StopWatching cancels the file watch and any pending debounce.
func (w *Watcher) StopWatching() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fw == nil {
		return
	}
	if err := w.fw.Close(); err != nil {
		log.Printf("RELOAD: stopping watcher path=%s err=%v", w.path, err)
	}
	w.fw = nil
}

// Reload parses the settings file, applies every variable that differs from
// the current process environment, and reports whether anything changed.
// When the credential-set variable changed, the durable store is wiped
// before callbacks run: a full credential swap invalidates all prior
// account identities.
func (w *Watcher) Reload() (bool, error) {
	vars, err := envfile.Parse(w.path)
	if err != nil {
		return false, err
	}

	var changed []string
	for key, value := range vars {
		if os.Getenv(key) == value {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			log.Printf("RELOAD: setting %s failed err=%v", key, err)
			continue
		}
		changed = append(changed, key)
	}

	if len(changed) == 0 {
		return false, nil
	}
	log.Printf("RELOAD: settings changed keys=%d path=%s", len(changed), w.path)

	for _, key := range changed {
		if key == config.EnvCookies {
			log.Printf("RELOAD: credential set rotated, clearing account store")
			w.store.ClearAll()
			break
		}
	}

	w.mu.Lock()
	callbacks := make([]Callback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(); err != nil {
			log.Printf("RELOAD: callback failed err=%v", err)
		}
	}
	return true, nil
}
