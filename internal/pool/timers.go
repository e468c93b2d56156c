package pool

import (
	"context"
	"sync"
)

// timerRegistry tracks every recurring timer the pool owns (elevated-session
// refresh, daily counter reset) so they can be cancelled as a single step
// before a reload. Leaving a timer behind across reloads duplicates work and
// leaks goroutines.
type timerRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{cancels: make(map[string]context.CancelFunc)}
}

// register cancels any timer already held under name and returns a fresh
// context for the replacement.
func (tr *timerRegistry) register(name string) context.Context {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if cancel, ok := tr.cancels[name]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	tr.cancels[name] = cancel
	return ctx
}

// cancel stops one timer by name.
func (tr *timerRegistry) cancel(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if cancel, ok := tr.cancels[name]; ok {
		cancel()
		delete(tr.cancels, name)
	}
}

// cancelAll stops every registered timer.
func (tr *timerRegistry) cancelAll() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for name, cancel := range tr.cancels {
		cancel()
		delete(tr.cancels, name)
	}
}

// active returns how many timers are currently registered.
func (tr *timerRegistry) active() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.cancels)
}
