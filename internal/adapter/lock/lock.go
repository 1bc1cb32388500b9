// Package lock provides an in-process advisory locker for steps whose
// external calls must not run concurrently. A single orchestrator instance
// owns its SQLite database, so process-local locks are sufficient.
package lock

import (
	"context"
	"sync"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// Compile-time check: Locker implements domain.Locker.
var _ domain.Locker = (*Locker)(nil)

// Locker hands out try-locks keyed by arbitrary strings. A held key makes
// TryAcquire report busy instead of blocking.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New creates an empty locker.
func New() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// TryAcquire attempts to take the lock for key. On success it returns a
// release func and ok=true; when the key is already held it returns ok=false
// without waiting.
func (l *Locker) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return func() {}, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.held, key)
		})
	}
	return release, true, nil
}
