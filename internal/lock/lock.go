// Package lock serializes ingestion runs per source, within the process and
// optionally across replicas through Redis.
package lock

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrHeld is returned when another run holds the lock for the same key.
var ErrHeld = errors.New("lock held")

// Release gives the lock back. It is safe to call more than once.
type Release func()

// Locker hands out exclusive, non-blocking locks keyed by source name.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// ─── Local ───────────────────────────────────────────────────────────────────

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire fails fast with ErrHeld when key is already locked.
func (l *Local) Acquire(_ context.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, errors.Wrapf(ErrHeld, "source %s", key)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// ─── Chain ───────────────────────────────────────────────────────────────────

// Chain acquires every locker in order and releases in reverse. If one
// fails, the ones already taken are released.
type Chain []Locker

// Acquire implements Locker.
func (c Chain) Acquire(ctx context.Context, key string) (Release, error) {
	releases := make([]Release, 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range c {
		rel, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, rel)
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
