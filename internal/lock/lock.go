// Package lock provides per-key mutual exclusion for challenge mutations.
// Keys are independent: holding one never blocks another.
package lock

import (
	"context"
	"sync"
)

// Locker serializes work on a single key. The returned unlock function is
// safe to call more than once. It returns ErrLockLost if exclusion ended
// before the call, which only a lease-based Locker can report.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func() error, err error)
}

// Keyed is an in-process Locker. Entries are reference counted and removed
// once no goroutine holds or waits for them.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewKeyed creates an empty in-process locker.
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (k *Keyed) Lock(ctx context.Context, key string) (func() error, error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() error {
		once.Do(func() {
			<-e.sem
			k.release(key, e)
		})
		return nil
	}, nil
}

func (k *Keyed) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// size reports the number of live entries.
func (k *Keyed) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Compile-time interface check.
var _ Locker = (*Keyed)(nil)
