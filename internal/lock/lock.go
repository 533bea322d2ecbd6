// Package lock serializes read-modify-write cycles on a single entity.
package lock

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker acquires an exclusive lock on a key. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// AccountKey returns the lock key of an account
func AccountKey(id uuid.UUID) string {
	return "lock:account:" + id.String()
}

// VideoKey returns the lock key of a video
func VideoKey(id uuid.UUID) string {
	return "lock:video:" + id.String()
}

type entry struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Entries are dropped once unused.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewLocal creates a Local locker
func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// size returns the number of tracked keys
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
