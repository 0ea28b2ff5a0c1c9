// Package lock serializes imports, either within one process or across
// instances sharing a Redis server.
package lock

import (
	"context"
	"errors"
	"sync"
)

var ErrLockTimeout = errors.New("timed out waiting for lock")

// Locker acquires a named lock. The returned function releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Local is an in-process Locker. The zero value is ready to use.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocal() *Local { return &Local{} }

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	slot := l.slot(key)

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() { once.Do(func() { <-slot }) }, nil
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.slots == nil {
		l.slots = make(map[string]chan struct{})
	}
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}
