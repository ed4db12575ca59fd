// Package keylock serializes mutations per logical key. The match arbiter
// locks on "donor:organ" so two concurrent approvals for the same donor
// cannot interleave.
package keylock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive lock for a key. Unlock is returned rather
// than exposed as a method so a held lock cannot be released by key name
// from unrelated code.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// InProcess is a per-key mutex map for single-node deployments and tests.
type InProcess struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewInProcess() *InProcess {
	return &InProcess{locks: make(map[string]*entry)}
}

func (l *InProcess) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}, nil
}
