// Package keylock serialises work per key inside one process. Unrelated
// keys never block each other, and entries are dropped once no caller holds
// or waits on them.
package keylock

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"sealchat/internal/domain"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// Table is a map of per-key mutexes.
type Table struct {
	m *xsync.MapOf[string, *entry]
}

var _ domain.Locker = (*Table)(nil)

// New returns an empty table.
func New() *Table {
	return &Table{m: xsync.NewMapOf[string, *entry]()}
}

// Lock blocks until key is free or ctx is done.
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	e, _ := t.m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			old = &entry{sem: make(chan struct{}, 1)}
		}
		old.refs++
		return old, false
	})

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		t.release(key)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			t.release(key)
		})
	}, nil
}

// Len returns the number of keys currently held or waited on.
func (t *Table) Len() int { return t.m.Size() }

func (t *Table) release(key string) {
	t.m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			return nil, true
		}
		old.refs--
		return old, old.refs == 0
	})
}

// Multi combines lockers. Lock acquires from each in order and releases in
// reverse.
type Multi []domain.Locker

func (m Multi) Lock(ctx context.Context, key string) (func(), error) {
	unlocks := make([]func(), 0, len(m))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range m {
		u, err := l.Lock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, u)
	}
	return release, nil
}
