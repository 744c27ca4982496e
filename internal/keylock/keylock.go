// Package keylock provides in-process exclusive locks keyed by string.
package keylock

import (
	"context"
	"slices"
	"sync"
)

type keyEntry struct {
	ch   chan struct{}
	refs int
}

// Locker hands out per-key mutexes that are released when unused.
type Locker struct {
	mu   sync.Mutex
	keys map[string]*keyEntry
}

// New creates a Locker.
func New() *Locker {
	return &Locker{keys: make(map[string]*keyEntry)}
}

// Lock acquires every key in sorted order, blocking until all are held or ctx is done.
// The returned release func unlocks them.
func (l *Locker) Lock(ctx context.Context, keys ...string) (func(), error) {
	sorted := normalize(keys)

	held := make([]string, 0, len(sorted))
	for _, k := range sorted {
		if err := l.lockOne(ctx, k); err != nil {
			l.unlock(held)
			return nil, err
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() { once.Do(func() { l.unlock(held) }) }, nil
}

// TryLock acquires every key without blocking. It returns false if any key is held.
func (l *Locker) TryLock(keys ...string) (func(), bool) {
	sorted := normalize(keys)

	held := make([]string, 0, len(sorted))
	for _, k := range sorted {
		e := l.acquire(k)
		select {
		case e.ch <- struct{}{}:
			held = append(held, k)
		default:
			l.releaseRef(k)
			l.unlock(held)
			return nil, false
		}
	}

	var once sync.Once
	return func() { once.Do(func() { l.unlock(held) }) }, true
}

// IsLocked reports whether key is currently held.
func (l *Locker) IsLocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	return ok && len(e.ch) > 0
}

func (l *Locker) lockOne(ctx context.Context, key string) error {
	e := l.acquire(key)
	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.releaseRef(key)
		return ctx.Err()
	}
}

func (l *Locker) acquire(key string) *keyEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok {
		e = &keyEntry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) releaseRef(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

func (l *Locker) unlock(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		e := l.keys[keys[i]]
		l.mu.Unlock()
		<-e.ch
		l.releaseRef(keys[i])
	}
}

func normalize(keys []string) []string {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}
