package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// LockRegistry hands out one exclusive lock per queue ID. Entries are created
// on first use and dropped once nobody holds or waits for them.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: make(map[string]*keyedLock)}
}

// Acquire blocks until the lock for key is free or ctx is done.
// The returned release func is safe to call more than once.
func (r *LockRegistry) Acquire(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &keyedLock{sem: semaphore.NewWeighted(1)}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		r.unref(key, l)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.sem.Release(1)
			r.unref(key, l)
		})
	}, nil
}

func (r *LockRegistry) unref(key string, l *keyedLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, key)
	}
}

// Len returns how many queue locks are currently referenced.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
