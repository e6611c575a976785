package service

import (
	"context"
	"path/filepath"
	"sync"
)

// CheckoutLocks serializes all work inside one checkout directory. A
// checkout is cloned, built and elaborated by one caller at a time; crawl
// workers, proof runs and verification jobs share a single instance.
type CheckoutLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewCheckoutLocks creates an empty lock set.
func NewCheckoutLocks() *CheckoutLocks {
	return &CheckoutLocks{locks: make(map[string]chan struct{})}
}

func (l *CheckoutLocks) get(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ch, ok := l.locks[key]; ok {
		return ch
	}
	ch := make(chan struct{}, 1)
	l.locks[key] = ch
	return ch
}

// Lock waits for exclusive use of the checkout of commit under dataDir and
// returns the release func. It gives up when ctx is done.
func (l *CheckoutLocks) Lock(ctx context.Context, dataDir, commit string) (func(), error) {
	key := filepath.Join(dataDir, commit)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}
	ch := l.get(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
