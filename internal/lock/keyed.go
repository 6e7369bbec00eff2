// Package lock provides in-process keyed locks that satisfy
// domain.LockManager, plus a retrying adapter for non-blocking managers.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fairstake/tickets/internal/domain"
)

// Keyed serialises callers per key. Acquire blocks until the key is free or
// the context ends. The ttl argument is ignored: an in-process holder cannot
// disappear without releasing.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch  chan struct{}
	ref int
}

var _ domain.LockManager = (*Keyed)(nil)

// NewKeyed creates an empty Keyed lock set.
func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

// Acquire takes the lock for key.
func (k *Keyed) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.ref++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, s)
		return nil, fmt.Errorf("lock: acquire %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.release(key, s)
		})
	}, nil
}

func (k *Keyed) release(key string, s *slot) {
	k.mu.Lock()
	s.ref--
	if s.ref == 0 {
		delete(k.slots, key)
	}
	k.mu.Unlock()
}

// Retrying wraps a LockManager whose Acquire fails fast with
// domain.ErrLockHeld and polls it until the lock is obtained.
type Retrying struct {
	inner    domain.LockManager
	interval time.Duration
}

var _ domain.LockManager = (*Retrying)(nil)

// NewRetrying polls inner every interval.
func NewRetrying(inner domain.LockManager, interval time.Duration) *Retrying {
	if interval <= 0 {
		interval = 25 * time.Millisecond
	}
	return &Retrying{inner: inner, interval: interval}
}

// Acquire retries until the lock is free or ctx ends.
func (r *Retrying) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		unlock, err := r.inner.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock: acquire %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// PoolKey is the lock name guarding a pool's stake set and its draw state
// machine.
func PoolKey(key domain.PoolKey) string { return "pool:" + key.String() }

// StakeKey is the lock name serialising claims on one stake.
func StakeKey(id domain.StakeID) string { return fmt.Sprintf("stake:%d", id) }
