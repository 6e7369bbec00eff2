package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairstake/tickets/internal/domain"
)

func TestKeyedSerialisesSameKey(t *testing.T) {
	k := NewKeyed()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Acquire(context.Background(), "pool:1:A", 0)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, k.slots, "released slots are dropped")
}

func TestKeyedHonoursContext(t *testing.T) {
	k := NewKeyed()
	unlock, err := k.Acquire(context.Background(), "x", 0)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Acquire(ctx, "x", 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type flakyLock struct{ fails int32 }

func (f *flakyLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if atomic.AddInt32(&f.fails, -1) >= 0 {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

func TestRetryingPollsUntilFree(t *testing.T) {
	inner := &flakyLock{fails: 3}
	r := NewRetrying(inner, time.Millisecond)
	unlock, err := r.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	unlock()
}
