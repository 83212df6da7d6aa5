package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(k *Keyed) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func TestKeyed_SerializesSameKey(t *testing.T) {
	k := NewKeyed()
	var active, peak int32
	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(context.Background(), "note-1")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak)
	assert.Zero(t, entries(k))
}

func TestKeyed_DifferentKeysIndependent(t *testing.T) {
	k := NewKeyed()
	releaseA, err := k.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	releaseB, err := k.Acquire(ctx, "b")
	require.NoError(t, err)
	releaseB()

	_, err = k.Acquire(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyed_AcquireHonorsContext(t *testing.T) {
	k := NewKeyed()
	release, err := k.Acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Acquire(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second call is a no-op
	assert.Zero(t, entries(k))

	again, err := k.Acquire(context.Background(), "a")
	require.NoError(t, err)
	again()
}
