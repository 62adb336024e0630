package locker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdered(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, Ordered([]string{"C", "A", "", "B", "A"}))
	assert.Empty(t, Ordered(nil))
}

func TestAcquire_ExclusivePerAccount(t *testing.T) {
	l := New(time.Second, 0, nil)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := l.Acquire(context.Background(), []string{"S-1"})
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
			h.Release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestAcquire_OppositeOrderDoesNotDeadlock(t *testing.T) {
	l := New(2*time.Second, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h, err := l.Acquire(context.Background(), []string{"A", "B"})
			if assert.NoError(t, err) {
				h.Release()
			}
		}()
		go func() {
			defer wg.Done()
			h, err := l.Acquire(context.Background(), []string{"B", "A"})
			if assert.NoError(t, err) {
				h.Release()
			}
		}()
	}
	wg.Wait()
}

func TestAcquire_LockTimeoutReleasesPartialAcquisition(t *testing.T) {
	l := New(30*time.Millisecond, 0, nil)

	holder, err := l.Acquire(context.Background(), []string{"B"})
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), []string{"A", "B"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrLockTimeout)
	assert.True(t, apperrors.Retryable(err))

	// A must not have stayed locked by the failed attempt
	h, err := l.Acquire(context.Background(), []string{"A"})
	require.NoError(t, err)
	h.Release()
	holder.Release()
}

func TestAcquire_CallerDeadlineIsPostingTimeout(t *testing.T) {
	l := New(time.Second, 0, nil)
	holder, err := l.Acquire(context.Background(), []string{"A"})
	require.NoError(t, err)
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, []string{"A"})
	assert.ErrorIs(t, err, apperrors.ErrPostingTimeout)
}

func TestRelease_IsIdempotent(t *testing.T) {
	l := New(time.Second, 0, nil)
	h, err := l.Acquire(context.Background(), []string{"A"})
	require.NoError(t, err)
	h.Release()
	h.Release()

	h2, err := l.Acquire(context.Background(), []string{"A"})
	require.NoError(t, err)
	h2.Release()
	assert.Empty(t, l.slots, "unused slots are dropped")
}

func TestSupervisorReleasesAbandonedHandle(t *testing.T) {
	l := New(time.Second, 20*time.Millisecond, nil)
	abandoned, err := l.Acquire(context.Background(), []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, abandoned.IDs())

	h, err := l.Acquire(context.Background(), []string{"A"})
	require.NoError(t, err, "supervisor should free the abandoned handle")
	h.Release()
	abandoned.Release()
}

func TestSupervisorFiringDuringAcquire(t *testing.T) {
	// the timer can fire before Acquire returns the handle
	l := New(time.Second, time.Nanosecond, nil)
	for i := 0; i < 200; i++ {
		h, err := l.Acquire(context.Background(), []string{"A", "B"})
		require.NoError(t, err)
		h.Release()
	}

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.slots) == 0
	}, time.Second, 5*time.Millisecond)
}
