package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *MemoryCache {
	t.Helper()
	c, err := NewMemoryCache(64)
	require.NoError(t, err)
	return c
}

func TestMemoryCache_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	v, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, c.Set(ctx, "patient_cache:1", []byte(`{"id":"1"}`), time.Minute))
	v, err = c.Get(ctx, "patient_cache:1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, v)

	require.NoError(t, c.Delete(ctx, "patient_cache:1"))
	v, _ = c.Get(ctx, "patient_cache:1")
	assert.Empty(t, v)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", "v", time.Second))
	now = now.Add(2 * time.Second)

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestMemoryCache_DeleteAllPattern(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	require.NoError(t, c.Set(ctx, "patients_cache:admin", "a", 0))
	require.NoError(t, c.Set(ctx, "patients_cache:medico:1", "b", 0))
	require.NoError(t, c.Set(ctx, "patient_cache:1", "c", 0))

	require.NoError(t, c.DeleteAll(ctx, "patients_cache*"))

	v, _ := c.Get(ctx, "patients_cache:admin")
	assert.Empty(t, v)
	v, _ = c.Get(ctx, "patients_cache:medico:1")
	assert.Empty(t, v)
	v, _ = c.Get(ctx, "patient_cache:1")
	assert.Equal(t, "c", v)
}

func TestMemoryCache_LockOwnership(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	ok, err := c.AcquireLock(ctx, "image_lock:1", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireLock(ctx, "image_lock:1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, c.ReleaseLock(ctx, "image_lock:1", "owner-b"))
	require.NoError(t, c.ReleaseLock(ctx, "image_lock:1", "owner-a"))

	ok, err = c.AcquireLock(ctx, "image_lock:1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWithLock_SerializesCallers(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	opts := LockOptions{TTL: time.Second, MaxRetries: 200, RetryDelay: 5 * time.Millisecond}
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(ctx, c, logger, "image_lock:x", opts, func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestWithLock_GivesUp(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	_, err := c.AcquireLock(ctx, "busy", "someone", time.Minute)
	require.NoError(t, err)

	called := false
	err = WithLock(ctx, c, nil, "busy", LockOptions{TTL: time.Second, MaxRetries: 2, RetryDelay: time.Millisecond}, func() error {
		called = true
		return nil
	})
	assert.True(t, errors.Is(err, ErrLockNotAcquired))
	assert.False(t, called)
}
