package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrLockNotAcquired is returned when every lock attempt found the key held.
var ErrLockNotAcquired = errors.New("failed to acquire lock after retries")

// Cache is the key/value and distributed lock surface used by repositories.
// Get returns "" with a nil error when the key does not exist.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteBatch(ctx context.Context, keys ...string) error
	DeleteAll(ctx context.Context, pattern string) error
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) error
}

// LockOptions controls WithLock retries.
type LockOptions struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultLockOptions mirrors the repository write path: three attempts, a
// short lease.
var DefaultLockOptions = LockOptions{
	TTL:        10 * time.Second,
	MaxRetries: 3,
	RetryDelay: 200 * time.Millisecond,
}

// WithLock runs fn while holding key. The lock is released even if fn fails.
func WithLock(ctx context.Context, c Cache, logger logrus.FieldLogger, key string, opts LockOptions, fn func() error) error {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	value := uuid.New().String()

	var locked bool
	var err error
	for i := 0; i < opts.MaxRetries; i++ {
		locked, err = c.AcquireLock(ctx, key, value, opts.TTL)
		if err == nil && locked {
			break
		}
		if i < opts.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}
	}
	if !locked {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLockNotAcquired, err)
		}
		return fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
	}

	defer func() {
		// release on a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.ReleaseLock(releaseCtx, key, value); err != nil && logger != nil {
			logger.WithError(err).WithField("lock", key).Warn("failed to release lock")
		}
	}()

	return fn()
}
