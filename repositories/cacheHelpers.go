package repositories

import (
	"RetinaTrack/cache"
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultCacheExpiry = 7 * 24 * time.Hour
	listCacheExpiry    = 10 * time.Minute
	readTimeout        = 5 * time.Second
)

// readCached fills dst from key. A miss or a broken entry reports false.
func readCached(ctx context.Context, c cache.Cache, log logrus.FieldLogger, key string, dst interface{}) bool {
	raw, err := c.Get(ctx, key)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("cache read failed")
		return false
	}
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		log.WithError(err).WithField("key", key).Warn("discarding unreadable cache entry")
		_ = c.Delete(ctx, key)
		return false
	}
	return true
}

func writeCached(ctx context.Context, c cache.Cache, log logrus.FieldLogger, key string, value interface{}) {
	writeCachedFor(ctx, c, log, key, value, defaultCacheExpiry)
}

func writeCachedFor(ctx context.Context, c cache.Cache, log logrus.FieldLogger, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("failed to marshal cache entry")
		return
	}
	if err := c.Set(ctx, key, raw, ttl); err != nil {
		log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

func invalidate(ctx context.Context, c cache.Cache, log logrus.FieldLogger, keys ...string) {
	if err := c.DeleteBatch(ctx, keys...); err != nil {
		log.WithError(err).WithField("keys", keys).Warn("cache invalidation failed")
	}
}

func invalidatePattern(ctx context.Context, c cache.Cache, log logrus.FieldLogger, pattern string) {
	if err := c.DeleteAll(ctx, pattern); err != nil {
		log.WithError(err).WithField("pattern", pattern).Warn("cache invalidation failed")
	}
}
