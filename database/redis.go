package database

import (
	"RetinaTrack/config"
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// NewRedisClient creates a Redis client with the provided configuration
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, log *logrus.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis server: %w", err)
	}

	log.WithFields(logrus.Fields{
		"pool_size":      cfg.PoolSize,
		"min_idle_conns": cfg.MinIdleConns,
		"dial_timeout":   cfg.DialTimeout.String(),
		"read_timeout":   cfg.ReadTimeout.String(),
		"max_retries":    cfg.MaxRetries,
	}).Info("redis client initialized")
	return client, nil
}

// MonitorRedisPool logs the connection pool statistics for monitoring
func MonitorRedisPool(client *redis.Client, log *logrus.Logger) {
	stats := client.PoolStats()
	log.WithFields(logrus.Fields{
		"total": stats.TotalConns,
		"idle":  stats.IdleConns,
		"stale": stats.StaleConns,
	}).Debug("redis pool stats")
}
