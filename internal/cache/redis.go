package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubhsaxena/cinesearch/internal/config"
	"github.com/shubhsaxena/cinesearch/internal/models"
	"github.com/shubhsaxena/cinesearch/internal/observability"
)

const backendRedis = "redis"

// RedisCache shares resolved results across server replicas.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(cfg config.RedisConfig, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	var client redis.UniversalClient

	if len(cfg.Addresses) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis cache connected", zap.Strings("addresses", cfg.Addresses))

	return newRedisCache(client, cfg.KeyPrefix, ttl, logger), nil
}

func newRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (rc *RedisCache) Get(ctx context.Context, query string) (*models.CacheEntry, error) {
	val, err := rc.client.Get(ctx, rc.buildKey(query)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.CacheMisses.WithLabelValues(backendRedis).Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, fmt.Errorf("cache unmarshal: %w", err)
	}
	// A different query that collided on the key hash is a miss.
	if entry.Query != query {
		observability.CacheMisses.WithLabelValues(backendRedis).Inc()
		return nil, nil
	}

	observability.CacheHits.WithLabelValues(backendRedis).Inc()
	if entry.Results == nil {
		entry.Results = []models.MovieSummary{}
	}
	return &entry, nil
}

func (rc *RedisCache) Set(ctx context.Context, entry *models.CacheEntry) error {
	if entry == nil || entry.Query == "" {
		return errors.New("cache set: entry without query")
	}
	stored := entry.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return rc.client.Set(ctx, rc.buildKey(stored.Query), data, rc.ttl).Err()
}

// Clear removes every result entry under this cache's key prefix. Cluster
// clients are cleared master by master since SCAN only walks one node.
func (rc *RedisCache) Clear(ctx context.Context) error {
	if cc, ok := rc.client.(*redis.ClusterClient); ok {
		return cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return rc.clearNode(ctx, node)
		})
	}
	return rc.clearNode(ctx, rc.client)
}

func (rc *RedisCache) clearNode(ctx context.Context, c redis.Cmdable) error {
	pattern := rc.prefix + "sr:*"
	iter := c.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}

	// Keys hash to different slots, so delete them one per command.
	pipe := c.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		rc.logger.Warn("cache delete error", zap.Int("keys", len(keys)), zap.Error(err))
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (rc *RedisCache) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) buildKey(query string) string {
	return fmt.Sprintf("%ssr:%s", rc.prefix, hashString(query))
}
