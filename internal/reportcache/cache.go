package reportcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/dvloznov/expense-ledger/internal/report"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a cached report stays valid without an invalidation.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "ledger:report:"

// Cache stores computed reports keyed by their filter. Failures are logged
// and treated as misses; the cache never fails a request.
type Cache interface {
	Get(ctx context.Context, key string) (*report.Report, bool)
	Set(ctx context.Context, key string, rep report.Report)
	Invalidate(ctx context.Context)
}

// Key builds a cache key for a report over the given filter.
func Key(f report.Filter) string {
	return fmt.Sprintf("type=%s|category=%s|necessity=%s|range=%s", f.Type, f.Category, f.Necessity, f.Range)
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(ctx context.Context, key string) (*report.Report, bool) { return nil, false }

func (NopCache) Set(ctx context.Context, key string, rep report.Report) {}

func (NopCache) Invalidate(ctx context.Context) {}

// RedisCache keeps reports in Redis as JSON.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache connects to addr and verifies the connection with PING.
func NewRedisCache(ctx context.Context, addr, password string) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("NewRedisCache: ping %s: %w", addr, err)
	}
	return &RedisCache{rdb: rdb, ttl: DefaultTTL}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*report.Report, bool) {
	log := logger.FromContext(ctx)
	data, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Error().Err(err).Str("key", key).Msg("Redis GET failed")
		}
		return nil, false
	}
	var rep report.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Discarding unreadable cached report")
		return nil, false
	}
	return &rep, true
}

func (c *RedisCache) Set(ctx context.Context, key string, rep report.Report) {
	log := logger.FromContext(ctx)
	data, err := json.Marshal(rep)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal report for caching")
		return
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Redis SET failed")
	}
}

// Invalidate drops every cached report.
func (c *RedisCache) Invalidate(ctx context.Context) {
	log := logger.FromContext(ctx)
	var keys []string
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Error().Err(err).Msg("Redis SCAN failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Error().Err(err).Int("keys", len(keys)).Msg("Redis DEL failed")
	}
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

var (
	_ Cache = NopCache{}
	_ Cache = (*RedisCache)(nil)
)
