package authz

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// DecisionCache remembers recent policy-point answers keyed by token and
// scope, bounding the per-request load on the policy point.
type DecisionCache interface {
	Get(ctx context.Context, key string) (bool, bool)
	Set(ctx context.Context, key string, allowed bool)
}

// memoryCache is the default in-process cache.
type memoryCache struct {
	lru *lru.LRU[string, bool]
}

// NewMemoryCache creates an expiring in-process decision cache.
func NewMemoryCache(size int, ttl time.Duration) DecisionCache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &memoryCache{lru: lru.NewLRU[string, bool](size, nil, ttl)}
}

func (m *memoryCache) Get(_ context.Context, key string) (bool, bool) {
	return m.lru.Get(key)
}

func (m *memoryCache) Set(_ context.Context, key string, allowed bool) {
	m.lru.Add(key, allowed)
}

// redisCache shares decisions across worker processes.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Logger
}

// NewRedisCache creates a shared decision cache; the caller picks it when a
// redis URL is configured.
func NewRedisCache(cfg domain.CacheConfig, logger *logrus.Logger) (DecisionCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &redisCache{client: client, ttl: ttl, log: logger}, nil
}

func (r *redisCache) Get(ctx context.Context, key string) (bool, bool) {
	val, err := r.client.Get(ctx, "authz:"+key).Result()
	if err == redis.Nil {
		return false, false
	}
	if err != nil {
		r.log.WithError(err).Debug("Decision cache read failed")
		return false, false
	}
	return val == "1", true
}

func (r *redisCache) Set(ctx context.Context, key string, allowed bool) {
	val := "0"
	if allowed {
		val = "1"
	}
	if err := r.client.Set(ctx, "authz:"+key, val, r.ttl).Err(); err != nil {
		r.log.WithError(err).Debug("Decision cache write failed")
	}
}
