package payment

import (
	"context"
	"sync"
	"time"

	xerrors "AgentFlow-Chain/internal/errors"

	"github.com/redis/go-redis/v9"
)

// VerificationCache short-circuits repeated verification of the same
// proof. It is an optimisation only: a miss always falls through to a
// ledger read, and nothing treats the cache as a source of truth.
type VerificationCache interface {
	Get(ctx context.Context, txHash string) (verified bool, found bool)
	Put(ctx context.Context, txHash string, verified bool)
}

// MemoryCache is a bounded in-process cache with FIFO eviction.
type MemoryCache struct {
	mu      sync.Mutex
	limit   int
	entries map[string]bool
	order   []string
}

// NewMemoryCache creates a cache holding at most limit entries.
func NewMemoryCache(limit int) *MemoryCache {
	if limit <= 0 {
		limit = 1024
	}
	return &MemoryCache{limit: limit, entries: make(map[string]bool)}
}

// Get implements VerificationCache.
func (c *MemoryCache) Get(_ context.Context, txHash string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	verified, found := c.entries[txHash]
	return verified, found
}

// Put implements VerificationCache.
func (c *MemoryCache) Put(_ context.Context, txHash string, verified bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[txHash]; !exists {
		c.order = append(c.order, txHash)
		if len(c.order) > c.limit {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[txHash] = verified
}

// RedisCacheConfig describes a shared verification cache.
type RedisCacheConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// RedisCache shares verification results across processes. Lookup errors
// degrade to a cache miss so the ledger read still happens.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects and pings the configured Redis instance.
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "redis address is empty")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "agentflow:verify:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnection, err, "ping redis")
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Get implements VerificationCache.
func (c *RedisCache) Get(ctx context.Context, txHash string) (bool, bool) {
	value, err := c.client.Get(ctx, c.prefix+txHash).Result()
	if err != nil {
		return false, false
	}
	return value == "1", true
}

// Put implements VerificationCache.
func (c *RedisCache) Put(ctx context.Context, txHash string, verified bool) {
	value := "0"
	if verified {
		value = "1"
	}
	_ = c.client.Set(ctx, c.prefix+txHash, value, c.ttl).Err()
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
