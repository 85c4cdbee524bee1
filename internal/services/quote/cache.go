package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
)

type memoryEntry struct {
	quote   models.Quote
	expires time.Time
}

// MemoryCache is a process-local TTL cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, symbol string) (*models.Quote, bool) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		if cur, ok := c.entries[symbol]; ok && cur.expires == e.expires {
			delete(c.entries, symbol)
		}
		c.mu.Unlock()
		return nil, false
	}
	q := e.quote
	return &q, true
}

func (c *MemoryCache) Set(_ context.Context, quote *models.Quote, ttl time.Duration) error {
	if quote == nil {
		return nil
	}
	c.mu.Lock()
	c.entries[quote.Symbol] = memoryEntry{quote: *quote, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// RedisCache shares quotes between server instances.
type RedisCache struct {
	client *redis.Client
	logger *common.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg common.RedisConfig, logger *common.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}
	return &RedisCache{client: client, logger: logger}, nil
}

func redisKey(symbol string) string {
	return fmt.Sprintf("stock:%s:price", symbol)
}

func (c *RedisCache) Get(ctx context.Context, symbol string) (*models.Quote, bool) {
	raw, err := c.client.Get(ctx, redisKey(symbol)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Redis quote cache read failed")
		}
		return nil, false
	}
	var q models.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Discarding malformed cached quote")
		return nil, false
	}
	return &q, true
}

func (c *RedisCache) Set(ctx context.Context, quote *models.Quote, ttl time.Duration) error {
	if quote == nil {
		return nil
	}
	raw, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to encode quote: %w", err)
	}
	return c.client.Set(ctx, redisKey(quote.Symbol), raw, ttl).Err()
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var (
	_ interfaces.QuoteCache = (*MemoryCache)(nil)
	_ interfaces.QuoteCache = (*RedisCache)(nil)
)
