package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"wsfantasy/internal/config"
	"wsfantasy/internal/metrics"
)

// Cached wraps a Provider with a Redis read-through cache for quotes.
// Search and profile lookups pass straight through.
type Cached struct {
	primary Provider
	rdb     *redis.Client
	ttl     time.Duration
}

func NewCached(primary Provider, rdb *redis.Client, ttl time.Duration) *Cached {
	return &Cached{primary: primary, rdb: rdb, ttl: ttl}
}

func (c *Cached) Quote(ctx context.Context, symbol string) (Quote, error) {
	key := quoteKey(symbol)
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var q Quote
		if json.Unmarshal(data, &q) == nil {
			metrics.QuoteRequests.WithLabelValues("cache_hit").Inc()
			return q, nil
		}
	}

	q, err := c.primary.Quote(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	if data, err := json.Marshal(q); err == nil {
		c.rdb.Set(ctx, key, data, c.ttl)
	}
	return q, nil
}

func (c *Cached) Search(ctx context.Context, query string) ([]SearchResult, error) {
	return c.primary.Search(ctx, query)
}

func (c *Cached) Profile(ctx context.Context, symbol string) (Profile, error) {
	return c.primary.Profile(ctx, symbol)
}

func quoteKey(symbol string) string {
	return fmt.Sprintf("quote:%s", strings.ToUpper(strings.TrimSpace(symbol)))
}

// FromConfig builds the Finnhub provider, wrapped in the Redis cache when
// a Redis URL is configured. The returned close func releases the cache
// connection and is never nil.
func FromConfig(ctx context.Context, cfg config.QuoteConfig, logger *slog.Logger) (Provider, func() error, error) {
	finnhub := NewFinnhub(FinnhubConfig{
		BaseURL:    cfg.FinnhubURL,
		Token:      cfg.FinnhubToken,
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
	})
	if cfg.RedisURL == "" {
		return finnhub, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, quotes will not be cached until it recovers", "err", err)
	}
	return NewCached(finnhub, rdb, cfg.CacheTTL), rdb.Close, nil
}
