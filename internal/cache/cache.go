package cache

import (
	"context"
	"encoding/json"
	"time"

	"tripline/internal/metrics"

	"github.com/rs/zerolog"
)

// Store is a byte-level key-value store with per-key TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache fronts ledger reads. Store failures are never surfaced: a failed
// get counts as a miss, a failed set is logged and the computed value is
// still returned. Correctness never depends on the cache.
type Cache struct {
	store  Store
	logger *zerolog.Logger
}

func New(store Store, logger *zerolog.Logger) *Cache {
	return &Cache{store: store, logger: logger}
}

// GetOrSet returns the cached value for key into dest, or invokes
// compute on a miss, stores the result with ttl and returns it.
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, dest interface{}, compute func(ctx context.Context) (interface{}, error)) error {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		metrics.IncCache("error")
		c.logger.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
	} else if ok {
		if err := json.Unmarshal(data, dest); err == nil {
			metrics.IncCache("hit")
			return nil
		}
		// corrupt entry, fall through to compute
		c.logger.Warn().Str("key", key).Msg("cache entry undecodable, recomputing")
	}
	metrics.IncCache("miss")

	fresh, err := compute(ctx)
	if err != nil {
		return err
	}

	data, err = json.Marshal(fresh)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		metrics.IncCache("error")
		c.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}

	return json.Unmarshal(data, dest)
}

// WriteThrough unconditionally stores value under key, refreshing TTL.
func (c *Cache) WriteThrough(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		metrics.IncCache("error")
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write-through failed")
	}
}

// Invalidate deletes a key. A failed delete is logged; staleness is then
// bounded by the entry TTL.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		metrics.IncCache("error")
		c.logger.Warn().Err(err).Str("key", key).Msg("cache invalidate failed")
	}
}

func (c *Cache) InvalidateAll(ctx context.Context, keys ...string) {
	for _, key := range keys {
		c.Invalidate(ctx, key)
	}
}
