package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FailoverStore serves from a primary store and falls back to a local
// one when the primary errors. The primary is probed again after a
// minute of downtime.
type FailoverStore struct {
	primary   Store
	fallback  Store
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (f *FailoverStore) usePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	last := time.Unix(f.lastCheck.Load(), 0)
	return time.Since(last) > time.Minute
}

func (f *FailoverStore) markDown(err error) {
	f.logger.Error().Err(err).Msg("primary cache store failed, falling back to memory")
	f.isDown.Store(true)
	f.lastCheck.Store(time.Now().Unix())
}

func (f *FailoverStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.usePrimary() {
		data, ok, err := f.primary.Get(ctx, key)
		if err == nil {
			f.isDown.Store(false)
			return data, ok, nil
		}
		f.markDown(err)
	}
	return f.fallback.Get(ctx, key)
}

func (f *FailoverStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.usePrimary() {
		err := f.primary.Set(ctx, key, value, ttl)
		if err == nil {
			f.isDown.Store(false)
			return nil
		}
		f.markDown(err)
	}
	return f.fallback.Set(ctx, key, value, ttl)
}

func (f *FailoverStore) Delete(ctx context.Context, key string) error {
	// Delete on both tiers; a stale fallback entry must not outlive an
	// invalidation issued while the primary was down.
	var primaryErr error
	if f.usePrimary() {
		primaryErr = f.primary.Delete(ctx, key)
		if primaryErr == nil {
			f.isDown.Store(false)
		} else {
			f.markDown(primaryErr)
		}
	}
	if err := f.fallback.Delete(ctx, key); err != nil {
		return err
	}
	return primaryErr
}
