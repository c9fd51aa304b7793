package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := zerolog.New(zerolog.NewConsoleWriter())
	return New(NewRedisStore(client), &logger), mr
}

func TestGetOrSetComputesOnce(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	computeCalls := 0
	compute := func(ctx context.Context) (interface{}, error) {
		computeCalls++
		return map[string]int{"value": 42}, nil
	}

	var first map[string]int
	require.NoError(t, c.GetOrSet(ctx, "k1", time.Minute, &first, compute))
	assert.Equal(t, 42, first["value"])
	assert.Equal(t, 1, computeCalls)

	// Second read is a hit, compute must not run again.
	var second map[string]int
	require.NoError(t, c.GetOrSet(ctx, "k1", time.Minute, &second, compute))
	assert.Equal(t, 42, second["value"])
	assert.Equal(t, 1, computeCalls)
}

func TestGetOrSetComputeError(t *testing.T) {
	c, _ := newTestCache(t)

	var dest int
	err := c.GetOrSet(context.Background(), "k-err", time.Minute, &dest, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("source down")
	})
	assert.EqualError(t, err, "source down")
}

func TestGetOrSetExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	computeCalls := 0
	compute := func(ctx context.Context) (interface{}, error) {
		computeCalls++
		return computeCalls, nil
	}

	var v int
	require.NoError(t, c.GetOrSet(ctx, "k-ttl", 30*time.Second, &v, compute))
	assert.Equal(t, 1, v)

	mr.FastForward(time.Minute)

	require.NoError(t, c.GetOrSet(ctx, "k-ttl", 30*time.Second, &v, compute))
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, computeCalls)
}

func TestInvalidateForcesRecompute(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	computeCalls := 0
	compute := func(ctx context.Context) (interface{}, error) {
		computeCalls++
		return computeCalls, nil
	}

	var v int
	require.NoError(t, c.GetOrSet(ctx, "k-inv", time.Minute, &v, compute))
	c.Invalidate(ctx, "k-inv")
	require.NoError(t, c.GetOrSet(ctx, "k-inv", time.Minute, &v, compute))
	assert.Equal(t, 2, computeCalls)
}

func TestWriteThrough(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.WriteThrough(ctx, "k-wt", "warmed", time.Minute)

	var v string
	err := c.GetOrSet(ctx, "k-wt", time.Minute, &v, func(ctx context.Context) (interface{}, error) {
		t.Fatal("compute must not run after write-through")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "warmed", v)
}

func TestGetOrSetSurvivesStoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := zerolog.New(zerolog.NewConsoleWriter())
	c := New(NewRedisStore(client), &logger)

	// Dead store degrades to computing directly, never to an error.
	mr.Close()
	client.Close()

	var v int
	err := c.GetOrSet(context.Background(), "k-down", time.Minute, &v, func(ctx context.Context) (interface{}, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 10*time.Millisecond))

	data, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	time.Sleep(20 * time.Millisecond)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailoverStoreFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := zerolog.New(zerolog.NewConsoleWriter())

	fallback := NewMemoryStore()
	store := NewFailoverStore(NewRedisStore(client), fallback, &logger)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("primary"), time.Minute))

	// Primary down: writes land in the fallback and reads keep working.
	mr.Close()
	client.Close()

	require.NoError(t, store.Set(ctx, "k2", []byte("fallback"), time.Minute))
	data, ok, err := store.Get(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("fallback"), data)
}

func TestFailoverStoreDeleteClearsBothTiers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := zerolog.New(zerolog.NewConsoleWriter())

	fallback := NewMemoryStore()
	store := NewFailoverStore(NewRedisStore(client), fallback, &logger)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, fallback.Set(ctx, "k", []byte("stale"), time.Minute))

	require.NoError(t, store.Delete(ctx, "k"))

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = fallback.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyInvalidationSets(t *testing.T) {
	tripKeys := TripKeys(7, "Altai")
	assert.Contains(t, tripKeys, TripKey(7))
	assert.Contains(t, tripKeys, KeyAllTrips)
	assert.Contains(t, tripKeys, TripLocationKey("Altai"))

	bookingKeys := BookingKeys(3, 7, "Altai")
	assert.Contains(t, bookingKeys, BookingKey(3))
	assert.Contains(t, bookingKeys, KeyAllBookings)
	// Booking changes also invalidate the trip occupancy views.
	assert.Contains(t, bookingKeys, TripKey(7))
}
