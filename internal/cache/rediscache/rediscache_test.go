package rediscache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDel(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(NewClient(mr.Addr()))

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.True(t, mr.Exists("weighbox:k"))

	require.NoError(t, c.Del(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_SetWithoutTTLIsSkipped(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(NewClient(mr.Addr()))

	require.NoError(t, c.Set(context.Background(), "appointment:2508020001", []byte("{}"), 0))
	require.False(t, mr.Exists("weighbox:appointment:2508020001"))
}

func TestRedisCache_GetError(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(NewClient(mr.Addr()))
	mr.Close()

	_, ok, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(NewClient(mr.Addr()))

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	mr.FastForward(2 * time.Minute)
	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}

func TestRateLimiter_WindowIsNotExtendedByHits(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(NewClient(mr.Addr()))
	ctx := context.Background()
	key := "rl:booking:6f1c1c8e-3f7a-4d8e-9a57-2d3c6a0f4b11"

	_, n, err := rl.Allow(ctx, key, 5, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	mr.FastForward(40 * time.Second)
	_, n, _ = rl.Allow(ctx, key, 5, time.Minute)
	require.Equal(t, int64(2), n)

	// 70s after the first hit the window has closed even though the last hit was 30s ago
	mr.FastForward(30 * time.Second)
	ok, n, err := rl.Allow(ctx, key, 5, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}

func TestRateLimiter_CycleClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(mr.Addr())
	a, b := NewRateLimiter(client), NewRateLimiter(client)
	ctx := context.Background()

	ok, _, err := a.Allow(ctx, "sweeper:orphans:cycle", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, _, err = b.Allow(ctx, "sweeper:orphans:cycle", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSequenceReserver_SeedsOnceThenIncrements(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewSequenceReserver(NewClient(mr.Addr()))
	ctx := context.Background()
	day := time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC)

	seeds := 0
	seed := func(ctx context.Context) (int, error) {
		seeds++
		return 3, nil
	}

	n, err := s.Next(ctx, day, seed)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	n, err = s.Next(ctx, day, seed)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, 1, seeds)
	require.True(t, mr.Exists("weighbox:appointment:seq:20250802"))
}

func TestSequenceReserver_SeedError(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewSequenceReserver(NewClient(mr.Addr()))
	want := errors.New("db down")

	_, err := s.Next(context.Background(), time.Now(), func(ctx context.Context) (int, error) { return 0, want })
	require.ErrorIs(t, err, want)
}

func TestSequenceReserver_ConcurrentCallersGetDistinctValues(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewSequenceReserver(NewClient(mr.Addr()))
	day := time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC)
	seed := func(ctx context.Context) (int, error) { return 0, nil }

	const n = 20
	var mu sync.Mutex
	seen := make(map[int]struct{}, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Next(context.Background(), day, seed)
			require.NoError(t, err)
			mu.Lock()
			seen[v] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, n)
}
