package ratelimit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisLimiter(t *testing.T, limit int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLimiter(client, slog.Default(), "test:external-analyzer", limit, window, true), server
}

func TestRedisLimiterWaitUnderLimit(t *testing.T) {
	l, _ := newTestRedisLimiter(t, 5, time.Minute)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx))
	}
}

func TestRedisLimiterWaitBlocksThenSucceedsAfterWindowSlides(t *testing.T) {
	l, server := newTestRedisLimiter(t, 1, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))

	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx) }()

	server.FastForward(100 * time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not unblock after the window slid")
	}
}

func TestRedisLimiterWaitRespectsContextCancellation(t *testing.T) {
	l, _ := newTestRedisLimiter(t, 1, time.Minute)
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx))

	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(cancelCtx))
}

func TestRedisLimiterSharesBudgetAcrossInstances(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := NewRedisLimiter(client, slog.Default(), "shared", 1, time.Minute, true)
	b := NewRedisLimiter(client, slog.Default(), "shared", 1, time.Minute, true)

	ctx := context.Background()
	require.NoError(t, a.Wait(ctx))

	cancelCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	require.Error(t, b.Wait(cancelCtx))
}

func TestRedisLimiterFailOpenOnUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, slog.Default(), "unreachable", 1, time.Minute, false)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Wait(ctx))
}

func TestRedisLimiterFailClosedOnUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, slog.Default(), "unreachable", 1, time.Minute, true)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx))
}
