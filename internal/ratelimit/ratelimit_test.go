package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter(t *testing.T) {
	l, err := New("suggestions", "2-H", nil)
	require.NoError(t, err)
	ctx := context.Background()

	st, err := l.Take(ctx, "actor-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), st.Limit)
	require.Equal(t, int64(1), st.Remaining)

	_, err = l.Take(ctx, "actor-1")
	require.NoError(t, err)

	_, err = l.Take(ctx, "actor-1")
	require.ErrorIs(t, err, ErrLimitReached)

	_, err = l.Take(ctx, "actor-2")
	require.NoError(t, err)
}

func TestRedisLimiter(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := New("suggestions", "1-H", client)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = l.Take(ctx, "actor-1")
	require.NoError(t, err)
	_, err = l.Take(ctx, "actor-1")
	require.ErrorIs(t, err, ErrLimitReached)
}

func TestNewRejectsBadRate(t *testing.T) {
	_, err := New("x", "ten per hour", nil)
	require.Error(t, err)
}
