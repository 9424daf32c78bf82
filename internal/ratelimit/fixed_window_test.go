package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFixedWindowValidates(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	_, err := NewFixedWindow(nil, 1, time.Minute, "")
	assert.Error(t, err)
	_, err = NewFixedWindow(client, 0, time.Minute, "")
	assert.Error(t, err)
	_, err = NewFixedWindow(client, 1, time.Millisecond, "")
	assert.Error(t, err)

	l, err := NewFixedWindow(client, 3, time.Minute, " ")
	require.NoError(t, err)
	assert.Equal(t, "charforge:ratelimit", l.keyPrefix)
}

func TestAllowReportsRedisFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	l, err := NewFixedWindow(client, 1, time.Minute, "")
	require.NoError(t, err)
	_, err = l.Allow(context.Background(), "user")
	assert.Error(t, err)
}

// Requires a live Redis; set CHARFORGE_TEST_REDIS_ADDR to run.
func TestAllowCountsWithinWindow(t *testing.T) {
	addr := os.Getenv("CHARFORGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHARFORGE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	l, err := NewFixedWindow(client, 2, time.Minute, "charforge:test:"+t.Name())
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 1, 12, 0, 15, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	ctx := context.Background()
	for want := int64(1); want >= 0; want-- {
		d, err := l.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
	}

	d, err := l.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 45*time.Second, d.RetryAfter)

	other, err := l.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}
