// Package ratelimit caps generation requests per subject with a Redis fixed
// window shared by every API replica.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type FixedWindow struct {
	client    redis.UniversalClient
	limit     int64
	window    time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewFixedWindow(client redis.UniversalClient, limit int, window time.Duration, keyPrefix string) (*FixedWindow, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	if window < time.Second {
		return nil, fmt.Errorf("window must be at least one second")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "charforge:ratelimit"
	}
	return &FixedWindow{
		client:    client,
		limit:     int64(limit),
		window:    window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

// Allow counts one request for subject in the current window. The counter key
// expires with the window, so no cleanup is needed.
func (l *FixedWindow) Allow(ctx context.Context, subject string) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}

	now := l.now().UTC()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("%s:%s:%d", l.keyPrefix, subject, windowStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("count request: %w", err)
	}

	count := incr.Val()
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	decision := Decision{Allowed: count <= l.limit, Remaining: remaining}
	if !decision.Allowed {
		decision.RetryAfter = windowStart.Add(l.window).Sub(now)
	}
	return decision, nil
}
