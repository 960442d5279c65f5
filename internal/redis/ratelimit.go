package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines one channel's rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // Maximum deliveries allowed per window
	Window time.Duration // Time window for the limit
}

// ChannelRateLimiter implements sliding window rate limiting per delivery
// channel using Redis sorted sets, so the limit holds across every worker
// process sharing the Redis instance.
type ChannelRateLimiter struct {
	client *Client
	logger *zap.Logger
	limits map[string]RateLimitConfig
}

// NewChannelRateLimiter creates a limiter for the given per-channel limits.
// Channels without an entry are unlimited.
func NewChannelRateLimiter(client *Client, limits map[string]RateLimitConfig, logger *zap.Logger) *ChannelRateLimiter {
	return &ChannelRateLimiter{
		client: client,
		logger: logger,
		limits: limits,
	}
}

// TryAcquire checks whether one more delivery on the channel fits in the
// current window. When it does not, the returned delay is the time until
// the oldest entry slides out of the window.
func (r *ChannelRateLimiter) TryAcquire(ctx context.Context, channel string) (bool, time.Duration, error) {
	cfg, ok := r.limits[channel]
	if !ok || cfg.Limit <= 0 {
		return true, 0, nil
	}

	now := time.Now()
	windowStart := now.Add(-cfg.Window)
	redisKey := fmt.Sprintf("ratelimit:channel:%s", channel)

	// Use Redis pipeline for atomic operations
	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("redis pipeline failed: %w", err)
	}

	if int(countCmd.Val())+1 > cfg.Limit {
		oldest, err := r.client.rdb.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err != nil {
			return false, 0, fmt.Errorf("redis zrange failed: %w", err)
		}
		delay := cfg.Window
		if len(oldest) > 0 {
			expiry := time.Unix(0, int64(oldest[0].Score)).Add(cfg.Window)
			delay = expiry.Sub(now)
		}
		if delay < time.Millisecond {
			delay = time.Millisecond
		}
		r.logger.Debug("channel rate limit exceeded",
			zap.String("channel", channel),
			zap.Int("limit", cfg.Limit),
		)
		return false, delay, nil
	}

	pipe2 := r.client.rdb.Pipeline()
	pipe2.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe2.Expire(ctx, redisKey, cfg.Window+time.Second)
	if _, err := pipe2.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("redis zadd failed: %w", err)
	}

	return true, 0, nil
}
