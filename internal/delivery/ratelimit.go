package delivery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stablehq/farrier/internal/db"
)

// Limits configures one channel's token bucket.
type Limits struct {
	PerMinute float64
	Burst     int
}

// DefaultLimits returns per-channel bucket settings tuned to what the
// providers tolerate.
func DefaultLimits() map[string]Limits {
	return map[string]Limits{
		db.ChannelEmail:    {PerMinute: 5, Burst: 5},
		db.ChannelPush:     {PerMinute: 60, Burst: 10},
		db.ChannelTelegram: {PerMinute: 25, Burst: 5},
		db.ChannelInApp:    {PerMinute: 600, Burst: 50},
	}
}

// ChannelLimiter answers whether a delivery on a channel may proceed now
// and, when it may not, how long to wait.
type ChannelLimiter interface {
	TryAcquire(ctx context.Context, channel string) (allowed bool, retryAfter time.Duration, err error)
}

// TokenBuckets is a process-local ChannelLimiter with one token bucket per
// channel. Buckets reset with the process; the worst case after a restart
// is a single extra burst, which the providers absorb.
type TokenBuckets struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limits  map[string]Limits
	now     func() time.Time
}

// NewTokenBuckets creates a limiter for the given per-channel limits.
// Channels without an entry are unlimited.
func NewTokenBuckets(limits map[string]Limits) *TokenBuckets {
	return &TokenBuckets{
		buckets: make(map[string]*rate.Limiter),
		limits:  limits,
		now:     time.Now,
	}
}

// TryAcquire takes one token from the channel's bucket. When the bucket is
// empty it returns false and the wait until a token accrues, consuming
// nothing.
func (t *TokenBuckets) TryAcquire(_ context.Context, channel string) (bool, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lim, ok := t.buckets[channel]
	if !ok {
		cfg, known := t.limits[channel]
		if !known || cfg.PerMinute <= 0 {
			return true, 0, nil
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.PerMinute/60.0), burst)
		t.buckets[channel] = lim
	}

	now := t.now()
	if lim.AllowN(now, 1) {
		return true, 0, nil
	}

	// Reserve to learn the wait, then cancel the reservation so the denied
	// call leaves the bucket untouched.
	res := lim.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	res.CancelAt(now)
	if delay <= 0 {
		delay = time.Millisecond
	}
	return false, delay, nil
}
