// Package delivery implements the notification delivery queue: polling,
// per-channel rate limiting, dispatch to channel senders, and the retry and
// retention sweeps.
package delivery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/stablehq/farrier/internal/db"
	"github.com/stablehq/farrier/internal/metrics"
)

// QueueStore is the persistence surface the processor needs.
type QueueStore interface {
	GetQueueItem(ctx context.Context, id string) (*db.QueueItem, error)
	ClaimQueueItem(ctx context.Context, id string) (*db.QueueItem, error)
	MarkQueueItemFailed(ctx context.Context, id, reason string) (bool, error)
	RescheduleQueueItem(ctx context.Context, id string, at time.Time, reason string) error
	FinishQueueItem(ctx context.Context, id, status string, lastError *string) error
	SetDeliveryStatus(ctx context.Context, notificationID, channel, status string) error
	GetPreferences(ctx context.Context, userID string) (*db.UserPreferences, error)
}

// Config holds processor settings.
type Config struct {
	MaxAttempts int
	ItemTimeout time.Duration
}

// Processor drives a single queue item through its delivery state machine:
// pending to processing to sent or failed.
type Processor struct {
	store    QueueStore
	dispatch *Dispatcher
	limiter  ChannelLimiter
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewProcessor creates a processor with sensible defaults for any zero
// config values.
func NewProcessor(store QueueStore, dispatch *Dispatcher, limiter ChannelLimiter, cfg Config, logger *zap.Logger) *Processor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 10 * time.Second
	}
	return &Processor{
		store:    store,
		dispatch: dispatch,
		limiter:  limiter,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// ProcessItem advances one queue item. Persistence failures are returned;
// delivery failures are recorded on the item and never propagate, so one
// bad item cannot stall the batch.
func (p *Processor) ProcessItem(ctx context.Context, id string) error {
	item, err := p.store.GetQueueItem(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	// Another worker may have grabbed the item between listing and now.
	if item.Status != db.StatusPending {
		return nil
	}

	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.config.MaxAttempts
	}
	if item.Attempts >= maxAttempts {
		won, err := p.store.MarkQueueItemFailed(ctx, item.ID, "max delivery attempts exhausted")
		if err != nil {
			return err
		}
		if won {
			p.propagate(ctx, item, db.StatusFailed)
			metrics.RecordDelivery(item.Channel, "exhausted")
			p.logger.Warn("queue item exhausted its attempts",
				zap.String("queue_item_id", item.ID),
				zap.String("channel", item.Channel),
				zap.Int("attempts", item.Attempts))
		}
		return nil
	}

	now := p.now()
	if item.ScheduledFor != nil && item.ScheduledFor.After(now) {
		return nil
	}

	if item.Channel != db.ChannelInApp {
		if resume, quiet := p.quietUntil(ctx, item.UserID); quiet {
			return p.store.RescheduleQueueItem(ctx, item.ID, resume, "deferred: quiet hours")
		}
	}

	allowed, retryAfter, err := p.limiter.TryAcquire(ctx, item.Channel)
	if err != nil {
		return err
	}
	if !allowed {
		// Denials cost no attempt; the item just waits its turn.
		metrics.RecordRateLimitDeferral(item.Channel)
		return p.store.RescheduleQueueItem(ctx, item.ID, now.Add(retryAfter), "deferred: channel rate limit")
	}

	claimed, err := p.store.ClaimQueueItem(ctx, item.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, p.config.ItemTimeout)
	err = p.dispatch.Dispatch(dispatchCtx, claimed)
	cancel()

	if err != nil {
		msg := err.Error()
		if ferr := p.store.FinishQueueItem(ctx, claimed.ID, db.StatusFailed, &msg); ferr != nil {
			return ferr
		}
		p.propagate(ctx, claimed, db.StatusFailed)
		metrics.RecordDelivery(claimed.Channel, "failed")
		p.logger.Error("delivery failed",
			zap.String("queue_item_id", claimed.ID),
			zap.String("channel", claimed.Channel),
			zap.Int("attempts", claimed.Attempts),
			zap.Error(err))
		return nil
	}

	if err := p.store.FinishQueueItem(ctx, claimed.ID, db.StatusSent, nil); err != nil {
		return err
	}
	p.propagate(ctx, claimed, db.StatusSent)
	metrics.RecordDelivery(claimed.Channel, "sent")
	p.logger.Info("delivery sent",
		zap.String("queue_item_id", claimed.ID),
		zap.String("channel", claimed.Channel),
		zap.Int("attempts", claimed.Attempts))
	return nil
}

// propagate mirrors the terminal outcome onto the parent notification.
// Failures are logged, not returned: the queue item stays the source of
// truth.
func (p *Processor) propagate(ctx context.Context, item *db.QueueItem, status string) {
	if item.NotificationID == "" {
		return
	}
	if err := p.store.SetDeliveryStatus(ctx, item.NotificationID, item.Channel, status); err != nil {
		p.logger.Warn("failed to propagate delivery status",
			zap.String("notification_id", item.NotificationID),
			zap.String("channel", item.Channel),
			zap.Error(err))
	}
}

// quietUntil reports whether the user is inside their quiet hours window
// and, if so, when delivery may resume. Lookup failures and unset or
// malformed windows count as not quiet.
func (p *Processor) quietUntil(ctx context.Context, userID string) (time.Time, bool) {
	prefs, err := p.store.GetPreferences(ctx, userID)
	if err != nil {
		return time.Time{}, false
	}
	start, ok := parseClock(prefs.QuietHoursStart)
	if !ok {
		return time.Time{}, false
	}
	end, ok := parseClock(prefs.QuietHoursEnd)
	if !ok {
		return time.Time{}, false
	}
	if start == end {
		return time.Time{}, false
	}

	now := p.now()
	cur := now.Hour()*60 + now.Minute()

	var inWindow bool
	if start < end {
		inWindow = cur >= start && cur < end
	} else {
		// Window spans midnight, e.g. 22:00 to 07:00.
		inWindow = cur >= start || cur < end
	}
	if !inWindow {
		return time.Time{}, false
	}

	resume := time.Date(now.Year(), now.Month(), now.Day(), end/60, end%60, 0, 0, now.Location())
	if !resume.After(now) {
		resume = resume.AddDate(0, 0, 1)
	}
	return resume, true
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
