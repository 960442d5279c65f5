package delivery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stablehq/farrier/internal/metrics"
	"github.com/stablehq/farrier/internal/observ"
)

// SweepStore is the persistence surface the sweeper needs.
type SweepStore interface {
	SweepFailedQueueItems(ctx context.Context, cutoff, now time.Time) ([]string, int64, error)
	PurgeTerminalQueueItems(ctx context.Context, cutoff time.Time) (int64, error)
	ArchiveReadNotifications(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// Nudger pokes the delivery worker about an item that just became due
// again, so a retry does not wait for the next poll.
type Nudger interface {
	NudgeQueueItem(ctx context.Context, id string) error
}

// SweeperConfig holds retention settings.
type SweeperConfig struct {
	FailedRetention   time.Duration
	TerminalRetention time.Duration
	ArchiveAfter      time.Duration
	ArchiveBatchSize  int
}

// Sweeper owns the periodic retry and retention passes over the queue.
type Sweeper struct {
	store  SweepStore
	nudger Nudger
	config SweeperConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewSweeper creates a sweeper. The nudger may be nil, in which case reset
// items wait for the next poll.
func NewSweeper(store SweepStore, nudger Nudger, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if cfg.FailedRetention <= 0 {
		cfg.FailedRetention = 24 * time.Hour
	}
	if cfg.TerminalRetention <= 0 {
		cfg.TerminalRetention = 7 * 24 * time.Hour
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = 30 * 24 * time.Hour
	}
	if cfg.ArchiveBatchSize <= 0 {
		cfg.ArchiveBatchSize = 400
	}
	return &Sweeper{
		store:  store,
		nudger: nudger,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SweepRetries gives failed deliveries another chance. Items that exhausted
// their attempts or have been failed longer than the retention are deleted;
// the rest go back to pending, due immediately.
func (s *Sweeper) SweepRetries(ctx context.Context) error {
	logger := observ.NewRunLogger(s.logger)
	now := s.now()

	reset, deleted, err := s.store.SweepFailedQueueItems(ctx, now.Add(-s.config.FailedRetention), now)
	if err != nil {
		return fmt.Errorf("failed to sweep failed queue items: %w", err)
	}

	if s.nudger != nil {
		for _, id := range reset {
			if err := s.nudger.NudgeQueueItem(ctx, id); err != nil {
				logger.Warn("failed to nudge reset queue item",
					zap.String("queue_item_id", id),
					zap.Error(err))
			}
		}
	}

	metrics.RecordSweepActions("retry_reset", len(reset))
	metrics.RecordSweepActions("retry_deleted", int(deleted))
	logger.Info("retry sweep finished",
		zap.Int("reset", len(reset)),
		zap.Int64("deleted", deleted))
	return nil
}

// SweepCleanup enforces retention: terminal queue items past their window
// are purged and old read notifications move to the archive collection.
func (s *Sweeper) SweepCleanup(ctx context.Context) error {
	logger := observ.NewRunLogger(s.logger)
	now := s.now()

	purged, err := s.store.PurgeTerminalQueueItems(ctx, now.Add(-s.config.TerminalRetention))
	if err != nil {
		return fmt.Errorf("failed to purge terminal queue items: %w", err)
	}

	archived, err := s.store.ArchiveReadNotifications(ctx, now.Add(-s.config.ArchiveAfter), s.config.ArchiveBatchSize)
	if err != nil {
		return fmt.Errorf("failed to archive read notifications: %w", err)
	}

	metrics.RecordSweepActions("purged", int(purged))
	metrics.RecordSweepActions("archived", int(archived))
	logger.Info("cleanup sweep finished",
		zap.Int64("purged", purged),
		zap.Int64("archived", archived))
	return nil
}
