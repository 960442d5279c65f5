package delivery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stablehq/farrier/internal/db"
)

// QueueLister pages due work for the polling loop.
type QueueLister interface {
	ListDueQueueItems(ctx context.Context, now time.Time, limit int) ([]db.QueueItem, error)
}

// WorkerConfig holds polling loop settings.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
}

// Worker polls the queue on an interval and feeds due items to the
// processor.
type Worker struct {
	store     QueueLister
	processor *Processor
	config    WorkerConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewWorker creates a polling worker with sensible defaults for any zero
// config values.
func NewWorker(store QueueLister, processor *Processor, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Worker{
		store:     store,
		processor: processor,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs the polling loop until the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("delivery worker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
		zap.Int("concurrency", w.config.Concurrency))

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("delivery worker stopped")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	items, err := w.store.ListDueQueueItems(ctx, w.now(), w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to list due queue items", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, w.config.Concurrency)
	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := w.processor.ProcessItem(ctx, id); err != nil {
				w.logger.Error("failed to process queue item",
					zap.String("queue_item_id", id),
					zap.Error(err))
			}
		}(item.ID)
	}
	wg.Wait()
}
