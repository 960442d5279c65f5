// Package materialize expands active recurring definitions into concrete,
// dated activity instances ahead of time.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stablehq/farrier/internal/db"
	"github.com/stablehq/farrier/internal/metrics"
	"github.com/stablehq/farrier/internal/observ"
	"github.com/stablehq/farrier/internal/recurrence"
)

// Store is the persistence surface the materializer needs.
type Store interface {
	ListActiveDefinitions(ctx context.Context) ([]db.RecurringDefinition, error)
	ListExceptions(ctx context.Context, definitionID, from, to string) ([]db.ActivityException, error)
	ListInstanceDates(ctx context.Context, definitionID, from, to string) (map[string]bool, error)
	InsertInstances(ctx context.Context, instances []db.ActivityInstance) (int, error)
	UpdateDefinitionProgress(ctx context.Context, definitionID, lastGeneratedDate string, rotationIndex int) error
	ListMembers(ctx context.Context, tenantID string) ([]db.Member, error)
}

// Config holds materializer settings.
type Config struct {
	Workers          int
	MaxBatchSize     int
	DefaultDaysAhead int
	HolidayFactor    float64
	Holidays         []string
}

// Materializer generates activity instances for every active definition.
type Materializer struct {
	store    Store
	config   Config
	logger   *zap.Logger
	holidays map[string]bool
	now      func() time.Time
}

// Summary aggregates the outcome of one materialization run.
type Summary struct {
	Definitions       int
	Created           int
	SkippedExisting   int
	SkippedExceptions int
	Failed            int
}

type defResult struct {
	created           int
	skippedExisting   int
	skippedExceptions int
}

// New creates a materializer with sensible defaults for any zero config
// values.
func New(store Store, cfg Config, logger *zap.Logger) *Materializer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 400
	}
	if cfg.DefaultDaysAhead <= 0 {
		cfg.DefaultDaysAhead = 14
	}
	if cfg.HolidayFactor <= 0 {
		cfg.HolidayFactor = 1.5
	}

	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, d := range cfg.Holidays {
		holidays[d] = true
	}

	return &Materializer{
		store:    store,
		config:   cfg,
		logger:   logger,
		holidays: holidays,
		now:      time.Now,
	}
}

// Run materializes every active definition across all tenants. Definitions
// fail independently; only the initial listing fails the run itself.
func (m *Materializer) Run(ctx context.Context) (Summary, error) {
	logger := observ.NewRunLogger(m.logger)
	start := m.now()

	defs, err := m.store.ListActiveDefinitions(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list active definitions: %w", err)
	}
	logger.Info("materialization started", zap.Int("definitions", len(defs)))

	roster := newRosterCache(m.store)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		summary = Summary{Definitions: len(defs)}
		sem     = make(chan struct{}, m.config.Workers)
	)

	for _, def := range defs {
		wg.Add(1)
		sem <- struct{}{}
		go func(def db.RecurringDefinition) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := m.processDefinition(ctx, logger, roster, def)

			mu.Lock()
			defer mu.Unlock()
			summary.Created += res.created
			summary.SkippedExisting += res.skippedExisting
			summary.SkippedExceptions += res.skippedExceptions
			if err != nil {
				summary.Failed++
				logger.Error("definition materialization failed",
					zap.String("definition_id", def.ID),
					zap.String("tenant_id", def.TenantID),
					zap.Error(err))
				metrics.RecordDefinitionProcessed("error")
				return
			}
			metrics.RecordDefinitionProcessed("ok")
		}(def)
	}
	wg.Wait()

	metrics.RecordInstancesCreated(summary.Created)
	metrics.ObserveJobDuration("materialize", m.now().Sub(start).Seconds())
	logger.Info("materialization finished",
		zap.Int("definitions", summary.Definitions),
		zap.Int("created", summary.Created),
		zap.Int("skipped_existing", summary.SkippedExisting),
		zap.Int("skipped_exceptions", summary.SkippedExceptions),
		zap.Int("failed", summary.Failed),
		zap.Duration("took", m.now().Sub(start)))

	return summary, nil
}

func (m *Materializer) processDefinition(ctx context.Context, logger *zap.Logger, roster *rosterCache, def db.RecurringDefinition) (defResult, error) {
	var res defResult

	days := def.GenerateDaysAhead
	if days <= 0 {
		days = m.config.DefaultDaysAhead
	}
	today := recurrence.Day(m.now())
	windowEnd := today.AddDate(0, 0, days-1)

	rule := recurrence.Parse(def.Rule)
	dates, err := recurrence.Expand(rule, recurrence.Day(def.PatternStart), def.PatternEnd, today, windowEnd)
	if err != nil {
		if !errors.Is(err, recurrence.ErrIterationLimit) {
			return res, err
		}
		logger.Warn("rule expansion truncated, keeping partial result",
			zap.String("definition_id", def.ID),
			zap.Int("dates", len(dates)))
		metrics.RecordExpansionTruncated()
	}
	if len(dates) == 0 {
		return res, nil
	}

	from := recurrence.ISO(dates[0])
	to := recurrence.ISO(dates[len(dates)-1])

	// Shared reference data is loaded once per definition up front, never
	// inside the per-date loop.
	exceptions, err := m.store.ListExceptions(ctx, def.ID, from, to)
	if err != nil {
		return res, fmt.Errorf("failed to list exceptions: %w", err)
	}
	overrides := make(map[string]db.ActivityException, len(exceptions))
	for _, exc := range exceptions {
		overrides[exc.Date] = exc
	}

	existing, err := m.store.ListInstanceDates(ctx, def.ID, from, to)
	if err != nil {
		return res, fmt.Errorf("failed to list existing instances: %w", err)
	}

	names, err := roster.names(ctx, def.TenantID)
	if err != nil {
		return res, fmt.Errorf("failed to load member roster: %w", err)
	}

	assign := newAssigner(def)
	factor := def.HolidayWeightFactor
	if factor <= 0 {
		factor = m.config.HolidayFactor
	}

	var (
		batch    []db.ActivityInstance
		lastDate string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		created, err := m.store.InsertInstances(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to persist instance batch: %w", err)
		}
		res.created += created
		batch = nil
		return nil
	}

	for _, date := range dates {
		iso := recurrence.ISO(date)
		if existing[iso] {
			res.skippedExisting++
			continue
		}
		exc, hasExc := overrides[iso]
		if hasExc && exc.Type == db.ExceptionSkip {
			res.skippedExceptions++
			continue
		}

		// The rotation slot is consumed before a modify exception overrides
		// the assignee, so overridden dates do not shift later assignments.
		inst := m.buildInstance(def, date, iso, assign, names, factor)
		if hasExc {
			applyOverride(&inst, exc, names)
		}
		batch = append(batch, inst)
		lastDate = iso

		if len(batch) >= m.config.MaxBatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	if lastDate != "" {
		rotIdx := def.CurrentRotationIndex
		if rot, ok := assign.(*rotationAssigner); ok {
			rotIdx = rot.cursor
		}
		if err := m.store.UpdateDefinitionProgress(ctx, def.ID, lastDate, rotIdx); err != nil {
			return res, fmt.Errorf("failed to record generation progress: %w", err)
		}
	}

	return res, nil
}

func (m *Materializer) buildInstance(def db.RecurringDefinition, date time.Time, iso string, assign assigner, names map[string]string, factor float64) db.ActivityInstance {
	assignee := assign.next()

	weight := def.Weight
	if weight <= 0 {
		weight = 1
	}
	holiday := m.holidayShift(date)
	if holiday && def.HolidayWeightEnabled {
		weight *= factor
	}

	return db.ActivityInstance{
		ID:              db.InstanceID(def.ID, iso),
		TenantID:        def.TenantID,
		DefinitionID:    def.ID,
		Title:           def.Title,
		ActivityType:    def.ActivityType,
		Date:            iso,
		TimeOfDay:       def.TimeOfDay,
		DurationMinutes: def.DurationMinutes,
		AssignedTo:      assignee,
		AssigneeName:    names[assignee],
		Weight:          weight,
		HolidayShift:    holiday,
		Status:          db.InstanceScheduled,
		CreatedAt:       m.now().UTC(),
	}
}

func applyOverride(inst *db.ActivityInstance, exc db.ActivityException, names map[string]string) {
	if exc.Title != nil {
		inst.Title = *exc.Title
	}
	if exc.TimeOfDay != nil {
		inst.TimeOfDay = *exc.TimeOfDay
	}
	if exc.AssignedTo != nil {
		inst.AssignedTo = *exc.AssignedTo
		inst.AssigneeName = names[*exc.AssignedTo]
	}
	inst.FromException = true
}

// rosterCache memoizes tenant rosters so member names are fetched once per
// tenant per run.
type rosterCache struct {
	mu       sync.Mutex
	store    Store
	byTenant map[string]map[string]string
}

func newRosterCache(store Store) *rosterCache {
	return &rosterCache{store: store, byTenant: make(map[string]map[string]string)}
}

func (c *rosterCache) names(ctx context.Context, tenantID string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if names, ok := c.byTenant[tenantID]; ok {
		return names, nil
	}
	members, err := c.store.ListMembers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(members))
	for _, mb := range members {
		names[mb.ID] = mb.Name
	}
	c.byTenant[tenantID] = names
	return names, nil
}
