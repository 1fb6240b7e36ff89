// Package summarizer rolls trace roots and operations up into per-target
// day and week summaries.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"perftrail/internal/config"
	"perftrail/internal/logging"
	"perftrail/internal/models"
	"perftrail/internal/store"
)

var (
	// ErrUnknownKind is returned for a target kind with no registered strategy.
	ErrUnknownKind = errors.New("unknown target kind")
	// ErrInvalidPeriod is returned for a period type other than day or week.
	ErrInvalidPeriod = errors.New("invalid period type")
)

// Store is the storage the summarizer reads aggregates from and writes
// summaries to. *store.Store implements it.
type Store interface {
	AggregateRoots(ctx context.Context, kind models.RootKind, targetID string, from, to time.Time) (store.Aggregate, error)
	AggregateQueryOperations(ctx context.Context, queryID string, from, to time.Time) (store.Aggregate, error)
	RootTargets(ctx context.Context, kind models.RootKind, from, to time.Time) ([]string, error)
	QueryTargets(ctx context.Context, from, to time.Time) ([]string, error)
	UpsertSummary(ctx context.Context, sum *models.Summary) error
}

// Strategy aggregates one kind of target.
type Strategy struct {
	// Aggregate computes count, error count and mean duration for one
	// target over [from, to).
	Aggregate func(ctx context.Context, targetID string, from, to time.Time) (store.Aggregate, error)
	// Targets lists the targets with activity in [from, to).
	Targets func(ctx context.Context, from, to time.Time) ([]string, error)
}

// RootStrategy aggregates trace roots of the given kind.
func RootStrategy(st Store, kind models.RootKind) Strategy {
	return Strategy{
		Aggregate: func(ctx context.Context, targetID string, from, to time.Time) (store.Aggregate, error) {
			return st.AggregateRoots(ctx, kind, targetID, from, to)
		},
		Targets: func(ctx context.Context, from, to time.Time) ([]string, error) {
			return st.RootTargets(ctx, kind, from, to)
		},
	}
}

// QueryStrategy aggregates the sql operations linked to a query.
func QueryStrategy(st Store) Strategy {
	return Strategy{
		Aggregate: st.AggregateQueryOperations,
		Targets:   st.QueryTargets,
	}
}

// Options carries the optional collaborators of a Summarizer.
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Summarizer computes and upserts summaries.
type Summarizer struct {
	store      Store
	cfg        config.SummarizerConfig
	strategies map[models.TargetKind]Strategy
	group      singleflight.Group
	logger     *zap.Logger
	metrics    *Metrics
	now        func() time.Time
}

// New creates a summarizer with the job, route and query strategies
// registered.
func New(st Store, cfg config.SummarizerConfig, opts Options) *Summarizer {
	s := &Summarizer{
		store:      st,
		cfg:        cfg,
		strategies: make(map[models.TargetKind]Strategy),
		logger:     logging.OrNop(opts.Logger).Named("summarizer"),
		metrics:    NewMetrics(opts.Registerer),
		now:        opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cfg.Concurrency < 1 {
		s.cfg.Concurrency = 1
	}

	s.Register(models.TargetJob, RootStrategy(st, models.RootJobRun))
	s.Register(models.TargetRoute, RootStrategy(st, models.RootRequest))
	s.Register(models.TargetQuery, QueryStrategy(st))
	return s
}

// Register installs or replaces the strategy for kind.
func (s *Summarizer) Register(kind models.TargetKind, strategy Strategy) {
	s.strategies[kind] = strategy
}

// Kinds returns the registered target kinds in a stable order.
func (s *Summarizer) Kinds() []models.TargetKind {
	kinds := make([]models.TargetKind, 0, len(s.strategies))
	for k := range s.strategies {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (s *Summarizer) bucket(kind models.TargetKind, periodType models.PeriodType, periodStart time.Time) (Strategy, time.Time, time.Time, error) {
	strategy, ok := s.strategies[kind]
	if !ok {
		return Strategy{}, time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	length, err := periodType.Length()
	if err != nil {
		return Strategy{}, time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, periodType)
	}
	start := periodType.Truncate(periodStart)
	return strategy, start, start.Add(length), nil
}

// Summarize computes the summary of target for the bucket containing
// periodStart and upserts it. Running it again for the same bucket
// replaces the row. Concurrent calls for one bucket share a single
// computation.
func (s *Summarizer) Summarize(ctx context.Context, target models.TargetRef, periodType models.PeriodType, periodStart time.Time) (*models.Summary, error) {
	strategy, start, end, err := s.bucket(target.Kind, periodType, periodStart)
	if err != nil {
		return nil, err
	}

	key := target.String() + "|" + string(periodType) + "|" + strconv.FormatInt(start.Unix(), 10)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.computeWithRetry(ctx, strategy, target, periodType, start, end)
	})
	if err != nil {
		s.metrics.Failures.WithLabelValues(string(target.Kind)).Inc()
		return nil, err
	}

	sum := *v.(*models.Summary)
	return &sum, nil
}

func (s *Summarizer) computeWithRetry(ctx context.Context, strategy Strategy, target models.TargetRef, periodType models.PeriodType, start, end time.Time) (*models.Summary, error) {
	backoff := s.cfg.GetRetryBackoffDuration()

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying summary",
				zap.String("target", target.String()),
				zap.String("period", string(periodType)),
				zap.Time("period_start", start),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff * time.Duration(attempt)):
			}
		}

		sum, err := s.compute(ctx, strategy, target, periodType, start, end)
		if err == nil {
			return sum, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("failed to summarize %s for %s %s: %w", target, periodType, start.Format(time.DateOnly), lastErr)
}

func (s *Summarizer) compute(ctx context.Context, strategy Strategy, target models.TargetRef, periodType models.PeriodType, start, end time.Time) (*models.Summary, error) {
	agg, err := strategy.Aggregate(ctx, target.ID, start, end)
	if err != nil {
		return nil, err
	}

	sum := &models.Summary{
		Target:      target,
		PeriodType:  periodType,
		PeriodStart: start,
		PeriodEnd:   end,
		Count:       agg.Count,
		ErrorCount:  agg.ErrorCount,
		AvgDuration: agg.AvgDuration,
	}
	sum.Normalize()

	if err := s.store.UpsertSummary(ctx, sum); err != nil {
		return nil, err
	}
	s.metrics.Written.WithLabelValues(string(target.Kind), string(periodType)).Inc()
	return sum, nil
}

// SummarizeAll summarizes every target of kind with activity in the bucket
// containing periodStart. Targets are processed concurrently.
func (s *Summarizer) SummarizeAll(ctx context.Context, kind models.TargetKind, periodType models.PeriodType, periodStart time.Time) ([]models.Summary, error) {
	strategy, start, end, err := s.bucket(kind, periodType, periodStart)
	if err != nil {
		return nil, err
	}

	targets, err := strategy.Targets(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s targets: %w", kind, err)
	}

	results := make([]models.Summary, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, id := range targets {
		i, id := i, id
		g.Go(func() error {
			sum, err := s.Summarize(gctx, models.TargetRef{Kind: kind, ID: id}, periodType, start)
			if err != nil {
				return err
			}
			results[i] = *sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Backfill summarizes every bucket of periodType overlapping [from, to)
// and returns the number of summaries written.
func (s *Summarizer) Backfill(ctx context.Context, kind models.TargetKind, periodType models.PeriodType, from, to time.Time) (int, error) {
	if _, _, _, err := s.bucket(kind, periodType, from); err != nil {
		return 0, err
	}
	if !from.Before(to) {
		return 0, nil
	}

	written := 0
	for start := periodType.Truncate(from); start.Before(to); start = nextBucket(periodType, start) {
		sums, err := s.SummarizeAll(ctx, kind, periodType, start)
		if err != nil {
			return written, err
		}
		written += len(sums)
	}

	s.logger.Info("backfill complete",
		zap.String("kind", string(kind)),
		zap.String("period", string(periodType)),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("summaries", written),
	)
	return written, nil
}

func nextBucket(periodType models.PeriodType, start time.Time) time.Time {
	if periodType == models.PeriodWeek {
		return start.AddDate(0, 0, 7)
	}
	return start.AddDate(0, 0, 1)
}

// Run summarizes the trailing buckets on every tick until ctx is done.
func (s *Summarizer) Run(ctx context.Context) error {
	interval := s.cfg.GetIntervalDuration()
	s.logger.Info("summarizer started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("summarizer stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce summarizes, for every registered kind, the previous and current
// day and the current week. Errors are logged and do not stop the pass.
func (s *Summarizer) RunOnce(ctx context.Context) {
	now := s.now().UTC()
	buckets := []struct {
		period models.PeriodType
		start  time.Time
	}{
		{models.PeriodDay, now.AddDate(0, 0, -1)},
		{models.PeriodDay, now},
		{models.PeriodWeek, now},
	}

	for _, kind := range s.Kinds() {
		for _, b := range buckets {
			if ctx.Err() != nil {
				return
			}
			sums, err := s.SummarizeAll(ctx, kind, b.period, b.start)
			if err != nil {
				s.logger.Error("summarize failed",
					zap.String("kind", string(kind)),
					zap.String("period", string(b.period)),
					zap.Error(err),
				)
				continue
			}
			s.logger.Debug("summarized",
				zap.String("kind", string(kind)),
				zap.String("period", string(b.period)),
				zap.Int("targets", len(sums)),
			)
		}
	}
}
