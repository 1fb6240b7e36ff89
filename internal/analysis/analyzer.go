// Package analysis places a single operation within the distribution of
// equivalent operations recorded recently and suggests optimizations.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"perftrail/internal/config"
	"perftrail/internal/models"
	"perftrail/internal/remediation"
)

// OperationReader loads operations. *store.Store implements it.
type OperationReader interface {
	GetOperation(ctx context.Context, id string) (*models.Operation, error)
	RelatedOperations(ctx context.Context, op *models.Operation, since time.Time, limit int) ([]models.Operation, error)
	TraceOperations(ctx context.Context, parent models.ParentRef) ([]models.Operation, error)
}

// Stats summarizes a sample of durations in milliseconds.
type Stats struct {
	Min        float64 `json:"min_ms"`
	Avg        float64 `json:"avg_ms"`
	Max        float64 `json:"max_ms"`
	SampleSize int     `json:"sample_size"`
}

// PerformanceContext describes how one operation compares to its peers.
type PerformanceContext struct {
	Operation   *models.Operation        `json:"operation"`
	DurationMs  float64                  `json:"duration_ms"`
	Percentile  float64                  `json:"percentile"`
	Stats       Stats                    `json:"stats"`
	Suggestions []remediation.Suggestion `json:"suggestions,omitempty"`
}

// Options carries the optional collaborators of an Analyzer.
type Options struct {
	Now func() time.Time
}

// Analyzer computes performance context. It never writes.
type Analyzer struct {
	reader OperationReader
	cfg    config.AnalysisConfig
	rules  *remediation.Engine
	now    func() time.Time
}

// New creates an analyzer.
func New(reader OperationReader, cfg config.AnalysisConfig, opts Options) *Analyzer {
	a := &Analyzer{
		reader: reader,
		cfg:    cfg,
		rules:  remediation.NewEngine(remediation.ThresholdsFrom(cfg)),
		now:    opts.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.cfg.SampleLimit < 1 {
		a.cfg.SampleLimit = 500
	}
	return a
}

// FindRelated returns the most recent operations sharing op's
// classification key, op excluded, bounded by the sample limit and the
// sample window.
func (a *Analyzer) FindRelated(ctx context.Context, op *models.Operation) ([]models.Operation, error) {
	since := a.now().Add(-a.cfg.GetSampleWindowDuration())
	related, err := a.reader.RelatedOperations(ctx, op, since, a.cfg.SampleLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to find related operations: %w", err)
	}
	return related, nil
}

// PerformanceContext ranks op against its related operations. Without
// related operations the rank and stats are zero.
func (a *Analyzer) PerformanceContext(ctx context.Context, op *models.Operation) (*PerformanceContext, error) {
	related, err := a.FindRelated(ctx, op)
	if err != nil {
		return nil, err
	}

	samples := make([]float64, len(related))
	for i := range related {
		samples[i] = related[i].DurationMs()
	}
	sort.Float64s(samples)

	return &PerformanceContext{
		Operation:  op,
		DurationMs: op.DurationMs(),
		Percentile: CalculatePercentile(op.DurationMs(), samples),
		Stats:      describe(samples),
	}, nil
}

// ContextForOperation loads an operation by id and returns its
// performance context together with the suggestions for it.
func (a *Analyzer) ContextForOperation(ctx context.Context, id string) (*PerformanceContext, error) {
	op, err := a.reader.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}

	pc, err := a.PerformanceContext(ctx, op)
	if err != nil {
		return nil, err
	}

	siblings, err := a.reader.TraceOperations(ctx, op.Parent)
	if err != nil {
		return nil, fmt.Errorf("failed to load trace operations: %w", err)
	}
	pc.Suggestions = a.OptimizationSuggestions(op, siblings)
	return pc, nil
}

// OptimizationSuggestions applies the rule table to op. siblings are the
// operations of op's trace.
func (a *Analyzer) OptimizationSuggestions(op *models.Operation, siblings []models.Operation) []remediation.Suggestion {
	return a.rules.GetSuggestions(op, siblings)
}

func describe(samples []float64) Stats {
	if len(samples) == 0 {
		return Stats{}
	}
	return Stats{
		Min:        floats.Min(samples),
		Avg:        stat.Mean(samples, nil),
		Max:        floats.Max(samples),
		SampleSize: len(samples),
	}
}
