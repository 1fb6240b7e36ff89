// Package cards turns day summaries into metric cards: a headline value for
// the last seven days, its trend against the seven days before, and a
// daily sparkline.
package cards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perftrail/internal/config"
	"perftrail/internal/models"
	"perftrail/internal/store"
)

// ErrUnknownMetric is returned for a metric name the engine cannot compute.
var ErrUnknownMetric = errors.New("unknown metric")

// Metric names a value a card can show.
type Metric string

const (
	MetricCount     Metric = "count"
	MetricDuration  Metric = "duration"
	MetricErrorRate Metric = "error_rate"
)

// Metrics lists every supported metric.
var Metrics = []Metric{MetricCount, MetricDuration, MetricErrorRate}

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	for _, m := range Metrics {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

const window = 7 * 24 * time.Hour

// SummaryReader lists stored summaries. *store.Store implements it.
type SummaryReader interface {
	ListSummaries(ctx context.Context, f store.SummaryFilter) ([]models.Summary, error)
}

// Request selects the card to build. An empty TargetID aggregates every
// target of Kind.
type Request struct {
	Kind     models.TargetKind
	TargetID string
	Metric   Metric
}

// Card is a rendered metric.
type Card struct {
	Kind      models.TargetKind `json:"kind"`
	TargetID  string            `json:"target_id,omitempty"`
	Metric    Metric            `json:"metric"`
	Value     float64           `json:"value"`
	Display   string            `json:"display"`
	Previous  float64           `json:"previous"`
	Trend     Trend             `json:"trend"`
	Sparkline Sparkline         `json:"sparkline"`
}

// Options carries the optional collaborators of an Engine.
type Options struct {
	Now func() time.Time
}

// Engine builds cards from day summaries. It only reads.
type Engine struct {
	reader SummaryReader
	cfg    config.AnalysisConfig
	now    func() time.Time
}

// NewEngine creates a card engine.
func NewEngine(reader SummaryReader, cfg config.AnalysisConfig, opts Options) *Engine {
	e := &Engine{reader: reader, cfg: cfg, now: opts.Now}
	if e.now == nil {
		e.now = time.Now
	}
	if e.cfg.SparklineDays < 1 {
		e.cfg.SparklineDays = 14
	}
	return e
}

// Card builds one card.
func (e *Engine) Card(ctx context.Context, req Request) (*Card, error) {
	cards, err := e.build(ctx, req.Kind, req.TargetID, []Metric{req.Metric})
	if err != nil {
		return nil, err
	}
	return &cards[0], nil
}

// Overview builds a card for every metric of one target from a single read.
func (e *Engine) Overview(ctx context.Context, kind models.TargetKind, targetID string) ([]Card, error) {
	return e.build(ctx, kind, targetID, Metrics)
}

func (e *Engine) build(ctx context.Context, kind models.TargetKind, targetID string, metrics []Metric) ([]Card, error) {
	for _, m := range metrics {
		if _, err := ParseMetric(string(m)); err != nil {
			return nil, err
		}
	}

	now := e.now().UTC()
	today := models.PeriodDay.Truncate(now)
	sparkStart := today.AddDate(0, 0, -e.cfg.SparklineDays)

	from := now.Add(-2 * window)
	if sparkStart.Before(from) {
		from = sparkStart
	}
	sums, err := e.reader.ListSummaries(ctx, store.SummaryFilter{
		Kind:       kind,
		TargetID:   targetID,
		PeriodType: models.PeriodDay,
		From:       from,
		To:         today.AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries: %w", err)
	}

	var current, previous []models.Summary
	for _, s := range sums {
		switch {
		case !s.PeriodStart.Before(now.Add(-window)) && s.PeriodStart.Before(now):
			current = append(current, s)
		case !s.PeriodStart.Before(now.Add(-2*window)) && s.PeriodStart.Before(now.Add(-window)):
			previous = append(previous, s)
		}
	}

	policy := policyFor(kind)
	cards := make([]Card, 0, len(metrics))
	for _, m := range metrics {
		cur, prev := metricValue(m, current), metricValue(m, previous)
		cards = append(cards, Card{
			Kind:      kind,
			TargetID:  targetID,
			Metric:    m,
			Value:     cur,
			Display:   display(m, cur),
			Previous:  prev,
			Trend:     ComputeTrend(cur, prev, policy, e.cfg.StableThreshold),
			Sparkline: buildSparkline(m, sums, sparkStart, e.cfg.SparklineDays),
		})
	}
	return cards, nil
}

// policyFor picks the zero-baseline policy of a card kind. Job cards
// report growth from an idle week as up 100%; route and query cards treat
// it as stable.
func policyFor(kind models.TargetKind) ZeroBaseline {
	if kind == models.TargetJob {
		return ZeroBaselineFixed
	}
	return ZeroBaselineStable
}

func metricValue(m Metric, sums []models.Summary) float64 {
	switch m {
	case MetricCount:
		return float64(totalCount(sums))
	case MetricDuration:
		return WeightedAverage(sums)
	case MetricErrorRate:
		return ErrorRate(sums)
	}
	return 0
}

func display(m Metric, v float64) string {
	switch m {
	case MetricCount:
		return FormatCount(int64(v))
	case MetricDuration:
		return FormatDuration(v)
	default:
		return FormatRate(v)
	}
}

func totalCount(sums []models.Summary) int64 {
	var n int64
	for _, s := range sums {
		n += s.Count
	}
	return n
}

// WeightedAverage returns Σ(avg·count) / Σcount over sums.
func WeightedAverage(sums []models.Summary) float64 {
	var total, weighted float64
	for _, s := range sums {
		total += float64(s.Count)
		weighted += s.AvgDuration * float64(s.Count)
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// ErrorRate returns failures as a percentage of all counted roots.
func ErrorRate(sums []models.Summary) float64 {
	var count, errs int64
	for _, s := range sums {
		count += s.Count
		errs += s.ErrorCount
	}
	if count == 0 {
		return 0
	}
	return float64(errs) / float64(count) * 100
}
