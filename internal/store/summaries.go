package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"perftrail/internal/models"
)

// SummaryFilter selects summaries by target kind and a period_start range.
// An empty TargetID matches every target of the kind.
type SummaryFilter struct {
	Kind       models.TargetKind
	TargetID   string
	PeriodType models.PeriodType
	From       time.Time // inclusive
	To         time.Time // exclusive
}

// UpsertSummary writes s, replacing any existing row for the same target,
// period type and period start. Two concurrent writers for one bucket
// resolve to a single row holding the last write.
func (s *Store) UpsertSummary(ctx context.Context, sum *models.Summary) error {
	sum.Normalize()

	dialect := s.db.Dialect()
	query := `INSERT INTO summaries
		(target_kind, target_id, period_type, period_start, period_end, count, error_count, avg_duration, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)` +
		dialect.Upsert(
			[]string{"target_kind", "target_id", "period_type", "period_start"},
			[]string{"period_end", "count", "error_count", "avg_duration", "updated_at"},
		)

	_, err := s.db.ExecContext(ctx, s.q(query),
		string(sum.Target.Kind), sum.Target.ID, string(sum.PeriodType),
		toMicros(sum.PeriodStart), toMicros(sum.PeriodEnd),
		sum.Count, sum.ErrorCount, sum.AvgDuration, toMicros(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to upsert summary %s: %w", sum.Target, err)
	}
	return nil
}

// GetSummary loads the summary for one bucket.
func (s *Store) GetSummary(ctx context.Context, target models.TargetRef, periodType models.PeriodType, periodStart time.Time) (*models.Summary, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT target_kind, target_id, period_type, period_start, period_end,
			count, error_count, avg_duration
		FROM summaries WHERE target_kind = ? AND target_id = ? AND period_type = ? AND period_start = ?`),
		string(target.Kind), target.ID, string(periodType), toMicros(periodStart))
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	sums, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}
	if len(sums) == 0 {
		return nil, ErrNotFound
	}
	return &sums[0], nil
}

// ListSummaries returns the summaries matching f ordered by period start.
func (s *Store) ListSummaries(ctx context.Context, f SummaryFilter) ([]models.Summary, error) {
	if f.Kind == "" || f.PeriodType == "" {
		return nil, errors.New("summary filter requires kind and period type")
	}

	var (
		where = []string{"target_kind = ?", "period_type = ?", "period_start >= ?", "period_start < ?"}
		args  = []any{string(f.Kind), string(f.PeriodType), toMicros(f.From), toMicros(f.To)}
	)
	if f.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, f.TargetID)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT target_kind, target_id, period_type, period_start, period_end,
			count, error_count, avg_duration
		FROM summaries WHERE `+strings.Join(where, " AND ")+` ORDER BY period_start, target_id`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]models.Summary, error) {
	defer rows.Close()

	var out []models.Summary
	for rows.Next() {
		var (
			sum                    models.Summary
			kind, periodType       string
			periodStart, periodEnd int64
		)
		if err := rows.Scan(&kind, &sum.Target.ID, &periodType, &periodStart, &periodEnd,
			&sum.Count, &sum.ErrorCount, &sum.AvgDuration); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		sum.Target.Kind = models.TargetKind(kind)
		sum.PeriodType = models.PeriodType(periodType)
		sum.PeriodStart = fromMicros(periodStart)
		sum.PeriodEnd = fromMicros(periodEnd)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summaries: %w", err)
	}
	return out, nil
}
