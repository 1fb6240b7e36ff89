package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"perftrail/internal/models"
)

const operationColumns = `id, parent_kind, parent_id, parent_span_id, operation_type, label, start_time, duration_ms, query_id, metadata`

// SaveTrace writes a closed root, every one of its operations and the queries
// they reference in a single transaction, so readers never observe a
// partial trace.
func (s *Store) SaveTrace(ctx context.Context, root *models.TraceRoot, queries []models.Query) error {
	if !root.Status.IsClosed() {
		return fmt.Errorf("trace %s is still open", root.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertQuery := s.q(s.db.Dialect().InsertIgnore("queries",
		[]string{"id", "fingerprint", "normalized_sql", "created_at"}, []string{"fingerprint"}))
	for _, q := range queries {
		if _, err := tx.ExecContext(ctx, insertQuery, q.ID, q.Fingerprint, q.NormalizedSQL, toMicros(q.CreatedAt)); err != nil {
			return fmt.Errorf("failed to insert query %s: %w", q.Fingerprint, err)
		}
	}

	tags, err := encodeMap(root.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO trace_roots
		(id, kind, target_id, route, action, job_name, queue, occurred_at, duration_ms, status, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		root.ID, string(root.Kind), root.TargetID(), nullable(root.Route), nullable(root.Action),
		nullable(root.JobName), nullable(root.Queue), toMicros(root.OccurredAt), toMs(root.Duration),
		string(root.Status), tags)
	if err != nil {
		return fmt.Errorf("failed to insert trace root: %w", err)
	}

	if len(root.Operations) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO operations (`+operationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare operation insert: %w", err)
		}
		defer stmt.Close()

		for i := range root.Operations {
			op := &root.Operations[i]
			if op.Parent.IsZero() {
				return fmt.Errorf("operation %s has no parent", op.ID)
			}
			meta, err := encodeMap(op.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata: %w", err)
			}
			_, err = stmt.ExecContext(ctx, op.ID, string(op.Parent.Kind()), op.Parent.ID(), nullable(op.ParentSpanID),
				string(op.Type), op.Label, toMicros(op.StartTime), toMs(op.Duration), nullable(op.QueryID), meta)
			if err != nil {
				return fmt.Errorf("failed to insert operation: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trace: %w", err)
	}
	return nil
}

// GetTrace loads a root and its operations ordered by start time.
func (s *Store) GetTrace(ctx context.Context, id string) (*models.TraceRoot, error) {
	var (
		root                      models.TraceRoot
		kind, status, target      string
		route, action, job, queue sql.NullString
		occurredAt                int64
		durationMs                float64
		tags                      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, kind, target_id, route, action, job_name, queue,
		occurred_at, duration_ms, status, tags FROM trace_roots WHERE id = ?`), id).
		Scan(&root.ID, &kind, &target, &route, &action, &job, &queue, &occurredAt, &durationMs, &status, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trace root: %w", err)
	}
	root.Kind = models.RootKind(kind)
	root.Route, root.Action = route.String, action.String
	root.JobName, root.Queue = job.String, queue.String
	root.OccurredAt = fromMicros(occurredAt)
	root.Duration = fromMs(durationMs)
	root.Status = models.Status(status)
	root.Tags = decodeMap(tags)

	ops, err := s.TraceOperations(ctx, root.Parent())
	if err != nil {
		return nil, err
	}
	root.Operations = ops
	return &root, nil
}

// TraceOperations returns every operation owned by the referenced root.
func (s *Store) TraceOperations(ctx context.Context, parent models.ParentRef) ([]models.Operation, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+operationColumns+` FROM operations
		WHERE parent_kind = ? AND parent_id = ? ORDER BY start_time, id`), string(parent.Kind()), parent.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	return scanOperations(rows)
}

// GetOperation loads one operation by id.
func (s *Store) GetOperation(ctx context.Context, id string) (*models.Operation, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+operationColumns+` FROM operations WHERE id = ?`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation: %w", err)
	}
	ops, err := scanOperations(rows)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, ErrNotFound
	}
	return &ops[0], nil
}

// RelatedOperations returns the most recent operations sharing op's
// classification key, excluding op itself. Only operations started at or
// after since are considered and at most limit rows are returned.
func (s *Store) RelatedOperations(ctx context.Context, op *models.Operation, since time.Time, limit int) ([]models.Operation, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if op.Type == models.OperationSQL && op.QueryID != "" {
		rows, err = s.db.QueryContext(ctx, s.q(`SELECT `+operationColumns+` FROM operations
			WHERE query_id = ? AND id <> ? AND start_time >= ?
			ORDER BY start_time DESC LIMIT ?`), op.QueryID, op.ID, toMicros(since), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, s.q(`SELECT `+operationColumns+` FROM operations
			WHERE operation_type = ? AND label = ? AND id <> ? AND start_time >= ?
			ORDER BY start_time DESC LIMIT ?`), string(op.Type), op.Label, op.ID, toMicros(since), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query related operations: %w", err)
	}
	return scanOperations(rows)
}

// GetQuery loads a normalized query by id.
func (s *Store) GetQuery(ctx context.Context, id string) (*models.Query, error) {
	var (
		q         models.Query
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, fingerprint, normalized_sql, created_at FROM queries WHERE id = ?`), id).
		Scan(&q.ID, &q.Fingerprint, &q.NormalizedSQL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load query: %w", err)
	}
	q.CreatedAt = fromMicros(createdAt)
	return &q, nil
}

// AddTags merges tags into a closed root. Tags are the only attribute of a
// root that may change after it is written.
func (s *Store) AddTags(ctx context.Context, rootID string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current sql.NullString
	err = tx.QueryRowContext(ctx, s.q(`SELECT tags FROM trace_roots WHERE id = ?`), rootID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load tags: %w", err)
	}

	merged := decodeMap(current)
	if merged == nil {
		merged = make(map[string]string, len(tags))
	}
	for k, v := range tags {
		merged[k] = v
	}
	encoded, err := encodeMap(merged)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE trace_roots SET tags = ? WHERE id = ?`), encoded, rootID); err != nil {
		return fmt.Errorf("failed to update tags: %w", err)
	}
	return tx.Commit()
}

// AggregateRoots counts the closed roots of one target with occurred_at in
// [from, to), how many of them failed, and their mean duration.
func (s *Store) AggregateRoots(ctx context.Context, kind models.RootKind, targetID string, from, to time.Time) (Aggregate, error) {
	var agg Aggregate
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'failure' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM trace_roots
		WHERE kind = ? AND target_id = ? AND status <> 'open' AND occurred_at >= ? AND occurred_at < ?`),
		string(kind), targetID, toMicros(from), toMicros(to)).
		Scan(&agg.Count, &agg.ErrorCount, &agg.AvgDuration)
	if err != nil {
		return Aggregate{}, fmt.Errorf("failed to aggregate roots: %w", err)
	}
	return agg, nil
}

// AggregateQueryOperations aggregates the sql operations linked to a query
// that started in [from, to).
func (s *Store) AggregateQueryOperations(ctx context.Context, queryID string, from, to time.Time) (Aggregate, error) {
	var agg Aggregate
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*), COALESCE(AVG(duration_ms), 0)
		FROM operations WHERE query_id = ? AND start_time >= ? AND start_time < ?`),
		queryID, toMicros(from), toMicros(to)).
		Scan(&agg.Count, &agg.AvgDuration)
	if err != nil {
		return Aggregate{}, fmt.Errorf("failed to aggregate query operations: %w", err)
	}
	return agg, nil
}

// RootTargets lists the distinct targets of a root kind with activity in [from, to).
func (s *Store) RootTargets(ctx context.Context, kind models.RootKind, from, to time.Time) ([]string, error) {
	return s.distinct(ctx, `SELECT DISTINCT target_id FROM trace_roots
		WHERE kind = ? AND occurred_at >= ? AND occurred_at < ? ORDER BY target_id`,
		string(kind), toMicros(from), toMicros(to))
}

// QueryTargets lists the distinct queries executed in [from, to).
func (s *Store) QueryTargets(ctx context.Context, from, to time.Time) ([]string, error) {
	return s.distinct(ctx, `SELECT DISTINCT query_id FROM operations
		WHERE query_id IS NOT NULL AND start_time >= ? AND start_time < ? ORDER BY query_id`,
		toMicros(from), toMicros(to))
}

func (s *Store) distinct(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanOperations(rows *sql.Rows) ([]models.Operation, error) {
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		var (
			op                        models.Operation
			parentKind, parentID, typ string
			parentSpan, queryID, meta sql.NullString
			start                     int64
			durationMs                float64
		)
		if err := rows.Scan(&op.ID, &parentKind, &parentID, &parentSpan, &typ, &op.Label,
			&start, &durationMs, &queryID, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		parent, err := models.NewParentRef(models.RootKind(parentKind), parentID)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", op.ID, err)
		}
		op.Parent = parent
		op.ParentSpanID = parentSpan.String
		op.Type = models.OperationType(typ)
		op.StartTime = fromMicros(start)
		op.Duration = fromMs(durationMs)
		op.QueryID = queryID.String
		op.Metadata = decodeMap(meta)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}
	return ops, nil
}
