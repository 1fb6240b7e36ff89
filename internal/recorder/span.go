package recorder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"perftrail/internal/models"
)

// Span is an open sub-span. Operations recorded through the context
// returned by StartSpan are nested under it.
type Span struct {
	r       *Recorder
	ctx     context.Context
	id      string
	parent  string
	typ     models.OperationType
	label   string
	started time.Time
	ended   atomic.Bool
}

// StartSpan opens a sub-span under the innermost open span of ctx. Outside
// a traced unit the returned span is inert and ctx is returned unchanged.
func (r *Recorder) StartSpan(ctx context.Context, typ models.OperationType, label string) (context.Context, *Span) {
	at := traceFrom(ctx)
	if at == nil {
		inert := &Span{}
		inert.ended.Store(true)
		return ctx, inert
	}
	span := &Span{
		r:       r,
		ctx:     ctx,
		id:      uuid.NewString(),
		parent:  currentSpan(ctx),
		typ:     typ,
		label:   label,
		started: r.now().UTC(),
	}
	return context.WithValue(ctx, spanKey{}, span.id), span
}

// ID returns the id the span's operation is stored under.
func (s *Span) ID() string { return s.id }

// End closes the span and records it as an operation. Calls after the
// first are ignored, including concurrent ones.
func (s *Span) End(metadata map[string]string) {
	if s == nil || !s.ended.CompareAndSwap(false, true) {
		return
	}
	s.r.record(s.ctx, models.Operation{
		ID:           s.id,
		ParentSpanID: s.parent,
		Type:         s.typ,
		Label:        s.label,
		StartTime:    s.started,
		Duration:     s.r.now().UTC().Sub(s.started),
		Metadata:     metadata,
	})
}

func currentSpan(ctx context.Context) string {
	id, _ := ctx.Value(spanKey{}).(string)
	return id
}

// RecordOperation appends a finished operation under the innermost open
// span of ctx. endedAt before startedAt is clamped to a zero duration. For
// sql operations the statement is read from metadata["sql"], falling back
// to label, and linked to its normalized Query. Outside a traced unit the
// call does nothing.
func (r *Recorder) RecordOperation(ctx context.Context, typ models.OperationType, label string, startedAt, endedAt time.Time, metadata map[string]string) {
	if traceFrom(ctx) == nil {
		return
	}
	if endedAt.Before(startedAt) {
		endedAt = startedAt
	}
	r.record(ctx, models.Operation{
		ID:           uuid.NewString(),
		ParentSpanID: currentSpan(ctx),
		Type:         typ,
		Label:        label,
		StartTime:    startedAt.UTC(),
		Duration:     endedAt.Sub(startedAt),
		Metadata:     metadata,
	})
}

func (r *Recorder) record(ctx context.Context, op models.Operation) {
	at := traceFrom(ctx)
	if at == nil {
		return
	}
	if op.Type == "" {
		op.Type = models.OperationOther
	}
	if op.Duration < 0 {
		op.Duration = 0
	}

	at.mu.Lock()
	defer at.mu.Unlock()

	if at.closed {
		r.metrics.OperationsDropped.Inc()
		return
	}
	if r.cfg.MaxOperations > 0 && len(at.root.Operations) >= r.cfg.MaxOperations {
		at.dropped++
		r.metrics.OperationsDropped.Inc()
		return
	}

	op.Parent = at.root.Parent()
	if op.Type == models.OperationSQL {
		op.Metadata = linkQuery(at, &op, r.now().UTC())
	}
	op.Label = clip(op.Label, maxIdentityLen)
	at.root.Operations = append(at.root.Operations, op)
}

// linkQuery resolves the operation's statement to a Query, registering it
// on the trace the first time it is seen. The raw statement in the
// returned metadata is replaced by its normalized form, and so is the
// label when it carried the statement.
func linkQuery(at *activeTrace, op *models.Operation, now time.Time) map[string]string {
	raw, fromLabel := op.Metadata["sql"], false
	if raw == "" {
		raw, fromLabel = op.Label, true
	}
	normalized := NormalizeSQL(raw)
	if normalized == "" {
		return op.Metadata
	}
	if fromLabel {
		op.Label = normalized
	}

	fp := Fingerprint(normalized)
	q, ok := at.queries[fp]
	if !ok {
		q = models.Query{
			ID:            QueryID(normalized),
			Fingerprint:   fp,
			NormalizedSQL: normalized,
			CreatedAt:     now,
		}
		at.queries[fp] = q
	}
	op.QueryID = q.ID

	meta := make(map[string]string, len(op.Metadata)+1)
	for k, v := range op.Metadata {
		meta[k] = v
	}
	meta["sql"] = normalized
	return meta
}

// AddTag sets a tag on the root open in ctx.
func (r *Recorder) AddTag(ctx context.Context, key, value string) {
	at := traceFrom(ctx)
	if at == nil {
		return
	}
	at.mu.Lock()
	defer at.mu.Unlock()
	if !at.closed {
		at.root.Tags[key] = value
	}
}

// SetTarget replaces the route of the request open in ctx. Middleware
// calls it once routing has resolved the matched pattern.
func (r *Recorder) SetTarget(ctx context.Context, route string) {
	at := traceFrom(ctx)
	if at == nil || route == "" {
		return
	}
	at.mu.Lock()
	defer at.mu.Unlock()
	if !at.closed && at.root.Kind == models.RootRequest {
		at.root.Route = route
	}
}
