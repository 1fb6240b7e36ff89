// Package recorder captures traced units of work (requests and job runs) as
// trees of timed operations and persists each finished tree atomically.
//
// The current span is carried by the context passed to the traced body.
// StartSpan derives a child context, so spans are pushed when opened and
// popped when the caller returns to the enclosing context.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"perftrail/internal/config"
	"perftrail/internal/logging"
	"perftrail/internal/models"
)

// ErrRetry marks a traced unit that will be attempted again. Wrap the
// unit's error with Retry to close the root as retried instead of failed.
var ErrRetry = errors.New("retry requested")

type retryError struct {
	err error
}

func (e *retryError) Error() string {
	if e.err == nil {
		return ErrRetry.Error()
	}
	return e.err.Error()
}

func (e *retryError) Unwrap() error { return e.err }

func (e *retryError) Is(target error) bool { return target == ErrRetry }

// Retry wraps err so that Track finalizes the root as retried. The
// wrapped error is still returned to the caller.
func Retry(err error) error {
	return &retryError{err: err}
}

// TraceWriter persists a closed trace. *store.Store implements it.
type TraceWriter interface {
	SaveTrace(ctx context.Context, root *models.TraceRoot, queries []models.Query) error
}

// Unit describes the traced unit Track opens a root for.
type Unit struct {
	Kind    models.RootKind
	Route   string
	Action  string
	JobName string
	Queue   string
	Tags    map[string]string
}

// Request describes an inbound request, route is "METHOD /pattern".
func Request(route, action string) Unit {
	return Unit{Kind: models.RootRequest, Route: route, Action: action}
}

// Job describes one run of a background job.
func Job(name, queue string) Unit {
	return Unit{Kind: models.RootJobRun, JobName: name, Queue: queue}
}

// Options carries the optional collaborators of a Recorder.
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
	// SaveTimeout bounds the finalize write. Defaults to 5s.
	SaveTimeout time.Duration
}

// Recorder opens, fills and finalizes trace roots.
type Recorder struct {
	writer      TraceWriter
	cfg         config.RecorderConfig
	logger      *zap.Logger
	metrics     *Metrics
	now         func() time.Time
	saveTimeout time.Duration
}

// New creates a recorder writing finished traces to w.
func New(w TraceWriter, cfg config.RecorderConfig, opts Options) *Recorder {
	r := &Recorder{
		writer:      w,
		cfg:         cfg,
		logger:      logging.OrNop(opts.Logger).Named("recorder"),
		metrics:     NewMetrics(opts.Registerer),
		now:         opts.Now,
		saveTimeout: opts.SaveTimeout,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.saveTimeout <= 0 {
		r.saveTimeout = 5 * time.Second
	}
	return r
}

// activeTrace is the mutable state of one open root. Instrumentation may
// report from goroutines spawned by the body, so access is locked.
type activeTrace struct {
	mu      sync.Mutex
	root    models.TraceRoot
	queries map[string]models.Query
	dropped int
	closed  bool
}

type traceKey struct{}

type spanKey struct{}

func traceFrom(ctx context.Context) *activeTrace {
	at, _ := ctx.Value(traceKey{}).(*activeTrace)
	return at
}

// TraceID returns the id of the root open in ctx, or "" outside a traced unit.
func TraceID(ctx context.Context) string {
	if at := traceFrom(ctx); at != nil {
		return at.root.ID
	}
	return ""
}

// Track opens a root for unit, runs body with a context carrying it and
// finalizes the root from body's outcome. body's error is returned
// unchanged. A panic closes the root as failed and is re-raised.
func (r *Recorder) Track(ctx context.Context, unit Unit, body func(ctx context.Context) error) error {
	if !r.cfg.Enabled {
		return body(ctx)
	}
	if !unit.Kind.Valid() {
		r.fault("invalid_unit", fmt.Errorf("unknown root kind %q", unit.Kind))
		return body(ctx)
	}

	at := r.open(unit)
	ctx = context.WithValue(ctx, traceKey{}, at)
	ctx = context.WithValue(ctx, spanKey{}, "")

	finished := false
	defer func() {
		if finished {
			return
		}
		r.finalize(ctx, at, models.StatusFailure)
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	err := body(ctx)
	finished = true
	r.finalize(ctx, at, statusFor(err))
	return err
}

// TrackJob is Track for a job run.
func (r *Recorder) TrackJob(ctx context.Context, name, queue string, fn func(ctx context.Context) error) error {
	return r.Track(ctx, Job(name, queue), fn)
}

func statusFor(err error) models.Status {
	switch {
	case err == nil:
		return models.StatusSuccess
	case errors.Is(err, ErrRetry):
		return models.StatusRetried
	default:
		return models.StatusFailure
	}
}

func (r *Recorder) open(unit Unit) *activeTrace {
	tags := make(map[string]string, len(unit.Tags))
	for k, v := range unit.Tags {
		tags[k] = v
	}
	return &activeTrace{
		root: models.TraceRoot{
			ID:         uuid.NewString(),
			Kind:       unit.Kind,
			Route:      unit.Route,
			Action:     unit.Action,
			JobName:    unit.JobName,
			Queue:      unit.Queue,
			OccurredAt: r.now().UTC(),
			Status:     models.StatusOpen,
			Tags:       tags,
		},
		queries: make(map[string]models.Query),
	}
}

// finalize closes the root and writes it. Only the first call has any
// effect. Faults in the writer, panics included, are logged and counted.
func (r *Recorder) finalize(ctx context.Context, at *activeTrace, status models.Status) {
	defer func() {
		if p := recover(); p != nil {
			r.fault("panic", fmt.Errorf("%v", p), zap.String("trace_id", at.root.ID))
		}
	}()

	at.mu.Lock()
	if at.closed {
		at.mu.Unlock()
		return
	}
	at.closed = true

	root := &at.root
	end := r.now().UTC()
	if end.Before(root.OccurredAt) {
		end = root.OccurredAt
	}
	root.Duration = end.Sub(root.OccurredAt)
	root.Status = status
	clipIdentity(root)
	clampOperations(root)
	if at.dropped > 0 {
		root.Tags["dropped_operations"] = fmt.Sprint(at.dropped)
	}
	if len(root.Tags) == 0 {
		root.Tags = nil
	}

	queries := make([]models.Query, 0, len(at.queries))
	for _, q := range at.queries {
		queries = append(queries, q)
	}
	at.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.saveTimeout)
	defer cancel()

	if r.writer == nil {
		r.fault("save", errors.New("no trace writer"), zap.String("trace_id", root.ID))
		return
	}
	if err := r.writer.SaveTrace(saveCtx, root, queries); err != nil {
		r.fault("save", err, zap.String("trace_id", root.ID))
		return
	}

	r.metrics.TracesRecorded.WithLabelValues(string(root.Kind), string(root.Status)).Inc()
	r.metrics.TraceDuration.WithLabelValues(string(root.Kind)).Observe(root.Duration.Seconds())
	r.logger.Debug("trace recorded",
		zap.String("trace_id", root.ID),
		zap.String("target", root.TargetID()),
		zap.String("status", string(root.Status)),
		zap.Duration("duration", root.Duration),
		zap.Int("operations", len(root.Operations)),
	)
}

// clampOperations pulls every operation inside the root's time range.
// Clocks read by instrumentation hooks are not guaranteed to agree with
// the recorder's.
func clampOperations(root *models.TraceRoot) {
	start, end := root.OccurredAt, root.EndedAt()
	for i := range root.Operations {
		op := &root.Operations[i]
		if op.StartTime.Before(start) {
			op.StartTime = start
		}
		if op.StartTime.After(end) {
			op.StartTime = end
		}
		if limit := end.Sub(op.StartTime); op.Duration > limit {
			op.Duration = limit
		}
	}
}

func (r *Recorder) fault(reason string, err error, fields ...zap.Field) {
	r.metrics.InstrumentationFailure.WithLabelValues(reason).Inc()
	r.logger.Error("instrumentation failure", append(fields, zap.String("reason", reason), zap.Error(err))...)
}
