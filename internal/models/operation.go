package models

import "time"

// OperationType classifies a sub-step recorded inside a trace.
type OperationType string

const (
	OperationSQL        OperationType = "sql"
	OperationView       OperationType = "view"
	OperationController OperationType = "controller"
	OperationCache      OperationType = "cache"
	OperationHTTP       OperationType = "http"
	OperationJob        OperationType = "job"
	OperationOther      OperationType = "other"
)

// Operation is one timed span within a TraceRoot. Operations are never
// mutated after they are persisted.
type Operation struct {
	ID           string            `json:"id"`
	Parent       ParentRef         `json:"-"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Type         OperationType     `json:"type"`
	Label        string            `json:"label"`
	StartTime    time.Time         `json:"start_time"`
	Duration     time.Duration     `json:"duration"`
	QueryID      string            `json:"query_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// DurationMs returns the duration in fractional milliseconds.
func (o *Operation) DurationMs() float64 {
	return float64(o.Duration) / float64(time.Millisecond)
}

// ClassificationKey groups equivalent operations for sampling: the query
// fingerprint for sql and the type+label pair for everything else.
func (o *Operation) ClassificationKey() string {
	if o.Type == OperationSQL && o.QueryID != "" {
		return "query:" + o.QueryID
	}
	return string(o.Type) + ":" + o.Label
}

// Query is a normalized SQL statement shared by equivalent sql operations.
type Query struct {
	ID            string    `json:"id"`
	Fingerprint   string    `json:"fingerprint"`
	NormalizedSQL string    `json:"normalized_sql"`
	CreatedAt     time.Time `json:"created_at"`
}
