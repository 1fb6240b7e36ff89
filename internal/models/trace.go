// Package models defines the shared core data structures used throughout perftrail.
package models

import (
	"fmt"
	"time"
)

// RootKind identifies which kind of traced unit a TraceRoot represents.
type RootKind string

const (
	RootRequest RootKind = "request"
	RootJobRun  RootKind = "job_run"
)

// Valid reports whether k is a known root kind.
func (k RootKind) Valid() bool {
	return k == RootRequest || k == RootJobRun
}

// Status is the lifecycle state of a TraceRoot.
type Status string

const (
	StatusOpen    Status = "open"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusRetried Status = "retried"
)

// IsClosed returns true once the root has reached a terminal status.
func (s Status) IsClosed() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusRetried
}

// IsFailure reports whether the status counts towards a summary's error count.
func (s Status) IsFailure() bool {
	return s == StatusFailure
}

// TraceRoot is one end-to-end traced execution: an inbound request or a job run.
type TraceRoot struct {
	ID         string            `json:"id"`
	Kind       RootKind          `json:"kind"`
	Route      string            `json:"route,omitempty"`
	Action     string            `json:"action,omitempty"`
	JobName    string            `json:"job_name,omitempty"`
	Queue      string            `json:"queue,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Duration   time.Duration     `json:"duration"`
	Status     Status            `json:"status"`
	Tags       map[string]string `json:"tags,omitempty"`
	Operations []Operation       `json:"operations,omitempty"`
}

// TargetID returns the identity the summarizer groups this root under.
// Requests are keyed by "route action" and jobs by "queue/name".
func (r *TraceRoot) TargetID() string {
	switch r.Kind {
	case RootJobRun:
		return JobTargetID(r.Queue, r.JobName)
	default:
		return RouteTargetID(r.Route, r.Action)
	}
}

// Target returns the summary target this root contributes to.
func (r *TraceRoot) Target() TargetRef {
	if r.Kind == RootJobRun {
		return TargetRef{Kind: TargetJob, ID: r.TargetID()}
	}
	return TargetRef{Kind: TargetRoute, ID: r.TargetID()}
}

// Parent returns the reference child operations use to point at this root.
func (r *TraceRoot) Parent() ParentRef {
	return ParentRef{kind: r.Kind, id: r.ID}
}

// EndedAt returns the instant the root was closed.
func (r *TraceRoot) EndedAt() time.Time {
	return r.OccurredAt.Add(r.Duration)
}

// RouteTargetID builds the target id for a request route.
func RouteTargetID(route, action string) string {
	if action == "" {
		return route
	}
	return route + " " + action
}

// JobTargetID builds the target id for a job.
func JobTargetID(queue, name string) string {
	if queue == "" {
		queue = "default"
	}
	return queue + "/" + name
}

// ParentRef points an Operation at exactly one TraceRoot. The zero value is
// invalid; construct it with RequestParent or JobRunParent.
type ParentRef struct {
	kind RootKind
	id   string
}

// RequestParent references a request root.
func RequestParent(id string) ParentRef {
	return ParentRef{kind: RootRequest, id: id}
}

// JobRunParent references a job run root.
func JobRunParent(id string) ParentRef {
	return ParentRef{kind: RootJobRun, id: id}
}

// NewParentRef rebuilds a reference from its stored parts.
func NewParentRef(kind RootKind, id string) (ParentRef, error) {
	if !kind.Valid() {
		return ParentRef{}, fmt.Errorf("invalid parent kind %q", kind)
	}
	if id == "" {
		return ParentRef{}, fmt.Errorf("parent id is required")
	}
	return ParentRef{kind: kind, id: id}, nil
}

// Kind returns the kind of root referenced.
func (p ParentRef) Kind() RootKind { return p.kind }

// ID returns the id of the root referenced.
func (p ParentRef) ID() string { return p.id }

// IsZero reports whether the reference was never set.
func (p ParentRef) IsZero() bool { return p.kind == "" && p.id == "" }

func (p ParentRef) String() string {
	return string(p.kind) + ":" + p.id
}
