package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsClosed(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		expected bool
	}{
		{"open root", StatusOpen, false},
		{"successful root", StatusSuccess, true},
		{"failed root", StatusFailure, true},
		{"retried root", StatusRetried, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsClosed())
		})
	}
}

func TestTraceRootTarget(t *testing.T) {
	req := TraceRoot{Kind: RootRequest, Route: "GET /users/{id}", Action: "users#show"}
	assert.Equal(t, TargetRef{Kind: TargetRoute, ID: "GET /users/{id} users#show"}, req.Target())

	job := TraceRoot{Kind: RootJobRun, JobName: "SendDigest"}
	assert.Equal(t, TargetRef{Kind: TargetJob, ID: "default/SendDigest"}, job.Target())
}

func TestParentRef(t *testing.T) {
	assert.True(t, ParentRef{}.IsZero())

	p := JobRunParent("abc")
	assert.Equal(t, RootJobRun, p.Kind())
	assert.Equal(t, "abc", p.ID())
	assert.Equal(t, "job_run:abc", p.String())

	_, err := NewParentRef("widget", "abc")
	assert.Error(t, err)
	_, err = NewParentRef(RootRequest, "")
	assert.Error(t, err)

	p, err = NewParentRef(RootRequest, "r1")
	require.NoError(t, err)
	assert.Equal(t, RequestParent("r1"), p)
}

func TestOperationClassificationKey(t *testing.T) {
	sql := Operation{Type: OperationSQL, Label: "SELECT", QueryID: "q1"}
	assert.Equal(t, "query:q1", sql.ClassificationKey())

	view := Operation{Type: OperationView, Label: "users/show"}
	assert.Equal(t, "view:users/show", view.ClassificationKey())
}

func TestPeriodTruncate(t *testing.T) {
	// Thursday afternoon
	ts := time.Date(2024, 3, 14, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), PeriodDay.Truncate(ts))
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), PeriodWeek.Truncate(ts))

	sunday := time.Date(2024, 3, 17, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), PeriodWeek.Truncate(sunday))
}

func TestPeriodLength(t *testing.T) {
	d, err := PeriodDay.Length()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	w, err := PeriodWeek.Length()
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, w)

	_, err = PeriodType("month").Length()
	assert.Error(t, err)
}

func TestSummaryNormalize(t *testing.T) {
	s := Summary{Count: 3, ErrorCount: 5, AvgDuration: 12}
	s.Normalize()
	assert.Equal(t, int64(3), s.ErrorCount)

	empty := Summary{Count: 0, AvgDuration: 40}
	empty.Normalize()
	assert.Equal(t, 0.0, empty.AvgDuration)
}
