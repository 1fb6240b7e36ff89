package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perftrail/internal/config"
	"perftrail/internal/models"
	"perftrail/internal/store"
	"perftrail/internal/store/storetest"
)

func TestCalculatePercentile(t *testing.T) {
	samples := []float64{10, 20, 30, 40, 50}

	tests := []struct {
		value float64
		want  float64
	}{
		{25, 40},
		{35, 60},
		{5, 0},
		{10, 0},
		{100, 100},
		{50, 100},
		{20, 30},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.value), func(t *testing.T) {
			assert.Equal(t, tt.want, CalculatePercentile(tt.value, samples))
		})
	}

	assert.Equal(t, 0.0, CalculatePercentile(42, nil))
	assert.Equal(t, 0.0, CalculatePercentile(42, []float64{}))
	assert.Equal(t, 0.0, CalculatePercentile(42, []float64{42}))
	assert.Equal(t, 100.0, CalculatePercentile(43, []float64{42}))
}

func TestCalculatePercentileDuplicates(t *testing.T) {
	got := CalculatePercentile(15, []float64{10, 10, 20, 20})
	assert.Equal(t, 50.0, got)
}

type recordingReader struct {
	since time.Time
	limit int
}

func (r *recordingReader) GetOperation(context.Context, string) (*models.Operation, error) {
	return nil, store.ErrNotFound
}

func (r *recordingReader) RelatedOperations(_ context.Context, _ *models.Operation, since time.Time, limit int) ([]models.Operation, error) {
	r.since, r.limit = since, limit
	return nil, nil
}

func (r *recordingReader) TraceOperations(context.Context, models.ParentRef) ([]models.Operation, error) {
	return nil, nil
}

func TestFindRelatedIsBounded(t *testing.T) {
	now := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	reader := &recordingReader{}
	a := New(reader, config.AnalysisConfig{SampleLimit: 50, SampleWindow: "48h"}, Options{Now: func() time.Time { return now }})

	_, err := a.FindRelated(context.Background(), &models.Operation{ID: "x", Type: models.OperationView, Label: "v"})
	require.NoError(t, err)
	assert.Equal(t, 50, reader.limit)
	assert.Equal(t, now.Add(-48*time.Hour), reader.since)
}

func TestPerformanceContextNoHistory(t *testing.T) {
	a := New(&recordingReader{}, config.AnalysisConfig{}, Options{})

	pc, err := a.PerformanceContext(context.Background(), &models.Operation{ID: "x", Type: models.OperationView, Duration: 5 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 0.0, pc.Percentile)
	assert.Equal(t, Stats{}, pc.Stats)
	assert.Equal(t, 5.0, pc.DurationMs)
}

func TestContextForOperation(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	durations := []int{10, 20, 30, 40, 50, 25}
	for i, ms := range durations {
		at := now.Add(time.Duration(i-len(durations)) * time.Minute)
		root := &models.TraceRoot{
			ID: fmt.Sprintf("r%d", i), Kind: models.RootRequest, Route: "GET /posts",
			OccurredAt: at, Duration: time.Second, Status: models.StatusSuccess,
		}
		root.Operations = []models.Operation{{
			ID: fmt.Sprintf("op%d", i), Parent: root.Parent(), Type: models.OperationSQL, Label: "Post Load",
			StartTime: at, Duration: time.Duration(ms) * time.Millisecond, QueryID: "q1",
			Metadata: map[string]string{"sql": "SELECT * FROM posts WHERE id = ?"},
		}}
		require.NoError(t, s.SaveTrace(ctx, root, []models.Query{{ID: "q1", Fingerprint: "f1", NormalizedSQL: "SELECT * FROM posts WHERE id = ?", CreatedAt: at}}))
	}

	a := New(s, config.AnalysisConfig{SampleLimit: 100, SampleWindow: "24h", SlowSQLMs: 100, RepeatThreshold: 5}, Options{})
	pc, err := a.ContextForOperation(ctx, "op5")
	require.NoError(t, err)

	assert.Equal(t, 25.0, pc.DurationMs)
	assert.Equal(t, 40.0, pc.Percentile)
	assert.Equal(t, Stats{Min: 10, Avg: 30, Max: 50, SampleSize: 5}, pc.Stats)
	require.Len(t, pc.Suggestions, 1)
	assert.Equal(t, "select_star", pc.Suggestions[0].Rule)

	_, err = a.ContextForOperation(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
