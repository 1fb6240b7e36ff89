package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perftrail/internal/analysis"
	"perftrail/internal/cards"
	"perftrail/internal/config"
	"perftrail/internal/insight"
	"perftrail/internal/models"
	"perftrail/internal/recorder"
	"perftrail/internal/store"
	"perftrail/internal/store/storetest"
	"perftrail/internal/summarizer"
)

var now = time.Date(2024, 5, 20, 15, 0, 0, 0, time.UTC)

type fakeProvider struct{}

func (fakeProvider) Analyze(context.Context, string) (string, error) {
	return "The query reads every column.", nil
}

func (fakeProvider) Name() string { return "fake" }

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func clock() time.Time { return now }

func newDeps(t *testing.T, s *store.Store) Deps {
	t.Helper()
	analysisCfg := config.AnalysisConfig{StableThreshold: 0.1, SparklineDays: 14, SampleLimit: 100, RepeatThreshold: 5}
	return Deps{
		Store:      s,
		Cards:      cards.NewEngine(s, analysisCfg, cards.Options{Now: clock}),
		Analyzer:   analysis.New(s, analysisCfg, analysis.Options{Now: clock}),
		Summarizer: summarizer.New(s, config.SummarizerConfig{Concurrency: 2, RetryBackoff: "1ms"}, summarizer.Options{}),
		Gatherer:   prometheus.NewRegistry(),
	}
}

func newRouter(t *testing.T, deps Deps) chi.Router {
	t.Helper()
	return SetupRouter(NewHandler(deps), nil)
}

func serve(router http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedTrace(t *testing.T, s *store.Store) {
	t.Helper()
	at := now.Add(-5 * time.Hour)
	for i, d := range []time.Duration{10, 30, 50} {
		root := &models.TraceRoot{
			ID:         "r" + string(rune('0'+i)),
			Kind:       models.RootRequest,
			Route:      "GET /users/{id}",
			OccurredAt: at.Add(time.Duration(i) * time.Minute),
			Duration:   time.Second,
			Status:     models.StatusSuccess,
		}
		root.Operations = []models.Operation{{
			ID:        "op" + string(rune('0'+i)),
			Parent:    root.Parent(),
			Type:      models.OperationSQL,
			Label:     "User Load",
			StartTime: root.OccurredAt,
			Duration:  d * time.Millisecond,
			QueryID:   "q1",
			Metadata:  map[string]string{"sql": "SELECT * FROM users WHERE id = ?"},
		}}
		queries := []models.Query{{ID: "q1", Fingerprint: "fp1", NormalizedSQL: "SELECT * FROM users WHERE id = ?", CreatedAt: at}}
		require.NoError(t, s.SaveTrace(context.Background(), root, queries))
	}
}

func TestHandleHealth(t *testing.T) {
	router := newRouter(t, Deps{})

	w := serve(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
	assert.Contains(t, response, "timestamp")
}

func TestHandleReady(t *testing.T) {
	router := newRouter(t, newDeps(t, storetest.New(t)))

	w := serve(router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ready", response["status"])
}

func TestHandleReadyStoreDown(t *testing.T) {
	router := newRouter(t, Deps{Store: downStore{}})

	w := serve(router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "perftrail_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	router := newRouter(t, Deps{Gatherer: reg})
	w := serve(router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "perftrail_test_total 1")
}

func TestHandleCard(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	for d, count := range map[int]int64{20: 10, 10: 5} {
		start := time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.UpsertSummary(ctx, &models.Summary{
			Target:      models.TargetRef{Kind: models.TargetRoute, ID: "GET /users"},
			PeriodType:  models.PeriodDay,
			PeriodStart: start,
			PeriodEnd:   start.AddDate(0, 0, 1),
			Count:       count,
			AvgDuration: 100,
		}))
	}
	router := newRouter(t, newDeps(t, s))

	w := serve(router, http.MethodGet, "/api/cards/route/count?target=GET%20/users", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var card cards.Card
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &card))
	assert.Equal(t, "GET /users", card.TargetID)
	assert.Equal(t, 10.0, card.Value)
	assert.Equal(t, "10", card.Display)
	assert.Equal(t, 5.0, card.Previous)
	assert.Equal(t, cards.Trend{Direction: cards.TrendUp, Percent: 100}, card.Trend)
	assert.Len(t, card.Sparkline, 15)
}

func TestHandleCardBadInput(t *testing.T) {
	router := newRouter(t, newDeps(t, storetest.New(t)))

	tests := []struct {
		name   string
		target string
	}{
		{"unknown kind", "/api/cards/controller/count"},
		{"unknown metric", "/api/cards/route/p99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, http.MethodGet, tt.target, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestHandleOverview(t *testing.T) {
	router := newRouter(t, newDeps(t, storetest.New(t)))

	w := serve(router, http.MethodGet, "/api/cards/job/overview", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Kind  string       `json:"kind"`
		Cards []cards.Card `json:"cards"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "job", response.Kind)
	assert.Len(t, response.Cards, len(cards.Metrics))
}

func TestHandleOperationContext(t *testing.T) {
	s := storetest.New(t)
	seedTrace(t, s)
	router := newRouter(t, newDeps(t, s))

	w := serve(router, http.MethodGet, "/api/operations/op1/context", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var pc analysis.PerformanceContext
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pc))
	assert.Equal(t, "op1", pc.Operation.ID)
	assert.Equal(t, 30.0, pc.DurationMs)
	assert.Equal(t, 2, pc.Stats.SampleSize)
	require.NotEmpty(t, pc.Suggestions)
	assert.Equal(t, "select_star", pc.Suggestions[0].Rule)

	w = serve(router, http.MethodGet, "/api/operations/missing/context", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleOperationInsight(t *testing.T) {
	s := storetest.New(t)
	seedTrace(t, s)

	deps := newDeps(t, s)
	w := serve(newRouter(t, deps), http.MethodGet, "/api/operations/op1/insight", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	deps.Narrator = insight.New(fakeProvider{}, insight.Options{Now: clock})
	router := newRouter(t, deps)

	w = serve(router, http.MethodGet, "/api/operations/op1/insight", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got models.Insight
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "op1", got.OperationID)
	assert.Equal(t, "fake", got.Provider)
	assert.Equal(t, "The query reads every column.", got.Narrative)

	w = serve(router, http.MethodGet, "/api/operations/missing/insight", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleBackfill(t *testing.T) {
	s := storetest.New(t)
	seedTrace(t, s)
	router := newRouter(t, newDeps(t, s))

	body, err := json.Marshal(map[string]string{
		"kind":   "route",
		"period": "day",
		"from":   "2024-05-19T00:00:00Z",
		"to":     "2024-05-21T00:00:00Z",
	})
	require.NoError(t, err)

	w := serve(router, http.MethodPost, "/api/summaries", body)
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "completed", response["status"])
	assert.Equal(t, 1.0, response["written"])

	sum, err := s.GetSummary(context.Background(), models.TargetRef{Kind: models.TargetRoute, ID: "GET /users/{id}"}, models.PeriodDay, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Count)
}

func TestHandleBackfillInvalid(t *testing.T) {
	router := newRouter(t, newDeps(t, storetest.New(t)))

	tests := []struct {
		name string
		body string
	}{
		{"malformed", "invalid json"},
		{"unknown kind", `{"kind":"controller","period":"day","from":"2024-05-19T00:00:00Z","to":"2024-05-20T00:00:00Z"}`},
		{"unknown period", `{"kind":"route","period":"month","from":"2024-05-19T00:00:00Z","to":"2024-05-20T00:00:00Z"}`},
		{"reversed range", `{"kind":"route","period":"day","from":"2024-05-20T00:00:00Z","to":"2024-05-19T00:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, http.MethodPost, "/api/summaries", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSelfTracking(t *testing.T) {
	s := storetest.New(t)
	rec := recorder.New(s, config.RecorderConfig{Enabled: true, MaxOperations: 100}, recorder.Options{})
	router := SetupRouter(NewHandler(newDeps(t, s)), rec)

	w := serve(router, http.MethodGet, "/api/cards/route/count", nil)
	require.Equal(t, http.StatusOK, w.Code)

	from := time.Now().Add(-time.Hour)
	agg, err := s.AggregateRoots(context.Background(), models.RootRequest, "GET /api/cards/{kind}/{metric}", from, from.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.Count)
	assert.Equal(t, int64(0), agg.ErrorCount)
}
