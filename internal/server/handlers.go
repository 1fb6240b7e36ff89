package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"perftrail/internal/cards"
	"perftrail/internal/insight"
	"perftrail/internal/logging"
	"perftrail/internal/models"
	"perftrail/internal/store"
	"perftrail/internal/summarizer"
)

var validate = validator.New()

// Handler holds the server dependencies
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(deps Deps) *Handler {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		deps:   deps,
		logger: logging.OrNop(deps.Logger),
	}
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/cards/{kind}/overview", h.HandleOverview)
		r.Get("/cards/{kind}/{metric}", h.HandleCard)
		r.Get("/operations/{id}/context", h.HandleOperationContext)
		r.Get("/operations/{id}/insight", h.HandleOperationInsight)
		r.Post("/summaries", h.HandleBackfill)
	})
}

// HandleHealth returns health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReady reports ready once the store answers a ping.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store != nil {
		if err := h.deps.Store.Ping(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// HandleCard renders one metric card. The optional target query parameter
// narrows the card to a single route, job or query.
func (h *Handler) HandleCard(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}
	metric, err := cards.ParseMetric(chi.URLParam(r, "metric"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	card, err := h.deps.Cards.Card(r.Context(), cards.Request{
		Kind:     kind,
		TargetID: r.URL.Query().Get("target"),
		Metric:   metric,
	})
	if err != nil {
		h.internalError(w, "failed to build card", err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// HandleOverview renders every metric card of one kind or target.
func (h *Handler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown kind")
		return
	}

	list, err := h.deps.Cards.Overview(r.Context(), kind, r.URL.Query().Get("target"))
	if err != nil {
		h.internalError(w, "failed to build overview", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":  kind,
		"cards": list,
	})
}

// HandleOperationContext ranks one stored operation against its peers.
func (h *Handler) HandleOperationContext(w http.ResponseWriter, r *http.Request) {
	pc, err := h.deps.Analyzer.ContextForOperation(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		h.internalError(w, "failed to compute performance context", err)
		return
	}
	writeJSON(w, http.StatusOK, pc)
}

// HandleOperationInsight narrates the performance context of one operation.
func (h *Handler) HandleOperationInsight(w http.ResponseWriter, r *http.Request) {
	if !h.deps.Narrator.Enabled() {
		writeError(w, http.StatusServiceUnavailable, insight.ErrDisabled.Error())
		return
	}

	pc, err := h.deps.Analyzer.ContextForOperation(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		h.internalError(w, "failed to compute performance context", err)
		return
	}

	result, err := h.deps.Narrator.Narrate(r.Context(), pc)
	if err != nil {
		h.logger.Error("insight failed", zap.String("operation_id", pc.Operation.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "insight provider failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type backfillRequest struct {
	Kind   string    `json:"kind" validate:"required,oneof=job route query"`
	Period string    `json:"period" validate:"required,oneof=day week"`
	From   time.Time `json:"from" validate:"required"`
	To     time.Time `json:"to" validate:"required,gtfield=From"`
}

// HandleBackfill recomputes the summaries of every bucket in [from, to).
func (h *Handler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.deps.Summarizer.Backfill(r.Context(), models.TargetKind(req.Kind), models.PeriodType(req.Period), req.From, req.To)
	switch {
	case errors.Is(err, summarizer.ErrUnknownKind), errors.Is(err, summarizer.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.internalError(w, "backfill failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "completed",
		"written": n,
	})
}

func parseKind(s string) (models.TargetKind, bool) {
	switch k := models.TargetKind(s); k {
	case models.TargetJob, models.TargetRoute, models.TargetQuery:
		return k, true
	}
	return "", false
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
