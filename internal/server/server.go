// Package server exposes the read side of perftrail over HTTP: metric
// cards, performance context, insights and on-demand summary backfill.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"perftrail/internal/analysis"
	"perftrail/internal/cards"
	"perftrail/internal/config"
	"perftrail/internal/insight"
	"perftrail/internal/logging"
	"perftrail/internal/recorder"
	"perftrail/internal/summarizer"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components served over HTTP. Recorder is only used when
// self tracking is enabled.
type Deps struct {
	Store      Pinger
	Cards      *cards.Engine
	Analyzer   *analysis.Analyzer
	Summarizer *summarizer.Summarizer
	Narrator   *insight.Narrator
	Recorder   *recorder.Recorder
	Gatherer   prometheus.Gatherer
	Logger     *zap.Logger
}

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg    *config.Config
	srv    *http.Server
	logger *zap.Logger
}

// New creates a new server instance
func New(cfg *config.Config, deps Deps) *Server {
	deps.Logger = logging.OrNop(deps.Logger).Named("server")

	var rec *recorder.Recorder
	if cfg.Recorder.TrackSelf {
		rec = deps.Recorder
	}
	router := SetupRouter(NewHandler(deps), rec)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		cfg:    cfg,
		srv:    srv,
		logger: deps.Logger,
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
