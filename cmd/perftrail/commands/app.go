package commands

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"perftrail/internal/analysis"
	"perftrail/internal/cards"
	"perftrail/internal/config"
	"perftrail/internal/db"
	"perftrail/internal/insight"
	"perftrail/internal/logging"
	"perftrail/internal/recorder"
	"perftrail/internal/store"
	"perftrail/internal/summarizer"
	"perftrail/pkg/llm"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *db.DB
	store      *store.Store
	registry   *prometheus.Registry
	recorder   *recorder.Recorder
	summarizer *summarizer.Summarizer
	cards      *cards.Engine
	analyzer   *analysis.Analyzer
	narrator   *insight.Narrator
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.App.LogLevel, Development: cfg.App.LogDevelopment})
	if err != nil {
		return nil, err
	}

	database, err := db.New(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	st := store.New(database)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var provider llm.Provider
	if cfg.LLM.Enabled() {
		provider, err = llm.NewProvider(cfg.LLM)
		if err != nil {
			logger.Warn("insights disabled", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
			provider = nil
		}
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       database,
		store:    st,
		registry: registry,
		recorder: recorder.New(st, cfg.Recorder, recorder.Options{Logger: logger, Registerer: registry}),
		summarizer: summarizer.New(st, cfg.Summarizer, summarizer.Options{
			Logger:     logger,
			Registerer: registry,
		}),
		cards:    cards.NewEngine(st, cfg.Analysis, cards.Options{}),
		analyzer: analysis.New(st, cfg.Analysis, analysis.Options{}),
		narrator: insight.New(provider, insight.Options{Logger: logger}),
	}

	logger.Info("perftrail initialized",
		zap.String("storage", database.Dialect().Name),
		zap.Bool("recorder", cfg.Recorder.Enabled),
		zap.Bool("insights", a.narrator.Enabled()),
	)
	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
