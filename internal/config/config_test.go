package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "sqlite3", cfg.Storage.Driver)
	assert.True(t, cfg.Recorder.Enabled)
	assert.Equal(t, 500, cfg.Analysis.SampleLimit)
	assert.Equal(t, 14, cfg.Analysis.SparklineDays)
	assert.InDelta(t, 0.1, cfg.Analysis.StableThreshold, 1e-9)
	assert.False(t, cfg.LLM.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestDurationFallbacks(t *testing.T) {
	s := SummarizerConfig{}
	assert.Equal(t, time.Hour, s.GetIntervalDuration())
	assert.Equal(t, 2*time.Second, s.GetRetryBackoffDuration())

	s.Interval = "15m"
	assert.Equal(t, 15*time.Minute, s.GetIntervalDuration())

	a := AnalysisConfig{SampleWindow: "not-a-duration"}
	assert.Equal(t, 7*24*time.Hour, a.GetSampleWindowDuration())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.LLM.Provider = "mystery"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Summarizer.Concurrency = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PERFTRAIL_APP_PORT", "9191")
	t.Setenv("PERFTRAIL_ANALYSIS_SAMPLE_LIMIT", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.App.Port)
	assert.Equal(t, 50, cfg.Analysis.SampleLimit)
}
