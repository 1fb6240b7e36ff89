// Package config provides configuration structures and loading logic for perftrail.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the root configuration structure for perftrail.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Recorder   RecorderConfig   `mapstructure:"recorder"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	LLM        LLMConfig        `mapstructure:"llm"`
}

// AppConfig defines application-level settings such as host and port.
type AppConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	LogLevel       string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogDevelopment bool   `mapstructure:"log_development"`
}

// StorageConfig selects the relational store backing traces and summaries.
type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite3 sqlite postgres pgx mysql"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// RecorderConfig controls span capture.
type RecorderConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxOperations int  `mapstructure:"max_operations" validate:"gte=0"`
	TrackSelf     bool `mapstructure:"track_self"`
}

// SummarizerConfig controls the periodic aggregation loop.
type SummarizerConfig struct {
	Interval     string `mapstructure:"interval"`
	Concurrency  int    `mapstructure:"concurrency" validate:"gte=1"`
	MaxRetries   int    `mapstructure:"max_retries" validate:"gte=0"`
	RetryBackoff string `mapstructure:"retry_backoff"`
}

// AnalysisConfig holds the read-side tuning knobs: sample bounds, trend
// stability and slow-operation thresholds.
type AnalysisConfig struct {
	SampleLimit     int     `mapstructure:"sample_limit" validate:"gte=1"`
	SampleWindow    string  `mapstructure:"sample_window"`
	StableThreshold float64 `mapstructure:"stable_threshold" validate:"gte=0"`
	SparklineDays   int     `mapstructure:"sparkline_days" validate:"gte=1"`
	SlowSQLMs       int     `mapstructure:"slow_sql_ms"`
	SlowViewMs      int     `mapstructure:"slow_view_ms"`
	SlowHTTPMs      int     `mapstructure:"slow_http_ms"`
	RepeatThreshold int     `mapstructure:"repeat_threshold"`
}

// LLMConfig defines the optional Language Model provider used for insights.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider" validate:"omitempty,oneof=openai anthropic ollama"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	OllamaURL   string  `mapstructure:"ollama_url"`
	OllamaModel string  `mapstructure:"ollama_model"`
	APIKey      string  `mapstructure:"-"`
}

// GetIntervalDuration parses the summarizer interval into a time.Duration.
func (c *SummarizerConfig) GetIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	if d == 0 {
		return time.Hour
	}
	return d
}

// GetRetryBackoffDuration parses the delay between summarize retries.
func (c *SummarizerConfig) GetRetryBackoffDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryBackoff)
	if d == 0 {
		return 2 * time.Second
	}
	return d
}

// GetSampleWindowDuration returns how far back related operations are sampled.
func (c *AnalysisConfig) GetSampleWindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.SampleWindow)
	if d == 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

// Enabled reports whether an insight provider is configured.
func (c *LLMConfig) Enabled() bool {
	return c.Provider != ""
}

// ProviderType returns the LLM provider type
func (c *LLMConfig) ProviderType() string {
	return strings.ToLower(c.Provider)
}

// Validate checks struct constraints on the loaded configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("storage.driver", "sqlite3")
	v.SetDefault("storage.dsn", "data/perftrail.db")
	v.SetDefault("recorder.enabled", true)
	v.SetDefault("recorder.max_operations", 2000)
	v.SetDefault("recorder.track_self", false)
	v.SetDefault("summarizer.interval", "1h")
	v.SetDefault("summarizer.concurrency", 4)
	v.SetDefault("summarizer.max_retries", 2)
	v.SetDefault("summarizer.retry_backoff", "2s")
	v.SetDefault("analysis.sample_limit", 500)
	v.SetDefault("analysis.sample_window", "168h")
	v.SetDefault("analysis.stable_threshold", 0.1)
	v.SetDefault("analysis.sparkline_days", 14)
	v.SetDefault("analysis.slow_sql_ms", 100)
	v.SetDefault("analysis.slow_view_ms", 200)
	v.SetDefault("analysis.slow_http_ms", 500)
	v.SetDefault("analysis.repeat_threshold", 5)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 800)
}

// Load loads configuration from config.yaml or environment variables
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/perftrail")

	// Allow environment variables to override config
	v.SetEnvPrefix("PERFTRAIL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	switch cfg.LLM.ProviderType() {
	case "openai":
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
