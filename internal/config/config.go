// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig
	Analysis      AnalysisConfig
	Ingest        IngestConfig
	Kafka         KafkaConfig
	Store         StoreConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds core service settings.
type ServiceConfig struct {
	Principal string
	HTTPPort  string
}

// AnalysisConfig configures the vision-analysis boundary.
type AnalysisConfig struct {
	Provider       string // mock | vision
	BaseURL        string
	Timeout        time.Duration
	WindowSec      int
	MaxInFlight    int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// IngestConfig holds ingestion guardrails. These bound per-call batch sizes
// so a runaway client cannot exhaust the service.
type IngestConfig struct {
	MaxBatchReadings int
	MaxSessionSec    int
}

// KafkaConfig configures the event publisher.
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicVerdicts string
	TopicQuality  string
	Principal     string
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Path string
}

// ObservabilityConfig configures logging and the metrics server.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
	Addr      string
}

// Load reads configuration from the environment, falling back to defaults
// for unset or unparsable values.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-playtest-telemetry")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
		},
		Analysis: AnalysisConfig{
			Provider:       envOrDefault("ANALYSIS_PROVIDER", "mock"),
			BaseURL:        envOrDefault("ANALYSIS_BASE_URL", "http://localhost:9090"),
			Timeout:        envOrDefaultDuration("ANALYSIS_TIMEOUT", 60*time.Second),
			WindowSec:      envOrDefaultInt("ANALYSIS_WINDOW_SEC", 15),
			MaxInFlight:    envOrDefaultInt("ANALYSIS_MAX_IN_FLIGHT", 4),
			RetryAttempts:  envOrDefaultInt("ANALYSIS_RETRY_ATTEMPTS", 3),
			RetryBaseDelay: envOrDefaultDuration("ANALYSIS_RETRY_BASE_DELAY", 1*time.Second),
			RetryMaxDelay:  envOrDefaultDuration("ANALYSIS_RETRY_MAX_DELAY", 30*time.Second),
		},
		Ingest: IngestConfig{
			MaxBatchReadings: envOrDefaultInt("INGEST_MAX_BATCH_READINGS", 5000),
			MaxSessionSec:    envOrDefaultInt("INGEST_MAX_SESSION_SEC", 4*3600),
		},
		Kafka: KafkaConfig{
			Enabled:       envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:       envOrDefaultList("KAFKA_BROKERS", nil),
			TopicVerdicts: envOrDefault("KAFKA_TOPIC_VERDICTS", "playtest.session.verdicts"),
			TopicQuality:  envOrDefault("KAFKA_TOPIC_QUALITY", "playtest.session.quality"),
			Principal:     envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Store: StoreConfig{
			Path: envOrDefault("STORE_PATH", "playtest.db"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
			Addr:      envOrDefault("OBSERVABILITY_ADDR", ":9091"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
