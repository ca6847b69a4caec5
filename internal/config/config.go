package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/station-forecast-service/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers       []string
	KafkaReadingsTopic string
	KafkaForecastTopic string
	KafkaGroupID       string
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration

	// IngestBatchSize bounds how many readings one poll pulls off the topic.
	IngestBatchSize int

	// StationMaxReadings bounds each station's in-memory history. The default
	// of 2016 holds a week of five-minute samples.
	StationMaxReadings int

	// DefaultHorizon is the horizon the pipeline recomputes and pushes;
	// the HTTP API serves any horizon on demand.
	DefaultHorizon domain.Horizon

	// RecomputeInterval forces a full recompute of every station even when
	// no new readings arrive.
	RecomputeInterval time.Duration

	// RetrainMinInterval rate-limits event-driven recomputes; bursts of
	// readings within the window coalesce into one retrain.
	RetrainMinInterval time.Duration

	ForecastCacheSize int
	ForecastCacheTTL  time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parsePositiveDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	recomputeInterval, err := parsePositiveDuration("RECOMPUTE_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	retrainMinInterval, err := parsePositiveDuration("RETRAIN_MIN_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDurationEnv("FORECAST_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	batchSize, err := parsePositiveInt("INGEST_BATCH_SIZE", 100)
	if err != nil {
		return nil, err
	}
	maxReadings, err := parsePositiveInt("STATION_MAX_READINGS", 2016)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("FORECAST_CACHE_SIZE", 64)
	if err != nil {
		return nil, err
	}

	horizon, err := domain.ParseHorizon(envOrDefault("FORECAST_HORIZON", "6h"))
	if err != nil {
		return nil, fmt.Errorf("FORECAST_HORIZON: %w", err)
	}

	cfg := &Config{
		KafkaBrokers:       parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaReadingsTopic: envOrDefault("KAFKA_READINGS_TOPIC", "station-readings"),
		KafkaForecastTopic: envOrDefault("KAFKA_FORECAST_TOPIC", "station-forecasts"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "station-forecast"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		IngestBatchSize:    batchSize,
		StationMaxReadings: maxReadings,
		DefaultHorizon:     horizon,
		RecomputeInterval:  recomputeInterval,
		RetrainMinInterval: retrainMinInterval,
		ForecastCacheSize:  cacheSize,
		ForecastCacheTTL:   cacheTTL,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaReadingsTopic == "" {
		return nil, errors.New("KAFKA_READINGS_TOPIC is required")
	}
	if cfg.KafkaForecastTopic == "" {
		return nil, errors.New("KAFKA_FORECAST_TOPIC is required")
	}

	return cfg, nil
}

// envOrDefault returns the variable's value, or def when unset or blank.
func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parseBrokers splits a comma-separated broker list, dropping empty items.
func parseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

// parsePositiveInt reads an integer variable that must be greater than zero.
func parsePositiveInt(key string, def int) (int, error) {
	s := envOrDefault(key, "")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", key, s)
	}
	return n, nil
}

// parsePositiveDuration reads a duration variable that must be greater than zero.
func parsePositiveDuration(key string, def time.Duration) (time.Duration, error) {
	d, err := parseDurationEnv(key, def)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: want a positive duration", key)
	}
	return d, nil
}

// parseDurationEnv reads a non-negative duration variable. Zero is allowed;
// FORECAST_CACHE_TTL=0 disables snapshot expiry.
func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	s := envOrDefault(key, "")
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q: want a duration like 30s or 5m", key, s)
	}
	return d, nil
}
