package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/ais-track-etl/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Track transform configuration.
	MaxInterval        time.Duration
	GridLevel          int
	GridCacheSize      int
	MinFishingScore    float64
	MaxFishingScore    float64
	ScoreNormalization domain.ScoreNormalization
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	maxInterval, err := parseMaxInterval()
	if err != nil {
		return nil, err
	}

	gridLevel, err := parseInt("GRID_LEVEL", 15)
	if err != nil {
		return nil, err
	}

	gridCacheSize, err := parseInt("GRID_CACHE_SIZE", 10000)
	if err != nil {
		return nil, err
	}
	if gridCacheSize < 0 {
		return nil, errors.New("invalid GRID_CACHE_SIZE: must not be negative")
	}

	minScore, err := parseFloat("MIN_FISHING_SCORE", -15.0)
	if err != nil {
		return nil, err
	}

	maxScore, err := parseFloat("MAX_FISHING_SCORE", 5.0)
	if err != nil {
		return nil, err
	}

	normalization, err := domain.ParseScoreNormalization(sharedcfg.EnvOrDefault("SCORE_NORMALIZATION", string(domain.NormalizeLinear)))
	if err != nil {
		return nil, fmt.Errorf("invalid SCORE_NORMALIZATION: %w", err)
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-ais-reports"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "ais-track-points"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "ais-track-etl"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		MaxInterval:        maxInterval,
		GridLevel:          gridLevel,
		GridCacheSize:      gridCacheSize,
		MinFishingScore:    minScore,
		MaxFishingScore:    maxScore,
		ScoreNormalization: normalization,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if err := cfg.Transformer().Validate(); err != nil {
		return nil, fmt.Errorf("invalid track transform settings (MAX_INTERVAL, GRID_LEVEL, MIN_FISHING_SCORE, MAX_FISHING_SCORE, SCORE_NORMALIZATION): %w", err)
	}

	return cfg, nil
}

// Transformer returns the track transform settings.
func (c *Config) Transformer() domain.TransformerConfig {
	return domain.TransformerConfig{
		MaxInterval:   int64(c.MaxInterval / time.Second),
		GridLevel:     c.GridLevel,
		MinScore:      c.MinFishingScore,
		MaxScore:      c.MaxFishingScore,
		Normalization: c.ScoreNormalization,
	}
}

func parseMaxInterval() (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault("MAX_INTERVAL", "24h"))
	if err != nil || d < time.Second || d%time.Second != 0 {
		return 0, errors.New("invalid MAX_INTERVAL: must be a whole number of seconds, at least 1s")
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
