package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the realtime translation service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	SessionTTL         time.Duration
	ConnectionTTL      time.Duration
	HandlerConcurrency int

	DatabaseURL string

	CapabilityMode           string
	CapabilitySpecializedURL string
	CapabilityGeneralURL     string
	CapabilityTimeout        time.Duration

	HealthCheckInterval time.Duration
	HealthProbeTimeout  time.Duration
	HealthKafkaBrokers  []string
	HealthKafkaTopic    string
}

// Load reads environment variables and applies safe defaults. A .env file in
// the working directory is merged first; real environment values win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "parlance"),
		LogLevel:                 strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(envOrDefault("APP_LOG_FORMAT", "text")),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		CapabilityMode:           strings.ToLower(envOrDefault("CAPABILITY_MODE", "auto")),
		CapabilitySpecializedURL: stringsTrimSpace("CAPABILITY_SPECIALIZED_URL"),
		CapabilityGeneralURL:     stringsTrimSpace("CAPABILITY_GENERAL_URL"),
		HealthKafkaBrokers:       listFromEnv("HEALTH_KAFKA_BROKERS"),
		HealthKafkaTopic:         envOrDefault("HEALTH_KAFKA_TOPIC", "parlance.health"),
		ShutdownTimeout:          15 * time.Second,
		SessionTTL:               24 * time.Hour,
		ConnectionTTL:            2 * time.Hour,
		HandlerConcurrency:       8,
		CapabilityTimeout:        20 * time.Second,
		HealthCheckInterval:      30 * time.Second,
		HealthProbeTimeout:       5 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("APP_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectionTTL, err = durationFromEnv("APP_CONNECTION_TTL", cfg.ConnectionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.HandlerConcurrency, err = intFromEnv("APP_HANDLER_CONCURRENCY", cfg.HandlerConcurrency)
	if err != nil {
		return Config{}, err
	}
	cfg.CapabilityTimeout, err = durationFromEnv("CAPABILITY_TIMEOUT", cfg.CapabilityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HealthCheckInterval, err = durationFromEnv("HEALTH_CHECK_INTERVAL", cfg.HealthCheckInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.HealthProbeTimeout, err = durationFromEnv("HEALTH_PROBE_TIMEOUT", cfg.HealthProbeTimeout)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionTTL < time.Minute {
		return fmt.Errorf("APP_SESSION_TTL must be at least 1m")
	}
	if c.ConnectionTTL < time.Minute {
		return fmt.Errorf("APP_CONNECTION_TTL must be at least 1m")
	}
	if c.HandlerConcurrency <= 0 {
		return fmt.Errorf("APP_HANDLER_CONCURRENCY must be positive")
	}
	if c.CapabilityTimeout <= 0 {
		return fmt.Errorf("CAPABILITY_TIMEOUT must be positive")
	}
	if c.HealthCheckInterval < time.Second {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL must be at least 1s")
	}
	if c.HealthProbeTimeout <= 0 || c.HealthProbeTimeout > c.HealthCheckInterval {
		return fmt.Errorf("HEALTH_PROBE_TIMEOUT must be positive and not exceed HEALTH_CHECK_INTERVAL")
	}
	switch c.CapabilityMode {
	case "auto", "mock":
	case "http":
		if c.CapabilitySpecializedURL == "" || c.CapabilityGeneralURL == "" {
			return fmt.Errorf("CAPABILITY_MODE=http requires CAPABILITY_SPECIALIZED_URL and CAPABILITY_GENERAL_URL")
		}
	default:
		return fmt.Errorf("CAPABILITY_MODE must be one of auto, http, mock")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be text or json")
	}
	if len(c.HealthKafkaBrokers) > 0 && strings.TrimSpace(c.HealthKafkaTopic) == "" {
		return fmt.Errorf("HEALTH_KAFKA_TOPIC is required when HEALTH_KAFKA_BROKERS is set")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func listFromEnv(key string) []string {
	raw := stringsTrimSpace(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
