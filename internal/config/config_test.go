package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("SessionTTL = %v, want 24h", cfg.SessionTTL)
	}
	if cfg.ConnectionTTL != 2*time.Hour {
		t.Fatalf("ConnectionTTL = %v, want 2h", cfg.ConnectionTTL)
	}
	if cfg.CapabilityMode != "auto" {
		t.Fatalf("CapabilityMode = %q, want auto", cfg.CapabilityMode)
	}
	if cfg.HealthKafkaBrokers != nil {
		t.Fatalf("HealthKafkaBrokers = %v, want nil", cfg.HealthKafkaBrokers)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SESSION_TTL", "90m")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("HEALTH_KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("CAPABILITY_MODE", "HTTP")
	t.Setenv("CAPABILITY_SPECIALIZED_URL", "http://stt.local")
	t.Setenv("CAPABILITY_GENERAL_URL", "http://llm.local")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SessionTTL != 90*time.Minute {
		t.Fatalf("SessionTTL = %v, want 90m", cfg.SessionTTL)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
	if got := strings.Join(cfg.HealthKafkaBrokers, ","); got != "k1:9092,k2:9092" {
		t.Fatalf("HealthKafkaBrokers = %q", got)
	}
	if cfg.CapabilityMode != "http" {
		t.Fatalf("CapabilityMode = %q, want http", cfg.CapabilityMode)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "bad duration", key: "APP_SESSION_TTL", val: "soon"},
		{name: "short ttl", key: "APP_SESSION_TTL", val: "10s"},
		{name: "bad bool", key: "APP_ALLOW_ANY_ORIGIN", val: "maybe"},
		{name: "zero concurrency", key: "APP_HANDLER_CONCURRENCY", val: "0"},
		{name: "unknown mode", key: "CAPABILITY_MODE", val: "grpc"},
		{name: "http without urls", key: "CAPABILITY_MODE", val: "http"},
		{name: "probe exceeds interval", key: "HEALTH_PROBE_TIMEOUT", val: "1m"},
		{name: "log format", key: "APP_LOG_FORMAT", val: "xml"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q should fail", tc.key, tc.val)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"APP_SESSION_TTL",
		"APP_CONNECTION_TTL",
		"APP_HANDLER_CONCURRENCY",
		"DATABASE_URL",
		"CAPABILITY_MODE",
		"CAPABILITY_SPECIALIZED_URL",
		"CAPABILITY_GENERAL_URL",
		"CAPABILITY_TIMEOUT",
		"HEALTH_CHECK_INTERVAL",
		"HEALTH_PROBE_TIMEOUT",
		"HEALTH_KAFKA_BROKERS",
		"HEALTH_KAFKA_TOPIC",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
