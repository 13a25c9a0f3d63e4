// Package config loads runtime configuration from environment
// variables and policy profiles from YAML files.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds daemon configuration.
type Config struct {
	Port         string
	LogLevel     string
	LedgerPath   string // SQLite file; empty selects the in-memory ledger
	RedisAddr    string // empty selects the in-memory replay cache
	DatabaseURL  string // Postgres spend history; empty selects in-memory
	MandateTTL   time.Duration
	StageTimeout time.Duration
	ProfilesDir  string
	OTLPEndpoint string
	OTelEnabled  bool
	AgentRPS     float64
	AgentBurst   int
}

// Load reads configuration from environment variables, applying
// development defaults.
func Load() *Config {
	cfg := &Config{
		Port:         getenv("PORT", "8080"),
		LogLevel:     getenv("LOG_LEVEL", "INFO"),
		LedgerPath:   os.Getenv("LEDGER_PATH"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		ProfilesDir:  getenv("PROFILES_DIR", "profiles"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		MandateTTL:   getduration("MANDATE_TTL", 15*time.Minute),
		StageTimeout: getduration("STAGE_TIMEOUT", 10*time.Second),
		AgentRPS:     getfloat("AGENT_RPS", 10),
		AgentBurst:   getint("AGENT_BURST", 20),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getfloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
