package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitRPM int64 // analysis requests per minute, default: 60

	// Engine tuning
	Engine EngineConfig
}

// EngineConfig carries every statistical threshold the analyzers use.
// Passed explicitly into each component; there are no package-level knobs.
type EngineConfig struct {
	MinSampleCount int // calls required before a baseline is computed

	AnomalyZThreshold  float64 // |z| at which cost/latency become anomalous
	HighSeverityZ      float64 // |z| at which severity escalates to high
	ErrorRateRatio     float64 // current/baseline error-rate ratio to flag
	ErrorRateHighRatio float64 // ratio at which severity escalates to high

	HighPriorityUSD   float64 // monthly savings for "high" priority
	MediumPriorityUSD float64 // monthly savings for "medium" priority

	MinActionableSavingsUSD float64 // floor for model-downgrade suggestions
	MinCachingOccurrences   int     // duplicate count for a hash to qualify
	MinCachingSavingsUSD    float64 // floor for caching opportunities
	MinErrorSavingsUSD      float64 // floor for error-reduction suggestions

	CooldownDays int // pending recommendation lifetime / dedup window
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MinSampleCount:          10,
		AnomalyZThreshold:       2.0,
		HighSeverityZ:           3.0,
		ErrorRateRatio:          1.5,
		ErrorRateHighRatio:      2.0,
		HighPriorityUSD:         50,
		MediumPriorityUSD:       10,
		MinActionableSavingsUSD: 1.0,
		MinCachingOccurrences:   5,
		MinCachingSavingsUSD:    1.0,
		MinErrorSavingsUSD:      0.50,
		CooldownDays:            14,
	}
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		Engine:               DefaultEngineConfig(),
	}

	rpmStr := getEnv("DEFAULT_RATE_LIMIT_RPM", "60")
	rpm, err := strconv.ParseInt(rpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RATE_LIMIT_RPM: %w", err)
	}
	cfg.DefaultRateLimitRPM = rpm

	cooldownStr := getEnv("RECOMMENDATION_COOLDOWN_DAYS", "14")
	cooldown, err := strconv.Atoi(cooldownStr)
	if err != nil || cooldown < 1 {
		return nil, fmt.Errorf("invalid RECOMMENDATION_COOLDOWN_DAYS: %q", cooldownStr)
	}
	cfg.Engine.CooldownDays = cooldown

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
