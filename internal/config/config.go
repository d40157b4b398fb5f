package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devSigningKey = "dev-only-change-me"

type Config struct {
	// HTTP
	HTTPAddr           string
	MetricsAddr        string
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration

	// Storage; empty DatabaseURL selects the in-memory repositories
	DatabaseURL string

	// History sealing
	SigningKey string

	// Allocation
	SplitPolicy  string
	SplitWeights string
	RulesFile    string

	// Audit
	NotifyWorkers int

	LogLevel slog.Level
	Env      string
}

func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:     getEnvDefault("HTTP_ADDR", ":8080"),
		MetricsAddr:  getEnvDefault("METRICS_ADDR", ":9090"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SigningKey:   getEnvDefault("SIGNING_KEY", devSigningKey),
		SplitPolicy:  getEnvDefault("SPLIT_POLICY", "equal"),
		SplitWeights: getEnvDefault("SPLIT_WEIGHTS", "1,1,1"),
		RulesFile:    os.Getenv("RULES_FILE"),
		Env:          getEnvDefault("APP_ENV", "development"),
	}

	cfg.CORSAllowedOrigins = splitList(getEnvDefault("CORS_ALLOWED_ORIGINS", "*"))

	workers, err := strconv.Atoi(getEnvDefault("NOTIFY_WORKERS", "2"))
	if err != nil || workers < 1 {
		return nil, fmt.Errorf("NOTIFY_WORKERS must be a positive integer, got %q", os.Getenv("NOTIFY_WORKERS"))
	}
	cfg.NotifyWorkers = workers

	timeout, err := time.ParseDuration(getEnvDefault("SHUTDOWN_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout = timeout

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnvDefault("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	switch strings.ToLower(cfg.SplitPolicy) {
	case "equal", "role_weighted":
	default:
		return nil, fmt.Errorf("SPLIT_POLICY must be equal or role_weighted, got %q", cfg.SplitPolicy)
	}

	if cfg.Env == "production" && cfg.SigningKey == devSigningKey {
		return nil, fmt.Errorf("SIGNING_KEY is required in production")
	}

	if cfg.RulesFile != "" {
		if _, err := os.Stat(cfg.RulesFile); err != nil {
			return nil, fmt.Errorf("RULES_FILE: %w", err)
		}
	}

	return cfg, nil
}

// UsesDatabase reports whether repositories should be backed by Postgres.
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
