// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds application configuration. It is constructed once at
// process start and passed explicitly to collaborators; nothing reads it
// through a global.
type Config struct {
	DataDir  string // base directory for the database and staging files
	Port     int
	LogLevel string
	DevMode  bool

	// Currency settings. PivotCurrency is the reporting currency with a
	// fixed identity rate; SupportedCurrencies is the closed conversion
	// set and always contains the pivot.
	PivotCurrency       string
	SupportedCurrencies []string
	RateRetentionDays   int

	// External rate source
	RateSourceURL      string
	RateSourceFallback decimal.Decimal // zero disables the constant fallback

	// Schedules, seconds-resolution cron expressions
	FXRefreshSchedule    string
	PriceRefreshSchedule string
	ReconcileSchedule    string
	SnapshotSchedule     string
	BackupSchedule       string
	MaintenanceSchedule  string

	// Off-site backups. Disabled unless a bucket is configured.
	BackupRetentionDays int
	S3Endpoint          string
	S3Region            string
	S3Bucket            string
	S3AccessKeyID       string
	S3SecretAccessKey   string
}

// Load reads configuration from the environment, consulting a .env file
// when present
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("LEDGERD_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("LEDGERD_PORT", 8000),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		PivotCurrency:       getEnv("PIVOT_CURRENCY", "CNY"),
		SupportedCurrencies: splitList(getEnv("SUPPORTED_CURRENCIES", "CNY,USD,HKD")),
		RateRetentionDays:   getEnvAsInt("RATE_RETENTION_DAYS", 30),

		RateSourceURL: getEnv("RATE_SOURCE_URL", ""),

		FXRefreshSchedule:    getEnv("FX_REFRESH_SCHEDULE", "0 0 12 * * *"),
		PriceRefreshSchedule: getEnv("PRICE_REFRESH_SCHEDULE", "@every 30s"),
		ReconcileSchedule:    getEnv("RECONCILE_SCHEDULE", "0 * * * * *"),
		SnapshotSchedule:     getEnv("SNAPSHOT_SCHEDULE", "0 0 2 * * *"),
		BackupSchedule:       getEnv("BACKUP_SCHEDULE", "0 30 3 * * *"),
		MaintenanceSchedule:  getEnv("MAINTENANCE_SCHEDULE", "0 0 4 * * *"),

		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            getEnv("S3_REGION", "auto"),
		S3Bucket:            getEnv("S3_BUCKET", ""),
		S3AccessKeyID:       getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:   getEnv("S3_SECRET_ACCESS_KEY", ""),
	}

	if raw := getEnv("RATE_SOURCE_FALLBACK", ""); raw != "" {
		fallback, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_SOURCE_FALLBACK %q: %w", raw, err)
		}
		cfg.RateSourceFallback = fallback
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.PivotCurrency == "" {
		return fmt.Errorf("pivot currency is required")
	}
	for _, cur := range c.SupportedCurrencies {
		if cur == c.PivotCurrency {
			return nil
		}
	}
	return fmt.Errorf("supported currencies %v must include the pivot %s", c.SupportedCurrencies, c.PivotCurrency)
}

// BackupEnabled reports whether off-site backups are configured
func (c *Config) BackupEnabled() bool {
	return c.S3Bucket != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
