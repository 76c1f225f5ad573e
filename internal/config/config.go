// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir         string // Base directory for all databases (always absolute)
	Port            int
	DevMode         bool
	LogLevel        string
	CallbackBaseURL string // Base URL reported to the external workflow system for callbacks

	Fetcher FetcherConfig
	Backup  BackupConfig
}

// FetcherConfig holds settings for the external NAV source client
type FetcherConfig struct {
	DailyURL       string
	HistoricalURL  string
	RequestTimeout time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	MinCallGap     time.Duration
}

// BackupConfig holds S3-compatible backup storage configuration
type BackupConfig struct {
	Enabled       bool
	Endpoint      string // S3-compatible endpoint URL (empty = AWS default)
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
	Schedule      string // cron expression for the nightly backup
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("NAVHUB_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		Port:            getEnvAsInt("NAVHUB_PORT", 8080),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CallbackBaseURL: getEnv("NAVHUB_CALLBACK_BASE_URL", "http://localhost:8080"),
		Fetcher: FetcherConfig{
			DailyURL:       getEnv("NAV_DAILY_URL", "https://www.amfiindia.com/spages/NAVAll.txt"),
			HistoricalURL:  getEnv("NAV_HISTORICAL_URL", "https://portal.amfiindia.com/DownloadNAVHistoryReport_Po.aspx"),
			RequestTimeout: getEnvAsDuration("NAV_REQUEST_TIMEOUT", 30*time.Second),
			MaxAttempts:    getEnvAsInt("NAV_MAX_ATTEMPTS", 3),
			RetryBaseDelay: getEnvAsDuration("NAV_RETRY_BASE_DELAY", time.Second),
			MinCallGap:     getEnvAsDuration("NAV_MIN_CALL_GAP", time.Second),
		},
		Backup: BackupConfig{
			Enabled:       getEnvAsBool("BACKUP_ENABLED", false),
			Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:        getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:        getEnv("BACKUP_S3_BUCKET", ""),
			AccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 14),
			Schedule:      getEnv("BACKUP_SCHEDULE", "0 3 * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Fetcher.MaxAttempts < 1 {
		return fmt.Errorf("NAV_MAX_ATTEMPTS must be at least 1, got %d", c.Fetcher.MaxAttempts)
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("BACKUP_S3_BUCKET is required when backups are enabled")
	}
	return nil
}

// Helper functions
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
