// Package config provides configuration loading for the export worker.
package config

import (
	"os"
	"strconv"
)

// Config holds export worker configuration. It is loaded once at startup and
// passed through the worker; pipeline code never reads the environment itself.
type Config struct {
	// Temporal settings
	TemporalAddress   string
	TemporalNamespace string
	TaskQueue         string

	// Search backend settings
	SearchBaseURL   string
	SearchRateLimit float64
	SearchRateBurst int

	// Export limits
	PageSize              int64
	MaxEntriesExportLimit int64

	// ArtifactsDir is the root under which per-run scratch subdirectories live.
	ArtifactsDir string

	// Destination object store settings
	MinioEndpointURL     string
	MinioAccessKeyID     string
	MinioSecretAccessKey string
	MinioBucket          string
	MinioUseSSL          bool
	MinioRegion          string
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		TemporalAddress:   getEnv("EXPORT_TEMPORAL_ADDRESS", "127.0.0.1:7233"),
		TemporalNamespace: getEnv("EXPORT_TEMPORAL_NAMESPACE", "default"),
		TaskQueue:         getEnv("EXPORT_TASK_QUEUE", "export-entries"),

		SearchBaseURL:   getEnv("EXPORT_SEARCH_BASE_URL", "http://localhost:8000/api/v1"),
		SearchRateLimit: getEnvFloat("EXPORT_SEARCH_RATE_LIMIT", 10.0),
		SearchRateBurst: getEnvInt("EXPORT_SEARCH_RATE_BURST", 5),

		PageSize:              getEnvInt64("EXPORT_PAGE_SIZE", 10_000),
		MaxEntriesExportLimit: getEnvInt64("EXPORT_MAX_ENTRIES", 100_000),

		ArtifactsDir: getEnv("EXPORT_ARTIFACTS_DIR", os.TempDir()),

		MinioEndpointURL:     getEnv("EXPORT_MINIO_ENDPOINT", "http://localhost:9000"),
		MinioAccessKeyID:     getEnv("EXPORT_MINIO_ACCESS_KEY", ""),
		MinioSecretAccessKey: getEnv("EXPORT_MINIO_SECRET_KEY", ""),
		MinioBucket:          getEnv("EXPORT_MINIO_BUCKET", "uploads"),
		MinioUseSSL:          getEnvBool("EXPORT_MINIO_USE_SSL", false),
		MinioRegion:          getEnv("EXPORT_MINIO_REGION", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
