/**
 * Configuration for the Quick Cuts alignment worker
 *
 * Loads configuration from environment variables (optionally seeded from .env)
 */

package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Queue backends understood by cmd/worker.
const (
	QueueBackendRedis = "redis"
	QueueBackendAsynq = "asynq"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string

	// PostgreSQL configuration; empty disables run recording
	DatabaseURL string

	// Qdrant frame-colour index; empty URL disables it
	QdrantURL        string
	QdrantCollection string

	// Queue configuration
	QueueName    string
	QueueBackend string
	MaxRetries   int

	// Worker configuration
	WorkerConcurrency int
	AlignWorkers      int
	MaxImageSize      int64
	ProcessingTimeout int

	// Tesseract configuration
	TesseractLanguages string
	TessdataPrefix     string
	PageSegMode        int

	// Alignment defaults
	ConfidenceThreshold int
	KMeansSeed          int64
	KMeansClusters      int
	DefaultBackground   string
	DefaultOutputSize   string
	DefaultWordHeight   int

	// Health endpoint (gRPC)
	HealthAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:            getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:         getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:           getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:    getEnvOrDefault("QDRANT_COLLECTION", "aligned_frames"),
		QueueName:           getEnvOrDefault("QUEUE_NAME", "quickcuts:jobs"),
		QueueBackend:        strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", QueueBackendRedis)),
		MaxRetries:          getEnvAsIntOrDefault("MAX_RETRIES", 3),
		WorkerConcurrency:   getEnvAsIntOrDefault("WORKER_CONCURRENCY", 2),
		AlignWorkers:        getEnvAsIntOrDefault("ALIGN_WORKERS", runtime.NumCPU()),
		MaxImageSize:        getEnvAsInt64OrDefault("MAX_IMAGE_SIZE", 268435456), // 256MB
		ProcessingTimeout:   getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 600000),  // 10 minutes
		TesseractLanguages:  getEnvOrDefault("TESSERACT_LANGUAGES", "eng"),
		TessdataPrefix:      getEnvOrDefault("TESSDATA_PREFIX", ""),
		PageSegMode:         getEnvAsIntOrDefault("TESSERACT_PSM", 3),
		ConfidenceThreshold: getEnvAsIntOrDefault("CONFIDENCE_THRESHOLD", 30),
		KMeansSeed:          getEnvAsInt64OrDefault("KMEANS_SEED", 42),
		KMeansClusters:      getEnvAsIntOrDefault("KMEANS_CLUSTERS", 5),
		DefaultBackground:   strings.ToLower(getEnvOrDefault("DEFAULT_BACKGROUND", "white")),
		DefaultOutputSize:   getEnvOrDefault("DEFAULT_OUTPUT_SIZE", "1920x1080"),
		DefaultWordHeight:   getEnvAsIntOrDefault("DEFAULT_WORD_HEIGHT", 100),
		HealthAddr:          getEnvOrDefault("HEALTH_ADDR", ":50051"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	if c.QueueBackend != QueueBackendRedis && c.QueueBackend != QueueBackendAsynq {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendRedis, QueueBackendAsynq, c.QueueBackend)
	}

	if c.MaxRetries < 0 || c.MaxRetries > 20 {
		return fmt.Errorf("MAX_RETRIES must be between 0 and 20, got %d", c.MaxRetries)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.AlignWorkers < 1 || c.AlignWorkers > 256 {
		return fmt.Errorf("ALIGN_WORKERS must be between 1 and 256, got %d", c.AlignWorkers)
	}

	if c.MaxImageSize < 1024 || c.MaxImageSize > 4294967296 { // 1KB to 4GB
		return fmt.Errorf("MAX_IMAGE_SIZE must be between 1KB and 4GB, got %d", c.MaxImageSize)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 100 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be between 0 and 100, got %d", c.ConfidenceThreshold)
	}

	if c.KMeansClusters < 1 || c.KMeansClusters > 32 {
		return fmt.Errorf("KMEANS_CLUSTERS must be between 1 and 32, got %d", c.KMeansClusters)
	}

	if c.DefaultWordHeight < 1 {
		return fmt.Errorf("DEFAULT_WORD_HEIGHT must be positive, got %d", c.DefaultWordHeight)
	}

	if c.PageSegMode < 0 || c.PageSegMode > 13 {
		return fmt.Errorf("TESSERACT_PSM must be between 0 and 13, got %d", c.PageSegMode)
	}

	return nil
}

// Timeout returns ProcessingTimeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
