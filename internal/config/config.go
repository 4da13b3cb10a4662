/**
 * Configuration for the OCR recognition worker
 *
 * Loads configuration from environment variables matching .env.ocrcore.
 * Recognition thresholds live in a separate params file (see params.go).
 */

package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (queue and dictionary store)
	RedisURL  string
	QueueName string

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant vector database configuration (training samples)
	QdrantURL        string
	QdrantCollection string
	QdrantVectorSize int

	// Languages, primary first
	Languages []string

	// Dictionary backend: "redis", "file" or "none"
	DictionaryBackend string
	WordListDir       string

	// Unicharset listings, <dir>/<lang>.unicharset
	CharsetDir      string
	CharsetCapacity int

	// Recognition parameter file; empty means the XDG default location
	ParamsFile string

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds

	// Tesseract configuration
	TessdataPrefix string

	LogLevel    string
	TempDir     string
	MaxFileSize int64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "ocrcore"),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:         getEnvOrDefault("QDRANT_URL", "localhost:6334"),
		QdrantCollection:  getEnvOrDefault("QDRANT_COLLECTION", "ocrcore_samples"),
		QdrantVectorSize:  getEnvAsIntOrDefault("QDRANT_VECTOR_SIZE", 64),
		Languages:         getEnvAsListOrDefault("OCR_LANGUAGES", []string{"eng"}),
		DictionaryBackend: getEnvOrDefault("DICTIONARY_BACKEND", "redis"),
		WordListDir:       getEnvOrDefault("WORDLIST_DIR", "/usr/share/ocrcore/wordlists"),
		CharsetDir:        getEnvOrDefault("CHARSET_DIR", ""),
		CharsetCapacity:   getEnvAsIntOrDefault("CHARSET_CAPACITY", 0),
		ParamsFile:        getEnvOrDefault("OCR_PARAMS_FILE", ""),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 120000), // 2 minutes
		TessdataPrefix:    getEnvOrDefault("TESSDATA_PREFIX", ""),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		TempDir:           getEnvOrDefault("TEMP_DIR", "/tmp/ocrcore"),
		MaxFileSize:       int64(getEnvAsIntOrDefault("MAX_FILE_SIZE", 512<<20)),
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

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if len(c.Languages) == 0 {
		return fmt.Errorf("OCR_LANGUAGES must name at least one language")
	}

	switch c.DictionaryBackend {
	case "redis", "file", "none":
	default:
		return fmt.Errorf("DICTIONARY_BACKEND must be redis, file or none, got %q", c.DictionaryBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.QdrantVectorSize < 8 || c.QdrantVectorSize > 4096 {
		return fmt.Errorf("QDRANT_VECTOR_SIZE must be between 8 and 4096, got %d", c.QdrantVectorSize)
	}
	// Sample vectors are square occupancy grids.
	if side := int(math.Sqrt(float64(c.QdrantVectorSize))); side*side != c.QdrantVectorSize {
		return fmt.Errorf("QDRANT_VECTOR_SIZE must be a perfect square, got %d", c.QdrantVectorSize)
	}

	if c.CharsetCapacity < 0 {
		return fmt.Errorf("CHARSET_CAPACITY must not be negative, got %d", c.CharsetCapacity)
	}

	if c.MaxFileSize < 1 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	return nil
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

// getEnvAsListOrDefault splits a "+" or comma separated list, the way
// tesseract names language combinations ("eng+deu")
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	fields := strings.FieldsFunc(valueStr, func(r rune) bool { return r == '+' || r == ',' })
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
