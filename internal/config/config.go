// Package config centralizes environment configuration for the gateway
// binary.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the gateway's environment-driven configuration.
type Config struct {
	// ServerPort is the HTTP listen port.
	ServerPort string
	// RedisURL is the shared counter store connection URL. Empty degrades
	// the admission controller to fail-open for every call; it never makes
	// startup fail.
	RedisURL string
	// JWTSecret verifies bearer tokens for identity-keyed policies.
	JWTSecret string
	// MaxFileSize is the per-file upload bound in bytes.
	MaxFileSize int64
	// MaxFilesPerRequest bounds the files accepted in one request.
	MaxFilesPerRequest int
	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string
}

// Load reads configuration from the environment, after loading an optional
// .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		RedisURL:   os.Getenv("REDIS_URL"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}

	maxFileSize, err := getEnvInt64("MAX_FILE_SIZE", 10<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxFileSize = maxFileSize

	maxFiles, err := getEnvInt64("MAX_FILES_PER_REQUEST", 5)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxFilesPerRequest = int(maxFiles)

	if cfg.MaxFileSize <= 0 {
		return Config{}, fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", cfg.MaxFileSize)
	}
	if cfg.MaxFilesPerRequest <= 0 {
		return Config{}, fmt.Errorf("MAX_FILES_PER_REQUEST must be positive, got %d", cfg.MaxFilesPerRequest)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return parsed, nil
}
