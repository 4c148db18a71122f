// Package config loads all service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Jobs     JobsConfig
	Redis    RedisConfig
	Artifact ArtifactConfig
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// JobsConfig tunes the export job pipeline.
type JobsConfig struct {
	Workers        int64
	Retention      time.Duration
	MaxJobDuration time.Duration
	SweepEvery     time.Duration
	BatchSize      int
}

// RedisConfig selects the shared job store backend. An empty Addr keeps the
// process-local in-memory store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ArtifactConfig points at the directory export artifacts are written to and
// the URL prefix they are served under.
type ArtifactConfig struct {
	Dir       string
	URLPrefix string
}

// Load reads configuration from environment variables with local-development
// defaults.
func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "examreg"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns: getEnvAsInt32("DB_MIN_CONNS", 2),
		},
		Server: ServerConfig{
			Addr:            ":" + getEnv("PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Jobs: JobsConfig{
			Workers:        int64(getEnvAsInt("EXPORT_WORKERS", 4)),
			Retention:      getEnvAsDuration("EXPORT_RETENTION", 24*time.Hour),
			MaxJobDuration: getEnvAsDuration("EXPORT_MAX_DURATION", 30*time.Minute),
			SweepEvery:     getEnvAsDuration("EXPORT_SWEEP_EVERY", 5*time.Minute),
			BatchSize:      getEnvAsInt("EXPORT_BATCH_SIZE", 50),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Artifact: ArtifactConfig{
			Dir:       getEnv("ARTIFACT_DIR", "./exports"),
			URLPrefix: getEnv("ARTIFACT_URL_PREFIX", "/downloads"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsInt32(key string, fallback int32) int32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			return int32(n)
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
