// Package config loads runtime configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the composition root needs to wire the process.
type Config struct {
	Env        string // "development" or "production"
	DataDir    string // directory holding the SQLite store
	ListenAddr string // local HTTP surface for the UI shell

	BackendURL   string // MatchLog backend base URL
	SessionToken string // authenticated session bearer token
	RatePerSec   float64

	SyncInterval time.Duration
	WarnAttempts int

	LogLevel string
	LogFile  string
}

// Load reads configuration, silently ignoring a missing .env file.
func Load() Config {
	godotenv.Load()

	return Config{
		Env:          getEnv("MATCHLOG_ENV", "development"),
		DataDir:      getEnv("MATCHLOG_DATA_DIR", "./data"),
		ListenAddr:   getEnv("MATCHLOG_LISTEN_ADDR", "127.0.0.1:8787"),
		BackendURL:   getEnv("MATCHLOG_BACKEND_URL", "https://matchlog.app"),
		SessionToken: getEnv("MATCHLOG_SESSION_TOKEN", ""),
		RatePerSec:   getEnvFloat("MATCHLOG_SYNC_RATE", 5),
		SyncInterval: getEnvDuration("MATCHLOG_SYNC_INTERVAL", 5*time.Minute),
		WarnAttempts: getEnvInt("MATCHLOG_SYNC_WARN_ATTEMPTS", 5),
		LogLevel:     getEnv("MATCHLOG_LOG_LEVEL", "info"),
		LogFile:      getEnv("MATCHLOG_LOG_FILE", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
