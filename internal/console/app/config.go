package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	IdentityURL string // Required: base URL of the identity service
	LaunchURL   string // Optional: launch URL carrying a one-time credential

	CredentialsFile   string        // Optional: path to the sqlite credential cache (default: ./console.db)
	MasterKeyPath     string        // Optional: path to the credential sealing key file
	KeepaliveInterval time.Duration // Optional: keeper tick interval (default: 1m)
	RefreshThreshold  time.Duration // Optional: refresh when session expires within this (default: 5m)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	return Config{
		IdentityURL:         os.Getenv("IDENTITY_URL"),
		LaunchURL:           os.Getenv("CONSOLE_LAUNCH_URL"),
		CredentialsFile:     getEnvOrDefault("CONSOLE_CREDENTIALS_FILE", "console.db"),
		MasterKeyPath:       os.Getenv("CONSOLE_MASTER_KEY_PATH"),
		KeepaliveInterval:   getEnvDurationOrDefault("SESSION_KEEPALIVE_INTERVAL", time.Minute),
		RefreshThreshold:    getEnvDurationOrDefault("SESSION_REFRESH_THRESHOLD", 5*time.Minute),
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
