// Package config provides configuration for the operator console.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the console configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Upstream endpoints
	ChatStreamURL string
	GatewayURL    string

	// Timeouts
	ToolWatchdog time.Duration
	ApprovalTTL  time.Duration
	TicketSweep  time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:      getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:   getEnv("DATABASE_URL", "file:console.db?cache=shared&mode=rwc"),
		ChatStreamURL: getEnv("CHAT_STREAM_URL", "http://localhost:8090"),
		GatewayURL:    getEnv("GATEWAY_URL", "http://localhost:8080"),
		ToolWatchdog:  time.Duration(getEnvInt("TOOL_WATCHDOG_MS", 25000)) * time.Millisecond,
		ApprovalTTL:   time.Duration(getEnvInt("APPROVAL_TTL_MS", 600000)) * time.Millisecond,
		TicketSweep:   time.Duration(getEnvInt("TICKET_SWEEP_MS", 500)) * time.Millisecond,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
