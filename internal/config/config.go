package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the process-level configuration for the application.
// The index settings themselves live in the TOML file at ConfigPath.
type Config struct {
	ConfigPath             string
	APIAddr                string
	MonitorRestartInterval time.Duration
	EventBuffer            int
	LogLevel               slog.Level
	LogFormat              string
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates the rest.
// If a .env file exists in the current directory or a parent, it will be loaded automatically.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ { // Limit search depth
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break // Reached filesystem root
			}
			dir = parent
		}
	}

	configPath := getEnv("ZITON_CONFIG", "")
	if configPath == "" {
		configPath, err = DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	configPath, err = filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("ZITON_CONFIG must be a valid path: %w", err)
	}

	cfg := &Config{
		ConfigPath: configPath,
		APIAddr:    getEnv("ZITON_API_ADDR", "127.0.0.1:7117"),
		LogFormat:  strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL is invalid: %w", err)
	}

	interval, err := time.ParseDuration(getEnv("ZITON_MONITOR_RESTART_INTERVAL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("ZITON_MONITOR_RESTART_INTERVAL must be a valid duration: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("ZITON_MONITOR_RESTART_INTERVAL must be greater than 0")
	}
	cfg.MonitorRestartInterval = interval

	buffer, err := strconv.Atoi(getEnv("ZITON_EVENT_BUFFER", "256"))
	if err != nil {
		return nil, fmt.Errorf("ZITON_EVENT_BUFFER must be a valid integer: %w", err)
	}
	if buffer <= 0 {
		return nil, fmt.Errorf("ZITON_EVENT_BUFFER must be greater than 0")
	}
	cfg.EventBuffer = buffer

	return cfg, nil
}

// DefaultConfigPath returns ~/.ziton/config.toml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".ziton", "config.toml"), nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
