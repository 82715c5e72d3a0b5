package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setEnv sets an environment variable, ignoring errors (for test setup)
func setEnv(key, value string) {
	_ = os.Setenv(key, value)
}

// unsetEnv unsets an environment variable, ignoring errors (for test cleanup)
func unsetEnv(key string) {
	_ = os.Unsetenv(key)
}

func TestLoad(t *testing.T) {
	// Save original env vars
	originalEnv := make(map[string]string)
	envVars := []string{
		"ZITON_CONFIG", "ZITON_API_ADDR", "ZITON_MONITOR_RESTART_INTERVAL",
		"ZITON_EVENT_BUFFER", "LOG_LEVEL", "LOG_FORMAT",
	}
	for _, key := range envVars {
		originalEnv[key] = os.Getenv(key)
		unsetEnv(key)
	}
	defer func() {
		for key, value := range originalEnv {
			if value != "" {
				setEnv(key, value)
			} else {
				unsetEnv(key)
			}
		}
	}()

	tests := []struct {
		name        string
		setupEnv    func(*testing.T)
		wantErr     bool
		checkConfig func(*Config) bool
	}{
		{
			name:     "defaults",
			setupEnv: func(t *testing.T) {},
			checkConfig: func(cfg *Config) bool {
				return filepath.Base(cfg.ConfigPath) == "config.toml" &&
					filepath.Base(filepath.Dir(cfg.ConfigPath)) == ".ziton" &&
					cfg.APIAddr == "127.0.0.1:7117" &&
					cfg.MonitorRestartInterval == 5*time.Second &&
					cfg.EventBuffer == 256 &&
					cfg.LogLevel == slog.LevelInfo &&
					cfg.LogFormat == "text"
			},
		},
		{
			name: "custom values",
			setupEnv: func(t *testing.T) {
				setEnv("ZITON_CONFIG", filepath.Join(t.TempDir(), "custom.toml"))
				setEnv("ZITON_API_ADDR", ":9999")
				setEnv("ZITON_MONITOR_RESTART_INTERVAL", "250ms")
				setEnv("ZITON_EVENT_BUFFER", "8")
				setEnv("LOG_LEVEL", "debug")
				setEnv("LOG_FORMAT", "JSON")
			},
			checkConfig: func(cfg *Config) bool {
				return filepath.Base(cfg.ConfigPath) == "custom.toml" &&
					cfg.APIAddr == ":9999" &&
					cfg.MonitorRestartInterval == 250*time.Millisecond &&
					cfg.EventBuffer == 8 &&
					cfg.LogLevel == slog.LevelDebug &&
					cfg.LogFormat == "json"
			},
		},
		{
			name: "relative config path made absolute",
			setupEnv: func(t *testing.T) {
				setEnv("ZITON_CONFIG", "settings.toml")
			},
			checkConfig: func(cfg *Config) bool {
				return filepath.IsAbs(cfg.ConfigPath) && filepath.Base(cfg.ConfigPath) == "settings.toml"
			},
		},
		{
			name: "invalid LOG_FORMAT",
			setupEnv: func(t *testing.T) {
				setEnv("LOG_FORMAT", "xml")
			},
			wantErr: true,
		},
		{
			name: "invalid LOG_LEVEL",
			setupEnv: func(t *testing.T) {
				setEnv("LOG_LEVEL", "loud")
			},
			wantErr: true,
		},
		{
			name: "invalid restart interval",
			setupEnv: func(t *testing.T) {
				setEnv("ZITON_MONITOR_RESTART_INTERVAL", "soon")
			},
			wantErr: true,
		},
		{
			name: "zero restart interval",
			setupEnv: func(t *testing.T) {
				setEnv("ZITON_MONITOR_RESTART_INTERVAL", "0s")
			},
			wantErr: true,
		},
		{
			name: "invalid event buffer",
			setupEnv: func(t *testing.T) {
				setEnv("ZITON_EVENT_BUFFER", "many")
			},
			wantErr: true,
		},
		{
			name: "negative event buffer",
			setupEnv: func(t *testing.T) {
				setEnv("ZITON_EVENT_BUFFER", "-1")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Change to a temp directory without .env file to avoid loading it
			tmpDir := t.TempDir()
			originalWd, _ := os.Getwd()
			_ = os.Chdir(tmpDir)
			defer func() {
				_ = os.Chdir(originalWd)
			}()

			for _, key := range envVars {
				unsetEnv(key)
			}
			defer func() {
				for _, key := range envVars {
					unsetEnv(key)
				}
			}()

			tt.setupEnv(t)

			cfg, err := Load()

			if tt.wantErr {
				if err == nil {
					t.Errorf("Load() expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("Load() unexpected error: %v", err)
				return
			}

			if cfg == nil {
				t.Fatal("Load() returned nil config")
			}

			if tt.checkConfig != nil && !tt.checkConfig(cfg) {
				t.Errorf("Load() config validation failed: %+v", cfg)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	originalValue := os.Getenv("TEST_ENV_VAR")
	defer func() {
		if originalValue != "" {
			setEnv("TEST_ENV_VAR", originalValue)
		} else {
			unsetEnv("TEST_ENV_VAR")
		}
	}()

	tests := []struct {
		name         string
		setupEnv     func()
		key          string
		defaultValue string
		want         string
	}{
		{
			name: "env var set",
			setupEnv: func() {
				setEnv("TEST_ENV_VAR", "set-value")
			},
			key:          "TEST_ENV_VAR",
			defaultValue: "default",
			want:         "set-value",
		},
		{
			name: "env var not set",
			setupEnv: func() {
				unsetEnv("TEST_ENV_VAR")
			},
			key:          "TEST_ENV_VAR",
			defaultValue: "default",
			want:         "default",
		},
		{
			name: "empty env var uses default",
			setupEnv: func() {
				setEnv("TEST_ENV_VAR", "")
			},
			key:          "TEST_ENV_VAR",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setupEnv()
			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}
