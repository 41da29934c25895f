package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

func (c *CLIConfig) bindFlags(fs *pflag.FlagSet) {
	// Define flags with environment variable fallback
	fs.StringSliceVarP(&c.ConfigPaths, "config", "c",
		getEnvList("BCISTREAM_CONFIG"),
		"Configuration file, JSON or YAML; repeat to layer files (env: BCISTREAM_CONFIG, comma separated)")

	fs.StringVar(&c.LogLevel, "log-level",
		getEnv("BCISTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: BCISTREAM_LOG_LEVEL)")

	fs.StringVar(&c.LogFormat, "log-format",
		getEnv("BCISTREAM_LOG_FORMAT", "json"),
		"Log format: json, text (env: BCISTREAM_LOG_FORMAT)")

	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("BCISTREAM_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: BCISTREAM_SHUTDOWN_TIMEOUT)")
}

func validateFlags(cfg *CLIConfig) error {
	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
