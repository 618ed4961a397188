package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the agent server. The debugging
// endpoint address is injected here; the agent never discovers it.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// HTTP API settings
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Action behavior
	DefaultTimeoutMS int
	MaxTimeoutMS     int
	PollIntervalMS   int

	// Storage
	SnapshotDir string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		BindAddr:         getEnvOrDefault("AGENT_BIND_ADDR", "127.0.0.1:8470"),
		PortCandidates:   splitList(getEnvOrDefault("AGENT_PORT_CANDIDATES", "127.0.0.1:8471,127.0.0.1:8472")),
		PortAutoFallback: getEnvBoolOrDefault("AGENT_PORT_AUTO_FALLBACK", true),
		DefaultTimeoutMS: getEnvIntOrDefault("AGENT_DEFAULT_TIMEOUT_MS", 5000),
		MaxTimeoutMS:     getEnvIntOrDefault("AGENT_MAX_TIMEOUT_MS", 60000),
		PollIntervalMS:   getEnvIntOrDefault("AGENT_POLL_INTERVAL_MS", 100),
		SnapshotDir:      getEnvOrDefault("SNAPSHOT_DIR", "./snapshots"),
		LogLevel:         strings.ToLower(getEnvOrDefault("AGENT_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("AGENT_LOG_FILE", "logs/web_agent.log"),
	}

	if cfg.DefaultTimeoutMS < 100 {
		cfg.DefaultTimeoutMS = 100
	}
	if cfg.MaxTimeoutMS < cfg.DefaultTimeoutMS {
		cfg.MaxTimeoutMS = cfg.DefaultTimeoutMS
	}
	if cfg.PollIntervalMS < 10 {
		cfg.PollIntervalMS = 10
	}

	return cfg, nil
}

// CDPURL returns the debugging HTTP endpoint base URL.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
