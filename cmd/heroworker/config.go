package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the heroworker service configuration. Every field has a sane
// default; the YAML file and environment variables both override it, env
// winning.
type Config struct {
	// Port the HTTP server listens on.
	Port string `yaml:"port"`
	// Site is the origin the worker fronts, e.g. https://plainlicense.org.
	Site string `yaml:"site"`
	// ManifestPath points at the precache manifest JSON.
	ManifestPath string `yaml:"manifest_path"`
	// CacheDB / EventsDB are SQLite file paths.
	CacheDB  string `yaml:"cache_db"`
	EventsDB string `yaml:"events_db"`

	// AdminUser enables Basic Auth on the admin routes when non-empty.
	// AdminPassword is bcrypt-hashed at boot, never stored.
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`

	// RateLimit caps admin requests per window per client IP. Zero disables.
	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	// Revalidate tunes the background refresh queue.
	Revalidate struct {
		Visibility   time.Duration `yaml:"visibility"`
		PollInterval time.Duration `yaml:"poll_interval"`
		MaxAttempts  int           `yaml:"max_attempts"`
	} `yaml:"revalidate"`

	// Hero tunes the state coordinator.
	Hero struct {
		LeaveGrace       time.Duration `yaml:"leave_grace"`
		ViewportDebounce time.Duration `yaml:"viewport_debounce"`
	} `yaml:"hero"`

	// EventRetentionDays prunes old worker events. Zero keeps everything.
	EventRetentionDays int `yaml:"event_retention_days"`

	// LogLevel: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// Dev switches to human-readable debug logging on stderr.
	Dev bool `yaml:"dev"`

	// MCPTransport: "stdio" serves the admin tools over MCP stdio instead of
	// running the HTTP server in the foreground. Empty disables MCP.
	MCPTransport string `yaml:"mcp_transport"`
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = "8090"
	}
	if c.ManifestPath == "" {
		c.ManifestPath = "manifest.json"
	}
	if c.CacheDB == "" {
		c.CacheDB = "db/cache.db"
	}
	if c.EventsDB == "" {
		c.EventsDB = "db/events.db"
	}
	if c.RateLimitWindow == 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// loadConfig reads the optional YAML file, then lets environment variables
// override the fields operators most often flip per deployment.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	overrideStr(&cfg.Port, "PORT")
	overrideStr(&cfg.Site, "SITE_URL")
	overrideStr(&cfg.ManifestPath, "MANIFEST_PATH")
	overrideStr(&cfg.CacheDB, "CACHE_DB")
	overrideStr(&cfg.EventsDB, "EVENTS_DB")
	overrideStr(&cfg.AdminUser, "ADMIN_USER")
	overrideStr(&cfg.AdminPassword, "ADMIN_PASSWORD")
	overrideStr(&cfg.LogLevel, "LOG_LEVEL")
	overrideStr(&cfg.MCPTransport, "MCP_TRANSPORT")

	cfg.applyDefaults()

	if cfg.Site == "" {
		return nil, fmt.Errorf("site is required (config site: or SITE_URL)")
	}
	return &cfg, nil
}

func overrideStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
