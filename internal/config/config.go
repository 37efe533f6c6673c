// Package config loads the bridge configuration from YAML or JSON5 files.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/pam/internal/backoff"
)

// Config is the main configuration structure for the PAM bridge.
type Config struct {
	Version   int             `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Speech    SpeechConfig    `yaml:"speech"`
	Database  DatabaseConfig  `yaml:"database"`
	Usage     UsageConfig     `yaml:"usage"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	HTTPPort          int           `yaml:"http_port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// SessionIdleTimeout reaps browser sessions with no traffic.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	// Housekeeping is a cron spec for session reaping and usage pruning.
	Housekeeping string `yaml:"housekeeping"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles chat frames and HTTP tool executions per user.
type RateLimitConfig struct {
	Disabled  bool    `yaml:"disabled"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// ReasoningConfig configures the reasoning engine connection.
type ReasoningConfig struct {
	URL           string            `yaml:"url"`
	Headers       map[string]string `yaml:"headers"`
	SlowThreshold time.Duration     `yaml:"slow_threshold"`
	ChannelBuffer int               `yaml:"channel_buffer"`
	Backoff       backoff.Policy    `yaml:"backoff"`
}

// SpeechConfig configures the optional speech provider connection.
type SpeechConfig struct {
	Enabled            bool              `yaml:"enabled"`
	URL                string            `yaml:"url"`
	Headers            map[string]string `yaml:"headers"`
	Voice              string            `yaml:"voice"`
	ColdStartThreshold time.Duration     `yaml:"cold_start_threshold"`
	MaxDialAttempts    int               `yaml:"max_dial_attempts"`
	Backoff            backoff.Policy    `yaml:"backoff"`
}

// DatabaseConfig selects the data store. Driver is memory, postgres or sqlite.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// UsageConfig configures usage recording.
type UsageConfig struct {
	// Persist writes records to the database as well as the in-memory tracker.
	Persist     bool          `yaml:"persist"`
	Buffer      int           `yaml:"buffer"`
	Retention   time.Duration `yaml:"retention"`
	RecentLimit int           `yaml:"recent_limit"`
}

// ToolsConfig bounds tool execution.
type ToolsConfig struct {
	MaxConcurrentPerUser int           `yaml:"max_concurrent_per_user"`
	QueueTimeout         time.Duration `yaml:"queue_timeout"`
	ToolTimeout          time.Duration `yaml:"tool_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	Insecure       bool    `yaml:"insecure"`
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed: " + strings.Join(e.Issues, "; ")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads, expands, decodes, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.SessionIdleTimeout == 0 {
		cfg.Server.SessionIdleTimeout = 30 * time.Minute
	}
	if cfg.Server.Housekeeping == "" {
		cfg.Server.Housekeeping = "@every 1m"
	}
	if cfg.Server.RateLimit.PerSecond == 0 {
		cfg.Server.RateLimit.PerSecond = 2
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 10
	}
	if cfg.Reasoning.URL == "" {
		cfg.Reasoning.URL = "ws://127.0.0.1:8000/ws"
	}
	if cfg.Reasoning.SlowThreshold == 0 {
		cfg.Reasoning.SlowThreshold = 5 * time.Second
	}
	if cfg.Reasoning.ChannelBuffer == 0 {
		cfg.Reasoning.ChannelBuffer = 16
	}
	cfg.Reasoning.Backoff = cfg.Reasoning.Backoff.Normalize()
	if cfg.Speech.ColdStartThreshold == 0 {
		cfg.Speech.ColdStartThreshold = 8 * time.Second
	}
	if cfg.Speech.MaxDialAttempts == 0 {
		cfg.Speech.MaxDialAttempts = 5
	}
	cfg.Speech.Backoff = cfg.Speech.Backoff.Normalize()
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Usage.Buffer == 0 {
		cfg.Usage.Buffer = 1024
	}
	if cfg.Usage.Retention == 0 {
		cfg.Usage.Retention = 30 * 24 * time.Hour
	}
	if cfg.Usage.RecentLimit == 0 {
		cfg.Usage.RecentLimit = 200
	}
	if cfg.Tools.MaxConcurrentPerUser == 0 {
		cfg.Tools.MaxConcurrentPerUser = 4
	}
	if cfg.Tools.QueueTimeout == 0 {
		cfg.Tools.QueueTimeout = 10 * time.Second
	}
	if cfg.Tools.ToolTimeout == 0 {
		cfg.Tools.ToolTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "pam"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		add("server.http_port must be between 1 and 65535")
	}
	if _, err := cron.ParseStandard(c.Server.Housekeeping); err != nil {
		add("server.housekeeping is not a valid schedule: %v", err)
	}
	if err := validateSocketURL(c.Reasoning.URL); err != nil {
		add("reasoning.url %v", err)
	}
	if c.Speech.Enabled {
		if err := validateSocketURL(c.Speech.URL); err != nil {
			add("speech.url %v", err)
		}
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres", "sqlite":
		if strings.TrimSpace(c.Database.URL) == "" {
			add("database.url is required for driver %q", c.Database.Driver)
		}
	default:
		add("database.driver must be one of memory, postgres, sqlite")
	}
	if c.Usage.Persist && c.Database.Driver == "memory" {
		add("usage.persist requires a postgres or sqlite database")
	}
	if c.Server.RateLimit.PerSecond < 0 || c.Server.RateLimit.Burst < 0 {
		add("server.rate_limit values must not be negative")
	}
	if c.Usage.Buffer < 0 || c.Usage.RecentLimit < 0 {
		add("usage.buffer and usage.recent_limit must not be negative")
	}

	if c.Tools.MaxConcurrentPerUser < 0 {
		add("tools.max_concurrent_per_user must not be negative")
	}
	if c.Tools.QueueTimeout < 0 || c.Tools.ToolTimeout < 0 {
		add("tools timeouts must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		add("logging.format must be json or text")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}
	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		add("tracing.endpoint is required when tracing is enabled")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validateSocketURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("must be an absolute websocket URL")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("must use ws or wss, got %q", u.Scheme)
	}
	return nil
}
