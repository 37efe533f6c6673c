package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "pam.yaml", `
reasoning:
  url: ws://engine:8000/ws
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("version = %d", cfg.Version)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("driver = %s", cfg.Database.Driver)
	}
	if cfg.Tools.MaxConcurrentPerUser != 4 || cfg.Tools.QueueTimeout != 10*time.Second || cfg.Tools.ToolTimeout != 30*time.Second {
		t.Errorf("tools = %+v", cfg.Tools)
	}
	if cfg.Reasoning.SlowThreshold != 5*time.Second {
		t.Errorf("slow threshold = %v", cfg.Reasoning.SlowThreshold)
	}
	if cfg.Reasoning.Backoff.Initial != time.Second || cfg.Reasoning.Backoff.Max != 30*time.Second {
		t.Errorf("backoff = %+v", cfg.Reasoning.Backoff)
	}
}

func TestLoadParsesDurationsAndSections(t *testing.T) {
	path := writeConfig(t, "pam.yaml", `
server:
  http_port: 9000
  housekeeping: "*/5 * * * *"
reasoning:
  url: wss://engine.example.com/ws
  slow_threshold: 3s
  backoff:
    initial: 500ms
    max: 10s
    factor: 1.5
speech:
  enabled: true
  url: ws://speech:9001/stream
  voice: alloy
database:
  driver: sqlite
  url: file:pam.db
usage:
  persist: true
  retention: 72h
logging:
  level: debug
  format: text
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9000 || cfg.Server.Housekeeping != "*/5 * * * *" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Reasoning.SlowThreshold != 3*time.Second {
		t.Errorf("slow threshold = %v", cfg.Reasoning.SlowThreshold)
	}
	if cfg.Reasoning.Backoff.Initial != 500*time.Millisecond || cfg.Reasoning.Backoff.Factor != 1.5 {
		t.Errorf("backoff = %+v", cfg.Reasoning.Backoff)
	}
	if !cfg.Speech.Enabled || cfg.Speech.Voice != "alloy" {
		t.Errorf("speech = %+v", cfg.Speech)
	}
	if cfg.Usage.Retention != 72*time.Hour || !cfg.Usage.Persist {
		t.Errorf("usage = %+v", cfg.Usage)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("PAM_TEST_DSN", "postgres://pam:secret@db/pam")
	path := writeConfig(t, "pam.yaml", `
database:
  driver: postgres
  url: ${PAM_TEST_DSN}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://pam:secret@db/pam" {
		t.Errorf("url = %q", cfg.Database.URL)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("PAM_TEST_HOST", "engine")
	t.Setenv("PAM_TEST_EMPTY", "")

	tests := []struct {
		in   string
		want string
	}{
		{"ws://${PAM_TEST_HOST}:8000/ws", "ws://engine:8000/ws"},
		{"$PAM_TEST_HOST", "engine"},
		{"${PAM_TEST_UNSET}", ""},
		{"${PAM_TEST_UNSET:-fallback}", "fallback"},
		{"${PAM_TEST_EMPTY:-fallback}", "fallback"},
		{"${PAM_TEST_HOST:-fallback}", "engine"},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, "pam.json5", `{
  // comments and trailing commas are allowed
  reasoning: { url: "ws://engine:8000/ws", slow_threshold: "2s", },
  tools: { max_concurrent_per_user: 2 },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Reasoning.SlowThreshold != 2*time.Second || cfg.Tools.MaxConcurrentPerUser != 2 {
		t.Errorf("cfg = %+v %+v", cfg.Reasoning, cfg.Tools)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("logging:\n  level: warn\n  format: text\nserver:\n  http_port: 7000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "pam.yaml")
	if err := os.WriteFile(main, []byte("include: base.yaml\nlogging:\n  level: error\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "text" || cfg.Server.HTTPPort != 7000 {
		t.Errorf("merged config = %+v %+v", cfg.Logging, cfg.Server)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	_ = os.WriteFile(a, []byte("include: b.yaml\n"), 0o600)
	_ = os.WriteFile(b, []byte("include: a.yaml\n"), 0o600)
	_, err := Load(a)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "pam.yaml", `
server:
  host: 0.0.0.0
  extra: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeConfig(t, "pam.yaml", "")
	if _, err := Load(path); err != nil {
		t.Fatalf("empty file should load with defaults: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		issue  string
	}{
		{name: "bad port", mutate: func(c *Config) { c.Server.HTTPPort = 70000 }, issue: "http_port"},
		{name: "bad schedule", mutate: func(c *Config) { c.Server.Housekeeping = "sometimes" }, issue: "housekeeping"},
		{name: "http reasoning url", mutate: func(c *Config) { c.Reasoning.URL = "http://engine/ws" }, issue: "reasoning.url"},
		{name: "speech without url", mutate: func(c *Config) { c.Speech.Enabled = true }, issue: "speech.url"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, issue: "database.driver"},
		{name: "postgres without url", mutate: func(c *Config) { c.Database.Driver = "postgres" }, issue: "database.url"},
		{name: "persist on memory", mutate: func(c *Config) { c.Usage.Persist = true }, issue: "usage.persist"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, issue: "logging.level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, issue: "logging.format"},
		{name: "sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, issue: "sampling_rate"},
		{name: "tracing endpoint", mutate: func(c *Config) { c.Tracing.Enabled = true }, issue: "tracing.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.issue) {
				t.Errorf("error %q does not mention %q", err, tt.issue)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidateCollectsAllIssues(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "loud"
	cfg.Logging.Format = "xml"
	err := cfg.Validate()
	var ve *ValidationError
	if !errors.As(err, &ve) || len(ve.Issues) != 2 {
		t.Fatalf("expected two issues, got %v", err)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	if !json.Valid(data) {
		t.Fatal("schema is not valid JSON")
	}
	for _, key := range []string{"reasoning", "slow_threshold", "max_concurrent_per_user", "housekeeping"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("schema missing %q", key)
		}
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
