package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/pam/internal/config"
	"github.com/haasonsaas/pam/pkg/models"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"serve", "tools", "config", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestToolsList(t *testing.T) {
	out, err := execute(t, "tools", "list")
	if err != nil {
		t.Fatalf("tools list: %v", err)
	}
	for _, name := range []string{"getUserExpenses", "getUserBudgets", "searchUserData"} {
		if !strings.Contains(out, name) {
			t.Errorf("output missing %s:\n%s", name, out)
		}
	}
}

func TestToolsListJSON(t *testing.T) {
	out, err := execute(t, "tools", "list", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var decls []map[string]any
	if err := json.Unmarshal([]byte(out), &decls); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(decls) != 9 {
		t.Errorf("got %d declarations", len(decls))
	}
}

func TestToolsExec(t *testing.T) {
	t.Run("unknown tool", func(t *testing.T) {
		_, err := execute(t, "tools", "exec", "getWeather", "--user", "u1")
		if err == nil || !strings.Contains(err.Error(), string(models.ToolErrorNotFound)) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("invalid parameters", func(t *testing.T) {
		_, err := execute(t, "tools", "exec", "getUserExpenses", "--user", "u1", "--params", "{limit: 0}")
		if err == nil || !strings.Contains(err.Error(), string(models.ToolErrorInvalidParameters)) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("bad params", func(t *testing.T) {
		_, err := execute(t, "tools", "exec", "getUserExpenses", "--user", "u1", "--params", "{limit")
		if err == nil || !strings.Contains(err.Error(), "parse --params") {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("json result", func(t *testing.T) {
		out, err := execute(t, "tools", "exec", "getUserExpenses", "--user", "u1", "--json")
		if err != nil {
			t.Fatalf("exec: %v", err)
		}
		var result models.ToolExecutionResult
		if err := json.Unmarshal([]byte(out), &result); err != nil {
			t.Fatalf("decode: %v\n%s", err, out)
		}
		if !result.Success || result.UserID != "u1" {
			t.Errorf("result = %+v", result)
		}
	})
}

func TestParseParams(t *testing.T) {
	params, err := parseParams(`{limit: 5, category: 'Fuel',}`)
	if err != nil {
		t.Fatal(err)
	}
	if params["limit"] != float64(5) || params["category"] != "Fuel" {
		t.Errorf("params = %v", params)
	}
	if params, err := parseParams("  "); err != nil || params != nil {
		t.Errorf("empty = %v, %v", params, err)
	}
}

func TestConfigSchema(t *testing.T) {
	out, err := execute(t, "config", "schema")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"reasoning"`) {
		t.Errorf("schema missing reasoning section")
	}
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("reasoning:\n  url: ws://engine:9000/ws\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("reasoning:\n  url: http://engine\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if out, err := execute(t, "config", "validate", "--config", good); err != nil || !strings.Contains(out, "ok") {
		t.Errorf("good config: %v\n%s", err, out)
	}
	if _, err := execute(t, "config", "validate", "--config", bad); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for explicit missing file")
	}
}

func TestGatewayConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Reasoning.Headers = map[string]string{"authorization": "Bearer x"}
	cfg.Speech.Enabled = true
	cfg.Speech.URL = "wss://speech.example/ws"

	gc := gatewayConfig(cfg)
	if gc.Addr != cfg.Server.Addr() {
		t.Errorf("addr = %q", gc.Addr)
	}
	if gc.Reasoning.Header.Get("Authorization") != "Bearer x" {
		t.Errorf("reasoning header = %v", gc.Reasoning.Header)
	}
	if gc.Speech == nil || gc.Speech.URL != "wss://speech.example/ws" {
		t.Errorf("speech = %+v", gc.Speech)
	}

	cfg.Speech.Enabled = false
	if gatewayConfig(cfg).Speech != nil {
		t.Error("speech configured while disabled")
	}
}

func TestUsage(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/usage" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"user":{"user_id":"u1","stats":{"calls":2,"successes":2,"total_time_ms":40}},
			"summary":{"total":{"calls":3,"successes":2,"failures":1,"total_time_ms":60},
			"by_tool":[{"tool":"getUserExpenses","calls":3,"successes":2,"failures":1,"total_time_ms":60}],
			"error_kinds":{"busy":1}}}`)
	}))
	defer srv.Close()

	out, err := execute(t, "usage", "--addr", srv.URL, "--user", "u1")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if gotQuery != "user_id=u1" {
		t.Errorf("query = %q", gotQuery)
	}
	for _, want := range []string{"user u1: 2 calls", "Total: 3 calls", "getUserExpenses", "busy"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, "usage", "--addr", srv.URL+"/missing"); err == nil {
		t.Error("expected error for a non-200 response")
	}
}
