package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/haasonsaas/pam/internal/agent"
	"github.com/haasonsaas/pam/internal/config"
	"github.com/haasonsaas/pam/internal/conn"
	"github.com/haasonsaas/pam/internal/format"
	"github.com/haasonsaas/pam/internal/gateway"
	"github.com/haasonsaas/pam/internal/observability"
	"github.com/haasonsaas/pam/internal/ratelimit"
	"github.com/haasonsaas/pam/internal/storage"
	"github.com/haasonsaas/pam/internal/tools"
	"github.com/haasonsaas/pam/internal/usage"
	"github.com/haasonsaas/pam/internal/voice"
	"github.com/haasonsaas/pam/pkg/models"
)

func configPathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv("PAM_CONFIG")); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads path. A missing file at the default location falls back
// to the built-in defaults; a missing explicit file is an error.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		slog.Debug("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return nil, err
}

// openStore opens the configured record store. The returned SQL store is
// nil for the memory driver.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, *storage.SQLStore, error) {
	if cfg.Database.Driver == "" || cfg.Database.Driver == "memory" {
		return storage.NewMemoryStore(), nil, nil
	}

	pool := storage.DefaultSQLConfig()
	if cfg.Database.MaxConnections > 0 {
		pool.MaxOpenConns = cfg.Database.MaxConnections
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}
	store, err := storage.OpenSQL(cfg.Database.Driver, cfg.Database.URL, pool)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	if cfg.Database.Driver == "sqlite" {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("migrate store: %w", err)
		}
	}
	return store, store, nil
}

func engineConfig(cfg *config.Config) agent.EngineConfig {
	return agent.EngineConfig{
		MaxConcurrentPerUser: cfg.Tools.MaxConcurrentPerUser,
		QueueTimeout:         cfg.Tools.QueueTimeout,
		ToolTimeout:          cfg.Tools.ToolTimeout,
	}
}

func httpHeader(values map[string]string) http.Header {
	if len(values) == 0 {
		return nil
	}
	h := make(http.Header, len(values))
	for k, v := range values {
		h.Set(k, v)
	}
	return h
}

// gatewayConfig maps the file configuration onto the gateway.
func gatewayConfig(cfg *config.Config) gateway.Config {
	gc := gateway.Config{
		Addr:              cfg.Server.Addr(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Reasoning: conn.Config{
			URL:           cfg.Reasoning.URL,
			Backoff:       cfg.Reasoning.Backoff,
			SlowThreshold: cfg.Reasoning.SlowThreshold,
			ChannelBuffer: cfg.Reasoning.ChannelBuffer,
			Header:        httpHeader(cfg.Reasoning.Headers),
		},
		Relay: voice.RelayConfig{
			ColdStartThreshold: cfg.Speech.ColdStartThreshold,
		},
		SessionIdleTimeout: cfg.Server.SessionIdleTimeout,
		Housekeeping:       cfg.Server.Housekeeping,
		UsageRetention:     cfg.Usage.Retention,
		MaxRecent:          cfg.Usage.RecentLimit,
		RateLimit: ratelimit.Config{
			PerSecond: cfg.Server.RateLimit.PerSecond,
			Burst:     cfg.Server.RateLimit.Burst,
			Enabled:   !cfg.Server.RateLimit.Disabled,
		},
	}
	if cfg.Speech.Enabled {
		gc.Speech = &voice.SpeechConfig{
			URL:             cfg.Speech.URL,
			Header:          httpHeader(cfg.Speech.Headers),
			Voice:           cfg.Speech.Voice,
			Backoff:         cfg.Speech.Backoff,
			MaxDialAttempts: cfg.Speech.MaxDialAttempts,
		}
	}
	return gc
}

// runServe starts the gateway and blocks until a shutdown signal.
func runServe(cmd *cobra.Command, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	logger.Info("starting PAM gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
		"driver", cfg.Database.Driver,
		"voice", cfg.Speech.Enabled,
	)

	traceCfg := observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	}
	if cfg.Tracing.Enabled {
		traceCfg.Endpoint = cfg.Tracing.Endpoint
	}
	tracer, shutdownTracer := observability.NewTracer(traceCfg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, sqlStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if sqlStore != nil {
		defer sqlStore.Close()
	}

	tracker := usage.NewTracker(usage.DefaultTrackerConfig())
	recorder := usage.Multi{tracker, usage.NewMetricsSink(metrics)}
	var (
		pruner gateway.UsagePruner
		async  *usage.Async
	)
	if cfg.Usage.Persist {
		sink := usage.NewSQLSink(sqlStore.DB(), sqlStore.Dialect())
		if err := sink.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate usage table: %w", err)
		}
		async = usage.NewAsync(sink, usage.AsyncConfig{
			Buffer: cfg.Usage.Buffer,
			OnDrop: metrics.UsageRecordDropped,
		}, logger)
		recorder = append(recorder, async)
		pruner = sink
	}

	engine := agent.NewEngine(agent.EngineOptions{
		Router:   agent.NewRouter(store, logger),
		Recorder: recorder,
		Tracer:   tracer,
		Logger:   logger,
		Config:   engineConfig(cfg),
	})

	server, err := gateway.NewServer(gatewayConfig(cfg), gateway.Options{
		Engine:      engine,
		Tracker:     tracker,
		UsagePruner: pruner,
		Metrics:     metrics,
		Gatherer:    registry,
		Tracer:      tracer,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("PAM gateway started", "addr", server.Addr())

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	if err := server.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("shutdown failed: %w", err)
	}
	if async != nil {
		if err := async.Close(shutdownCtx); err != nil {
			logger.Warn("usage sink did not drain", "error", err)
		}
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}
	if shutdownErr == nil {
		logger.Info("PAM gateway stopped gracefully")
	}
	return shutdownErr
}

func runToolsList(cmd *cobra.Command, asJSON bool) error {
	registry := tools.DefaultRegistry()
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(registry.Declarations())
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, decl := range registry.Declarations() {
		fmt.Fprintf(w, "%s\t%s\n", decl.Name, decl.Description)
	}
	return w.Flush()
}

// parseParams decodes a JSON5 object. An empty string yields no parameters.
func parseParams(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json5.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("parse --params: %w", err)
	}
	return params, nil
}

// runToolsExec executes one tool call against the configured store and
// prints its formatted response.
func runToolsExec(cmd *cobra.Command, configPath, toolName, userID, rawParams string, asJSON bool) error {
	params, err := parseParams(rawParams)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, sqlStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if sqlStore != nil {
		defer sqlStore.Close()
	}

	engine := agent.NewEngine(agent.EngineOptions{
		Router: agent.NewRouter(store, slog.Default()),
		Config: engineConfig(cfg),
	})
	result := engine.Execute(ctx, models.NewToolExecutionRequest(toolName, params, userID, ""))

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else if result.Success {
		fmt.Fprintln(out, result.FormattedResponse)
		fmt.Fprintf(out, "\n(%s in %s)\n", result.ToolName, format.Elapsed(result.ExecutionTimeMs))
	}

	if !result.Success {
		return fmt.Errorf("%s: %s", result.ErrorKind, result.Message)
	}
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	if _, err := config.Load(configPath); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			for _, issue := range verr.Issues {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", issue)
			}
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (version %d)\n", configPath, config.CurrentVersion)
	return nil
}

type usageReport struct {
	Summary *usage.Summary `json:"summary"`
	User    *struct {
		UserID string      `json:"user_id"`
		Stats  usage.Stats `json:"stats"`
	} `json:"user"`
	Tool *struct {
		Tool  string      `json:"tool"`
		Stats usage.Stats `json:"stats"`
	} `json:"tool"`
}

// runUsage fetches GET /v1/usage and prints it as text.
func runUsage(cmd *cobra.Command, addr, userID, tool string) error {
	endpoint, err := url.Parse(strings.TrimRight(addr, "/") + "/v1/usage")
	if err != nil {
		return fmt.Errorf("invalid --addr: %w", err)
	}
	q := endpoint.Query()
	if userID != "" {
		q.Set("user_id", userID)
	}
	if tool != "" {
		q.Set("tool", tool)
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch usage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch usage: %s", resp.Status)
	}

	var report usageReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("decode usage: %w", err)
	}

	out := cmd.OutOrStdout()
	if report.User != nil {
		fmt.Fprintf(out, "user %s: %s\n", report.User.UserID, usage.FormatStats(report.User.Stats))
	}
	if report.Tool != nil {
		fmt.Fprintf(out, "tool %s: %s\n", report.Tool.Tool, usage.FormatStats(report.Tool.Stats))
	}
	if report.Summary != nil {
		fmt.Fprint(out, usage.FormatSummary(*report.Summary))
	}
	return nil
}

func runVersion(cmd *cobra.Command) error {
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "pam %s (commit: %s, built: %s)\n", version, commit, date)
	return err
}
