// Package gateway serves browser sessions over websockets and the tool,
// usage and health endpoints over HTTP.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/pam/internal/agent"
	"github.com/haasonsaas/pam/internal/conn"
	"github.com/haasonsaas/pam/internal/observability"
	"github.com/haasonsaas/pam/internal/ratelimit"
	"github.com/haasonsaas/pam/internal/usage"
	"github.com/haasonsaas/pam/internal/voice"
)

// Config configures the gateway.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// Reasoning is the template for each session's reasoning connection.
	// UserID and SessionID are filled in per session.
	Reasoning conn.Config

	// Speech enables voice when non-nil.
	Speech *voice.SpeechConfig
	Relay  voice.RelayConfig

	SessionIdleTimeout time.Duration
	Housekeeping       string
	UsageRetention     time.Duration

	// MaxRecent caps the recent records returned by GET /v1/usage.
	MaxRecent int

	// RateLimit throttles chat frames and HTTP tool executions per user.
	RateLimit ratelimit.Config
}

// UsagePruner deletes persisted usage records older than cutoff.
type UsagePruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options wires the gateway's collaborators.
type Options struct {
	Engine      *agent.Engine
	Tracker     *usage.Tracker
	UsagePruner UsagePruner
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	Tracer      *observability.Tracer
	Logger      *slog.Logger
}

// Server is the PAM gateway.
type Server struct {
	config   Config
	engine   *agent.Engine
	tracker  *usage.Tracker
	pruner   UsagePruner
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	tracer   *observability.Tracer
	limiter  *ratelimit.Limiter
	logger   *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*browserSession
	wg       sync.WaitGroup

	scheduler    *cron.Cron
	httpServer   *http.Server
	httpListener net.Listener
	startTime    time.Time
	now          func() time.Time
}

// NewServer creates a gateway. Engine is required.
func NewServer(cfg Config, opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("gateway: engine is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.SessionIdleTimeout <= 0 {
		cfg.SessionIdleTimeout = 30 * time.Minute
	}
	if cfg.Housekeeping == "" {
		cfg.Housekeeping = "@every 1m"
	}
	if cfg.UsageRetention <= 0 {
		cfg.UsageRetention = 30 * 24 * time.Hour
	}
	if cfg.MaxRecent <= 0 {
		cfg.MaxRecent = 200
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	gatherer := opts.Gatherer
	if metrics == nil {
		reg := prometheus.NewRegistry()
		metrics = observability.NewMetrics(reg)
		if gatherer == nil {
			gatherer = reg
		}
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = usage.NewTracker(usage.DefaultTrackerConfig())
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Server{
		config:     cfg,
		engine:     opts.Engine,
		tracker:    tracker,
		pruner:     opts.UsagePruner,
		metrics:    metrics,
		gatherer:   gatherer,
		tracer:     tracer,
		limiter:    ratelimit.New(cfg.RateLimit),
		logger:     logger.With("component", "gateway"),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		sessions:   make(map[string]*browserSession),
		startTime:  time.Now(),
		now:        time.Now,
	}, nil
}

// Start begins listening and schedules housekeeping. It returns once the
// listener is bound.
func (s *Server) Start(ctx context.Context) error {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(s.config.Housekeeping, func() { s.Housekeep(s.baseCtx) }); err != nil {
		return fmt.Errorf("housekeeping schedule: %w", err)
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = server
	s.httpListener = listener
	s.scheduler = scheduler
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	scheduler.Start()

	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener != nil {
		return s.httpListener.Addr().String()
	}
	return s.config.Addr
}

// Shutdown stops housekeeping, the HTTP server and every browser session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	scheduler := s.scheduler
	s.httpServer = nil
	s.httpListener = nil
	s.scheduler = nil
	s.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	var shutdownErr error
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("http shutdown: %w", err)
		}
	}

	s.baseCancel()
	for _, session := range s.snapshotSessions() {
		session.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if shutdownErr == nil {
			shutdownErr = ctx.Err()
		}
	}
	return shutdownErr
}

// SessionCount returns the number of live browser sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Housekeep reaps idle browser sessions and prunes usage records.
func (s *Server) Housekeep(ctx context.Context) {
	now := s.now()
	reaped := 0
	for _, session := range s.snapshotSessions() {
		if now.Sub(session.lastActivity()) > s.config.SessionIdleTimeout {
			session.close()
			reaped++
		}
	}

	trimmed := s.tracker.Prune()
	s.limiter.Prune()

	var pruned int64
	if s.pruner != nil {
		n, err := s.pruner.Prune(ctx, now.Add(-s.config.UsageRetention))
		if err != nil {
			s.logger.Warn("usage prune failed", "error", err)
		}
		pruned = n
	}

	if reaped > 0 || trimmed > 0 || pruned > 0 {
		s.logger.Info("housekeeping",
			"reaped_sessions", reaped,
			"trimmed_records", trimmed,
			"pruned_records", pruned)
	}
}

func (s *Server) addSession(session *browserSession) {
	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Server) snapshotSessions() []*browserSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*browserSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}
