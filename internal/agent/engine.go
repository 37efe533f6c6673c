package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/pam/internal/format"
	"github.com/haasonsaas/pam/internal/observability"
	"github.com/haasonsaas/pam/internal/tools"
	"github.com/haasonsaas/pam/internal/usage"
	"github.com/haasonsaas/pam/pkg/models"
)

// EngineConfig configures tool execution limits.
type EngineConfig struct {
	// MaxConcurrentPerUser bounds executions running at once for one user.
	// Default: 4.
	MaxConcurrentPerUser int

	// QueueTimeout is how long a call waits for a free slot before it is
	// rejected as busy. Default: 10 seconds.
	QueueTimeout time.Duration

	// ToolTimeout bounds a single handler call. Default: 30 seconds.
	ToolTimeout time.Duration
}

// DefaultEngineConfig returns the default execution limits.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrentPerUser: 4,
		QueueTimeout:         10 * time.Second,
		ToolTimeout:          30 * time.Second,
	}
}

// EngineOptions wires an Engine's collaborators.
type EngineOptions struct {
	Registry *tools.Registry
	Router   Dispatcher
	Recorder usage.Recorder
	Tracer   *observability.Tracer
	Logger   *slog.Logger
	Config   EngineConfig

	// Format renders successful data. Defaults to format.Response.
	Format func(toolName string, data any) string
}

// Engine runs tool calls through lookup, validation, routing and
// formatting, and records exactly one usage record per call.
type Engine struct {
	registry  *tools.Registry
	router    Dispatcher
	validator *tools.Validator
	recorder  usage.Recorder
	tracer    *observability.Tracer
	logger    *slog.Logger
	config    EngineConfig
	format    func(string, any) string
	limiter   *userLimiter
	now       func() time.Time
}

// NewEngine creates an engine. Zero config fields take their defaults.
func NewEngine(opts EngineOptions) *Engine {
	def := DefaultEngineConfig()
	cfg := opts.Config
	if cfg.MaxConcurrentPerUser <= 0 {
		cfg.MaxConcurrentPerUser = def.MaxConcurrentPerUser
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = def.QueueTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = def.ToolTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	registry := opts.Registry
	if registry == nil {
		registry = tools.DefaultRegistry()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = usage.Nop
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	formatFn := opts.Format
	if formatFn == nil {
		formatFn = format.Response
	}

	return &Engine{
		registry:  registry,
		router:    opts.Router,
		validator: tools.NewValidator(logger),
		recorder:  recorder,
		tracer:    tracer,
		logger:    logger,
		config:    cfg,
		format:    formatFn,
		limiter:   newUserLimiter(cfg.MaxConcurrentPerUser),
		now:       time.Now,
	}
}

// Registry returns the registry the engine looks tools up in.
func (e *Engine) Registry() *tools.Registry {
	return e.registry
}

// LimiterStats reports per-user slot usage for users with executions in flight.
func (e *Engine) LimiterStats() map[string]LimiterStats {
	return e.limiter.stats()
}

// Execute runs one request to a terminal result. It never panics and
// always records one usage record before returning.
func (e *Engine) Execute(ctx context.Context, req models.ToolExecutionRequest) models.ToolExecutionResult {
	start := e.now()
	if req.RequestID == "" {
		req = models.NewToolExecutionRequest(req.ToolName, req.Parameters, req.UserID, "")
	}
	ctx = observability.AddRequestID(ctx, req.RequestID)
	ctx = observability.AddUserID(ctx, req.UserID)

	ctx, span := e.tracer.TraceToolExecution(ctx, req.ToolName, req.UserID, req.RequestID)
	defer span.End()

	data, formatted, terr := e.run(ctx, req)

	result := models.ToolExecutionResult{
		ToolName:        req.ToolName,
		UserID:          req.UserID,
		RequestID:       req.RequestID,
		ExecutionTimeMs: e.now().Sub(start).Milliseconds(),
	}
	if terr == nil {
		result.Success = true
		result.Data = data
		result.FormattedResponse = formatted
	} else {
		result.Error = terr.shortError()
		result.ErrorKind = terr.Kind
		result.Message = terr.Message
		result.ValidationErrors = terr.Validation
		e.tracer.RecordError(span, terr)
	}

	dataSize := e.record(req, result, start)
	e.tracer.SetAttributes(span, "tool.success", result.Success, "tool.data_bytes", dataSize)
	e.logResult(ctx, result, terr)
	return result
}

// ExecuteBatch runs requests concurrently, bounded per user, and returns
// results in input order.
func (e *Engine) ExecuteBatch(ctx context.Context, reqs []models.ToolExecutionRequest) []models.ToolExecutionResult {
	results := make([]models.ToolExecutionResult, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(idx int, r models.ToolExecutionRequest) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, r)
		}(i, req)
	}
	wg.Wait()
	return results
}

// run walks the stages and returns the data and formatted text, or the
// terminal error.
func (e *Engine) run(ctx context.Context, req models.ToolExecutionRequest) (any, string, *ToolError) {
	def, ok := e.registry.Get(req.ToolName)
	if !ok {
		return nil, "", notFoundError(req.ToolName)
	}

	if v := e.validator.Validate(def, req.Parameters); !v.Valid {
		return nil, "", validationError(req.ToolName, v.Errors)
	}

	queueCtx, cancelQueue := context.WithTimeout(ctx, e.config.QueueTimeout)
	release, err := e.limiter.acquire(queueCtx, req.UserID)
	cancelQueue()
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", contextError(req.ToolName, ctx.Err())
		}
		return nil, "", busyError(req.ToolName)
	}

	if err := ctx.Err(); err != nil {
		release()
		return nil, "", contextError(req.ToolName, err)
	}
	if e.router == nil {
		release()
		return nil, "", &ToolError{
			Kind:     models.ToolErrorInternal,
			ToolName: req.ToolName,
			Message:  MessageUnexpected,
			Cause:    errors.New("no router configured"),
		}
	}

	return e.dispatch(ctx, def, req, release)
}

type dispatchOutcome struct {
	data      any
	formatted string
	err       *ToolError
}

// dispatch routes and formats under the tool timeout. A handler that
// outlives the timeout keeps running and keeps the user's slot until it
// returns; its result is discarded.
func (e *Engine) dispatch(ctx context.Context, def tools.Definition, req models.ToolExecutionRequest, release func()) (any, string, *ToolError) {
	toolCtx, cancel := context.WithTimeout(ctx, e.config.ToolTimeout)
	defer cancel()

	done := make(chan dispatchOutcome, 1)
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				e.logger.ErrorContext(toolCtx, "tool panicked",
					"tool", req.ToolName,
					"panic", r,
					"stack", string(debug.Stack()))
				done <- dispatchOutcome{err: panicError(req.ToolName, r)}
			}
		}()

		res := e.router.Route(toolCtx, def, req.Parameters, req.UserID)
		if !res.Success {
			done <- dispatchOutcome{err: handlerError(req.ToolName, res)}
			return
		}
		done <- dispatchOutcome{data: res.Data, formatted: e.format(req.ToolName, res.Data)}
	}()

	select {
	case out := <-done:
		return out.data, out.formatted, out.err
	case <-toolCtx.Done():
		e.logger.WarnContext(ctx, "tool result discarded",
			"tool", req.ToolName,
			"error", toolCtx.Err())
		return nil, "", contextError(req.ToolName, toolCtx.Err())
	}
}

// record emits the usage record for result and returns the data size.
func (e *Engine) record(req models.ToolExecutionRequest, result models.ToolExecutionResult, start time.Time) int {
	size := 0
	if result.Data != nil {
		if b, err := json.Marshal(result.Data); err == nil {
			size = len(b)
		}
	}
	e.recorder.Record(usage.Record{
		ToolName:        req.ToolName,
		UserID:          req.UserID,
		RequestID:       req.RequestID,
		Timestamp:       start,
		ExecutionTimeMs: result.ExecutionTimeMs,
		Success:         result.Success,
		ParameterCount:  len(req.Parameters),
		DataSize:        size,
		Error:           result.Error,
		ErrorKind:       string(result.ErrorKind),
	})
	return size
}

func (e *Engine) logResult(ctx context.Context, result models.ToolExecutionResult, terr *ToolError) {
	if terr == nil {
		e.logger.InfoContext(ctx, "tool executed",
			"tool", result.ToolName,
			"duration_ms", result.ExecutionTimeMs)
		return
	}
	level := slog.LevelWarn
	switch terr.Kind {
	case models.ToolErrorInternal, models.ToolErrorHandlerFailed:
		level = slog.LevelError
	case models.ToolErrorNotFound, models.ToolErrorInvalidParameters, models.ToolErrorCanceled:
		level = slog.LevelInfo
	}
	e.logger.Log(ctx, level, "tool execution failed",
		"tool", result.ToolName,
		"kind", string(terr.Kind),
		"duration_ms", result.ExecutionTimeMs,
		"error", terr)
}

// ExecuteCall is a convenience for a single reasoning-engine tool call.
func (e *Engine) ExecuteCall(ctx context.Context, call models.ToolCall, userID string) models.ToolExecutionResult {
	return e.Execute(ctx, call.Request(userID))
}

var _ Dispatcher = (*Router)(nil)
