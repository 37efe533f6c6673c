package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/pam/internal/backoff"
	"github.com/haasonsaas/pam/internal/observability"
	"github.com/haasonsaas/pam/pkg/models"
)

// LegReasoning labels metrics and spans for the reasoning-engine connection.
const LegReasoning = "reasoning"

var (
	// ErrConnecting is returned by SendChat while the connection is not open.
	// A reconnect has been requested; the caller should retry shortly.
	ErrConnecting = errors.New("connecting to assistant")

	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("connection manager closed")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("connection manager already running")
)

// NoticeKind identifies a transient connection notice.
type NoticeKind string

const (
	NoticeConnecting   NoticeKind = "connecting"
	NoticeReconnecting NoticeKind = "reconnecting"
	NoticeOpen         NoticeKind = "open"
	NoticeSlow         NoticeKind = "slow"
)

// Notice is a transient status event for the user interface.
type Notice struct {
	Kind    NoticeKind             `json:"kind"`
	State   models.ConnectionState `json:"state"`
	Attempt int                    `json:"attempt,omitempty"`
	Detail  string                 `json:"detail,omitempty"`
	At      time.Time              `json:"at"`
}

// ToolExecutor runs tool calls carried by inbound frames.
type ToolExecutor interface {
	ExecuteCall(ctx context.Context, call models.ToolCall, userID string) models.ToolExecutionResult
}

// BatchExecutor runs several calls at once and returns results in input
// order. *agent.Engine satisfies it; frames with more than one tool call
// use it when the executor provides it.
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, reqs []models.ToolExecutionRequest) []models.ToolExecutionResult
}

// Observer receives connection metrics. *observability.Metrics satisfies it.
type Observer interface {
	Frame(leg, direction, frameType string)
	Reconnect(leg string)
	SlowResponse()
}

type nopObserver struct{}

func (nopObserver) Frame(string, string, string) {}
func (nopObserver) Reconnect(string)             {}
func (nopObserver) SlowResponse()                {}

// Config configures a Manager.
type Config struct {
	// URL is the reasoning engine websocket endpoint.
	URL string

	UserID    string
	SessionID string

	Backoff backoff.Policy

	// SlowThreshold is how long after a chat send a reply may take before
	// the session is flagged slow. Defaults to 5s.
	SlowThreshold time.Duration

	// ChannelBuffer sizes each typed inbound channel. Defaults to 16.
	ChannelBuffer int

	Header http.Header
	Dialer *websocket.Dialer
}

// ManagerOptions wires a Manager's collaborators.
type ManagerOptions struct {
	Executor ToolExecutor
	Logger   *slog.Logger
	Observer Observer
	Tracer   *observability.Tracer
}

// Manager owns one logical session to the reasoning engine. It dials,
// reconnects with backoff, validates and dispatches inbound frames to
// typed channels and executes tool calls.
type Manager struct {
	cfg      Config
	exec     ToolExecutor
	logger   *slog.Logger
	observer Observer
	tracer   *observability.Tracer
	now      func() time.Time

	chat  chan models.InboundFrame
	ui    chan models.InboundFrame
	errs  chan models.InboundFrame
	conns chan models.InboundFrame

	notices chan Notice
	kick    chan struct{}

	closing    chan struct{}
	closeOnce  sync.Once
	runDone    chan struct{}
	done       chan struct{}
	finishOnce sync.Once

	tools sync.WaitGroup

	mu       sync.Mutex
	session  Session
	link     *Link
	running  bool
	closed   bool
	watchdog *time.Timer
	watchGen uint64
}

// NewManager creates a manager in the connecting state. Call Run to connect.
func NewManager(cfg Config, opts ManagerOptions) *Manager {
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 5 * time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 16
	}
	cfg.Backoff = cfg.Backoff.Normalize()
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   8192,
			WriteBufferSize:  8192,
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}

	return &Manager{
		cfg:      cfg,
		exec:     opts.Executor,
		logger:   logger.With("component", "conn", "leg", LegReasoning, "user_id", cfg.UserID),
		observer: observer,
		tracer:   tracer,
		now:      time.Now,
		chat:     make(chan models.InboundFrame, cfg.ChannelBuffer),
		ui:       make(chan models.InboundFrame, cfg.ChannelBuffer),
		errs:     make(chan models.InboundFrame, cfg.ChannelBuffer),
		conns:    make(chan models.InboundFrame, cfg.ChannelBuffer),
		notices:  make(chan Notice, cfg.ChannelBuffer),
		kick:     make(chan struct{}, 1),
		closing:  make(chan struct{}),
		runDone:  make(chan struct{}),
		done:     make(chan struct{}),
		session:  NewSession(cfg.UserID, time.Now()),
	}
}

// ChatResponses delivers chat_response frames in arrival order.
func (m *Manager) ChatResponses() <-chan models.InboundFrame { return m.chat }

// UIActions delivers ui_actions frames.
func (m *Manager) UIActions() <-chan models.InboundFrame { return m.ui }

// Errors delivers error frames from the reasoning engine.
func (m *Manager) Errors() <-chan models.InboundFrame { return m.errs }

// ConnectionEvents delivers connection frames from the reasoning engine.
func (m *Manager) ConnectionEvents() <-chan models.InboundFrame { return m.conns }

// Notices delivers transient status notices. Notices are dropped when the
// consumer falls behind.
func (m *Manager) Notices() <-chan Notice { return m.notices }

// Done is closed once the manager has shut down and all channels are closed.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone()
}

// UpdateContext sets the region and page attached to subsequent chats.
func (m *Manager) UpdateContext(region, page string) {
	m.mu.Lock()
	m.session = m.session.WithContext(region, page)
	m.mu.Unlock()
}

// Run connects and keeps the connection alive until ctx is done or Close
// is called. It returns nil on a normal shutdown.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	select {
	case <-m.closing:
		m.mu.Unlock()
		return ErrClosed
	default:
	}
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer close(m.runDone)
	defer m.finish()
	defer cancel()

	go func() {
		select {
		case <-m.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	schedule := backoff.NewSchedule(m.cfg.Backoff)
	for {
		if ctx.Err() != nil {
			return nil
		}
		link, err := m.dial(ctx, schedule.Attempt())
		if err == nil {
			schedule.Reset()
			m.opened(link)
			err = m.serve(ctx, link)
			link.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		attempt := m.dropped(err)
		delay := schedule.Next()
		m.logger.Warn("reasoning connection lost",
			"error", err,
			"attempt", attempt,
			"retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-m.kick:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Close shuts the manager down and waits for Run to return.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.closing) })
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running {
		<-m.runDone
	} else {
		m.finish()
	}
	return nil
}

// SendChat sends a user message with the current session context. When the
// connection is not open it requests an immediate reconnect and returns
// ErrConnecting.
func (m *Manager) SendChat(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.session.State != models.ConnectionOpen || m.link == nil {
		n := Notice{Kind: NoticeConnecting, State: m.session.State, Attempt: m.session.ReconnectAttempt, At: m.now()}
		m.noticeLocked(n)
		m.mu.Unlock()
		m.requestReconnect()
		return ErrConnecting
	}
	now := m.now()
	frame := models.ChatFrame{
		Type:    models.FrameChat,
		Message: message,
		UserID:  m.session.UserID,
		Context: m.session.ChatContext(m.cfg.SessionID, now),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("encode chat: %w", err)
	}
	m.session = m.session.WithIntent(message, now)
	link := m.link
	// Armed before the frame leaves so a fast reply always finds the timer.
	gen := m.armWatchdogLocked()
	m.mu.Unlock()

	if err := link.SendText(data); err != nil {
		m.mu.Lock()
		if m.watchGen == gen {
			m.stopWatchdogLocked()
		}
		m.mu.Unlock()
		return fmt.Errorf("send chat: %w", err)
	}
	m.observer.Frame(LegReasoning, "out", string(models.FrameChat))
	return nil
}

func (m *Manager) requestReconnect() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Manager) dial(ctx context.Context, attempt int) (*Link, error) {
	m.teardown()

	ctx, span := m.tracer.TraceDial(ctx, LegReasoning, m.cfg.URL, attempt)
	defer span.End()

	ws, resp, err := m.cfg.Dialer.DialContext(ctx, m.cfg.URL, m.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close() //nolint:errcheck
	}
	if err != nil {
		m.tracer.RecordError(span, err)
		return nil, fmt.Errorf("dial %s: %w", m.cfg.URL, err)
	}
	return NewLink(ws), nil
}

// teardown closes any stale link before a new one is dialed.
func (m *Manager) teardown() {
	m.mu.Lock()
	stale := m.link
	m.link = nil
	m.mu.Unlock()
	if stale != nil {
		stale.Close()
	}
}

func (m *Manager) opened(link *Link) {
	// A reconnect request made while we were dialing is already satisfied.
	select {
	case <-m.kick:
	default:
	}

	m.mu.Lock()
	next, err := m.session.Opened(m.now())
	if err != nil {
		m.logger.Error("session transition failed", "error", err)
	}
	m.session = next
	m.link = link
	m.noticeLocked(Notice{Kind: NoticeOpen, State: next.State, At: m.now()})
	m.mu.Unlock()
	m.logger.Info("reasoning connection open")
}

func (m *Manager) dropped(cause error) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.link = nil
	m.stopWatchdogLocked()
	next, err := m.session.Dropped(m.now())
	if err != nil {
		m.logger.Error("session transition failed", "error", err)
		return m.session.ReconnectAttempt
	}
	m.session = next.WithSlowResponse(false)
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	m.noticeLocked(Notice{
		Kind:    NoticeReconnecting,
		State:   next.State,
		Attempt: next.ReconnectAttempt,
		Detail:  detail,
		At:      m.now(),
	})
	m.observer.Reconnect(LegReasoning)
	return next.ReconnectAttempt
}

func (m *Manager) serve(ctx context.Context, link *Link) error {
	go func() {
		select {
		case <-ctx.Done():
			link.Close()
		case <-link.Done():
		}
	}()
	for {
		messageType, data, err := link.Read()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			m.logger.Debug("ignoring non-text frame", "message_type", messageType)
			continue
		}
		m.handleFrame(ctx, link, data)
	}
}

func (m *Manager) handleFrame(ctx context.Context, link *Link, data []byte) {
	frame, err := DecodeInbound(data)
	if err != nil {
		m.logger.Warn("dropping inbound frame", "error", err)
		return
	}
	m.observer.Frame(LegReasoning, "in", string(frame.Type))

	if len(frame.ToolCalls) > 0 {
		m.runTools(ctx, link, frame.ToolCalls)
	}

	switch frame.Type {
	case models.FrameChatResponse:
		// A chat_response that only carries tool calls is not the reply yet.
		if frame.Message == "" && len(frame.ToolCalls) > 0 {
			return
		}
		m.replyReceived()
		m.deliver(ctx, m.chat, frame)
	case models.FrameUIActions:
		m.deliver(ctx, m.ui, frame)
	case models.FrameError:
		m.replyReceived()
		m.deliver(ctx, m.errs, frame)
	case models.FrameConnection:
		m.deliver(ctx, m.conns, frame)
	default:
		m.logger.Debug("ignoring inbound frame", "type", frame.Type)
	}
}

// deliver blocks until the consumer takes the frame or ctx is done.
func (m *Manager) deliver(ctx context.Context, ch chan<- models.InboundFrame, frame models.InboundFrame) {
	select {
	case ch <- frame:
	case <-ctx.Done():
	}
}

func (m *Manager) runTools(ctx context.Context, link *Link, calls []models.ToolCall) {
	userID := m.cfg.UserID
	if batch, ok := m.exec.(BatchExecutor); ok && len(calls) > 1 {
		reqs := make([]models.ToolExecutionRequest, len(calls))
		for i, call := range calls {
			reqs[i] = call.Request(userID)
		}
		m.tools.Add(1)
		go func() {
			defer m.tools.Done()
			for _, result := range batch.ExecuteBatch(ctx, reqs) {
				m.sendToolResult(link, result)
			}
		}()
		return
	}
	for _, call := range calls {
		m.tools.Add(1)
		go func(call models.ToolCall) {
			defer m.tools.Done()
			m.sendToolResult(link, m.executeCall(ctx, call, userID))
		}(call)
	}
}

func (m *Manager) sendToolResult(link *Link, result models.ToolExecutionResult) {
	out, err := json.Marshal(models.ToolResultFrame{
		Type:      models.FrameToolResult,
		RequestID: result.RequestID,
		Result:    result,
	})
	if err != nil {
		m.logger.Error("encode tool result", "tool", result.ToolName, "error", err)
		return
	}
	if err := link.SendText(out); err != nil {
		m.logger.Warn("tool result abandoned",
			"tool", result.ToolName,
			"request_id", result.RequestID,
			"error", err)
		return
	}
	m.observer.Frame(LegReasoning, "out", string(models.FrameToolResult))
}

func (m *Manager) executeCall(ctx context.Context, call models.ToolCall, userID string) models.ToolExecutionResult {
	if m.exec != nil {
		return m.exec.ExecuteCall(ctx, call, userID)
	}
	req := call.Request(userID)
	return models.ToolExecutionResult{
		Success:   false,
		ToolName:  req.ToolName,
		Error:     "no tool executor configured",
		ErrorKind: models.ToolErrorInternal,
		UserID:    userID,
		RequestID: req.RequestID,
	}
}

// armWatchdogLocked starts the slow-reply timer for a send, replacing the
// timer of any earlier send, and returns its generation.
func (m *Manager) armWatchdogLocked() uint64 {
	if m.watchdog != nil {
		m.watchdog.Stop()
	}
	m.watchGen++
	gen := m.watchGen
	if !m.closed {
		m.watchdog = time.AfterFunc(m.cfg.SlowThreshold, func() { m.slow(gen) })
	}
	return gen
}

// slow fires at most once per send: each send arms its own generation, so
// a send made while an earlier reply is already slow gets its own notice.
func (m *Manager) slow(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.watchGen {
		m.mu.Unlock()
		return
	}
	m.session = m.session.WithSlowResponse(true)
	m.noticeLocked(Notice{Kind: NoticeSlow, State: m.session.State, At: m.now()})
	m.mu.Unlock()

	m.logger.Info("assistant reply is slow", "threshold", m.cfg.SlowThreshold)
	m.observer.SlowResponse()
}

func (m *Manager) replyReceived() {
	m.mu.Lock()
	m.stopWatchdogLocked()
	m.session = m.session.WithSlowResponse(false)
	m.mu.Unlock()
}

func (m *Manager) stopWatchdogLocked() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	m.watchGen++
}

// noticeLocked must be called with m.mu held.
func (m *Manager) noticeLocked(n Notice) {
	if m.closed {
		return
	}
	select {
	case m.notices <- n:
	default:
		m.logger.Debug("notice dropped", "kind", n.Kind)
	}
}

func (m *Manager) finish() {
	m.finishOnce.Do(func() {
		m.mu.Lock()
		if next, err := m.session.Closed(m.now()); err == nil {
			m.session = next
		}
		m.stopWatchdogLocked()
		link := m.link
		m.link = nil
		m.closed = true
		close(m.notices)
		m.mu.Unlock()

		if link != nil {
			link.Close()
		}
		m.tools.Wait()

		close(m.chat)
		close(m.ui)
		close(m.errs)
		close(m.conns)
		close(m.done)
		m.logger.Info("reasoning connection closed")
	})
}
