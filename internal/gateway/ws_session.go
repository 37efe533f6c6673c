package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/pam/internal/conn"
	"github.com/haasonsaas/pam/internal/observability"
	"github.com/haasonsaas/pam/internal/voice"
	"github.com/haasonsaas/pam/pkg/models"
)

const legBrowser = "browser"

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// browserSession is the server-side representative of one browser tab. It
// owns the browser socket, a reasoning connection and an optional voice bridge.
type browserSession struct {
	id      string
	userID  string
	server  *Server
	link    *conn.Link
	manager *conn.Manager
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	mu       sync.Mutex
	activity time.Time
	speech   *voice.WSSpeechLeg
	relay    *voice.Relay
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	ctx, cancel := context.WithCancel(s.baseCtx)
	ctx = observability.AddSessionID(observability.AddUserID(ctx, userID), sessionID)

	reasoning := s.config.Reasoning
	reasoning.UserID = userID
	reasoning.SessionID = sessionID

	logger := s.logger.With("session_id", sessionID, "user_id", userID)
	session := &browserSession{
		id:     sessionID,
		userID: userID,
		server: s,
		link:   conn.NewLink(ws),
		manager: conn.NewManager(reasoning, conn.ManagerOptions{
			Executor: s.engine,
			Logger:   logger,
			Observer: s.metrics,
			Tracer:   s.tracer,
		}),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		started:  s.now(),
		activity: s.now(),
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.addSession(session)
	defer s.removeSession(sessionID)
	session.run()
}

func (b *browserSession) run() {
	metrics := b.server.metrics
	metrics.SessionStarted()
	defer func() {
		metrics.SessionEnded(time.Since(b.started))
	}()
	b.logger.Info("browser session started")

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		if err := b.manager.Run(b.ctx); err != nil && !errors.Is(err, conn.ErrClosed) {
			b.logger.Warn("reasoning connection ended", "error", err)
		}
	}()
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		b.pump()
	}()

	b.readLoop()

	b.close()
	b.stopVoice()
	_ = b.manager.Close() //nolint:errcheck
	<-managerDone
	<-pumpDone
	b.logger.Info("browser session ended")
}

// close ends the session. It is safe to call from any goroutine.
func (b *browserSession) close() {
	b.cancel()
	b.link.Close()
}

func (b *browserSession) touch() {
	b.mu.Lock()
	b.activity = b.server.now()
	b.mu.Unlock()
}

func (b *browserSession) lastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activity
}

func (b *browserSession) readLoop() {
	for {
		messageType, data, err := b.link.Read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("browser read ended", "error", err)
			}
			return
		}
		b.touch()

		if messageType == websocket.BinaryMessage {
			b.forwardAudio(data)
			continue
		}

		frame, err := decodeBrowserFrame(data)
		if err != nil {
			b.server.metrics.Frame(legBrowser, "in", "invalid")
			b.sendJSON(models.InboundFrame{Type: models.FrameError, Error: "invalid frame: " + err.Error()})
			continue
		}
		b.server.metrics.Frame(legBrowser, "in", string(frame.Type))
		b.handleFrame(frame)
	}
}

func (b *browserSession) handleFrame(frame browserFrame) {
	switch frame.Type {
	case models.FrameChat:
		if ok, _ := b.server.limiter.Allow(b.userID); !ok {
			b.sendJSON(models.InboundFrame{Type: models.FrameError, Error: "You're sending messages too quickly. Please wait a moment."})
			return
		}
		err := b.manager.SendChat(b.ctx, frame.Message)
		switch {
		case err == nil, errors.Is(err, conn.ErrConnecting):
			// The manager reports connecting through its notices.
		case errors.Is(err, conn.ErrClosed):
			b.close()
		default:
			b.logger.Warn("send chat failed", "error", err)
			b.sendJSON(models.InboundFrame{Type: models.FrameError, Error: "Your message could not be sent. Please try again."})
		}
	case models.FrameContext:
		b.manager.UpdateContext(frame.Region, frame.CurrentPage)
	case models.FrameVoiceStart:
		b.startVoice()
	case models.FrameVoiceStop:
		b.stopVoice()
	}
}

// pump forwards reasoning frames and notices to the browser until the
// manager closes its channels.
func (b *browserSession) pump() {
	chat := b.manager.ChatResponses()
	ui := b.manager.UIActions()
	errs := b.manager.Errors()
	events := b.manager.ConnectionEvents()
	notices := b.manager.Notices()

	for chat != nil || ui != nil || errs != nil || events != nil || notices != nil {
		select {
		case frame, ok := <-chat:
			if !ok {
				chat = nil
				continue
			}
			b.sendJSON(frame)
			if frame.Message != "" {
				b.speakReply(frame.Message)
			}
		case frame, ok := <-ui:
			if !ok {
				ui = nil
				continue
			}
			b.sendJSON(frame)
		case frame, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			b.sendJSON(frame)
			b.abandonVoiceTurn("reasoning error")
		case frame, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			b.sendJSON(frame)
		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			b.sendNotice(n)
			if n.Kind == conn.NoticeReconnecting {
				b.abandonVoiceTurn("reasoning connection lost")
			}
		}
	}
}

func (b *browserSession) sendNotice(n conn.Notice) {
	if n.Kind == conn.NoticeOpen {
		b.sendJSON(models.ConnectionFrame{Type: models.FrameConnection, State: n.State})
		return
	}
	b.sendJSON(models.NoticeFrame{Type: models.FrameNotice, Notice: string(n.Kind), Detail: noticeDetail(n)})
}

func noticeDetail(n conn.Notice) string {
	switch n.Kind {
	case conn.NoticeConnecting:
		return "Connecting to your assistant..."
	case conn.NoticeReconnecting:
		return "Connection lost. Reconnecting..."
	case conn.NoticeSlow:
		return "This is taking longer than usual."
	default:
		return ""
	}
}

func (b *browserSession) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("encode browser frame", "error", err)
		return
	}
	if err := b.link.SendText(data); err != nil {
		if !errors.Is(err, conn.ErrLinkClosed) {
			b.logger.Warn("browser send failed", "error", err)
		}
		return
	}
	b.server.metrics.Frame(legBrowser, "out", frameTypeOf(v))
}

func frameTypeOf(v any) string {
	switch f := v.(type) {
	case models.InboundFrame:
		return string(f.Type)
	case models.NoticeFrame:
		return string(f.Type)
	case models.ConnectionFrame:
		return string(f.Type)
	case models.TranscriptFrame:
		return string(f.Type)
	default:
		return "other"
	}
}

func (b *browserSession) startVoice() {
	cfg := b.server.config.Speech
	if cfg == nil {
		b.sendJSON(models.InboundFrame{Type: models.FrameError, Error: "Voice is not available."})
		return
	}

	b.mu.Lock()
	active := b.speech != nil
	b.mu.Unlock()
	if active {
		return
	}

	speechCfg := *cfg
	speechCfg.Logger = b.logger
	speechCfg.Observer = b.server.metrics
	leg, err := voice.DialSpeech(b.ctx, speechCfg)
	if err != nil {
		b.logger.Warn("speech connection failed", "error", err)
		b.sendJSON(models.InboundFrame{Type: models.FrameError, Error: "Voice is unavailable right now. Please try again."})
		return
	}

	relay := voice.NewRelay(leg, b.manager, b.server.config.Relay, voice.RelayOptions{
		Logger: b.logger,
		OnTranscript: func(ev voice.TranscriptEvent) {
			b.sendJSON(models.TranscriptFrame{Type: models.FrameTranscript, Text: ev.Text, IsFinal: ev.IsFinal})
		},
	})

	b.mu.Lock()
	if b.speech != nil {
		b.mu.Unlock()
		_ = leg.Close() //nolint:errcheck
		return
	}
	b.speech = leg
	b.relay = relay
	b.mu.Unlock()

	go func() {
		_ = relay.Run(b.ctx) //nolint:errcheck
		s := relay.Session()
		b.logger.Info("voice bridge finished", "turns", s.Turns, "cold_start", s.ColdStart)
	}()
	go func() {
		select {
		case <-leg.Done():
		case <-b.ctx.Done():
			return
		}
		b.mu.Lock()
		ended := b.speech == leg
		if ended {
			b.speech = nil
			b.relay = nil
		}
		b.mu.Unlock()
		if ended {
			b.logger.Info("speech provider disconnected")
			b.sendJSON(models.InboundFrame{Type: models.FrameError, Error: "Voice was disconnected. Start voice again to continue."})
		}
	}()
	go func() {
		for chunk := range leg.Audio() {
			if err := b.link.SendBinary(chunk); err != nil {
				return
			}
		}
	}()
}

func (b *browserSession) stopVoice() {
	b.mu.Lock()
	leg := b.speech
	b.speech = nil
	b.relay = nil
	b.mu.Unlock()
	if leg != nil {
		_ = leg.Close() //nolint:errcheck
	}
}

func (b *browserSession) forwardAudio(chunk []byte) {
	b.mu.Lock()
	leg := b.speech
	b.mu.Unlock()
	if leg == nil {
		return
	}
	if err := leg.SendAudio(chunk); err != nil {
		b.logger.Debug("audio dropped", "error", err)
	}
}

// abandonVoiceTurn releases a voice transcript whose reply will not come.
func (b *browserSession) abandonVoiceTurn(reason string) {
	b.mu.Lock()
	relay := b.relay
	b.mu.Unlock()
	if relay != nil {
		relay.AbandonPending(b.ctx, reason)
	}
}

func (b *browserSession) speakReply(text string) {
	b.mu.Lock()
	relay := b.relay
	b.mu.Unlock()
	if relay == nil || !relay.Pending() {
		return
	}
	if err := relay.HandleReply(b.ctx, text); err != nil && !errors.Is(err, voice.ErrRelayEnded) {
		b.logger.Debug("reply not spoken", "error", err)
	}
}
