package voice

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
	"github.com/haasonsaas/pam/internal/conn"
	"github.com/haasonsaas/pam/pkg/models"
)

// FrameObserver counts frames per leg. *observability.Metrics satisfies it.
type FrameObserver interface {
	Frame(leg, direction, frameType string)
}

// SpeechConfig configures the websocket speech provider connection.
type SpeechConfig struct {
	URL    string
	Header http.Header
	Voice  string

	// Backoff paces dial retries. MaxDialAttempts bounds them (default 5).
	Backoff         backoff.Policy
	MaxDialAttempts int

	// Buffer sizes the transcript and audio channels. Defaults to 32.
	Buffer int

	Dialer   *websocket.Dialer
	Logger   *slog.Logger
	Observer FrameObserver
}

// WSSpeechLeg is a SpeechLeg over a websocket: JSON control frames plus
// binary audio in both directions.
type WSSpeechLeg struct {
	link     *conn.Link
	voice    string
	logger   *slog.Logger
	observer FrameObserver

	events chan TranscriptEvent
	audio  chan []byte

	closeOnce sync.Once
}

var _ SpeechLeg = (*WSSpeechLeg)(nil)

// DialSpeech connects to the speech provider, retrying with backoff.
func DialSpeech(ctx context.Context, cfg SpeechConfig) (*WSSpeechLeg, error) {
	if cfg.URL == "" {
		return nil, errors.New("voice: speech url is required")
	}
	if cfg.MaxDialAttempts <= 0 {
		cfg.MaxDialAttempts = 5
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 32
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "voice", "leg", LegSpeech)

	ws, err := backoff.Retry(ctx, cfg.Backoff, cfg.MaxDialAttempts, func(attempt int) (*websocket.Conn, error) {
		c, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close() //nolint:errcheck
		}
		if err != nil {
			logger.Debug("speech dial failed", "attempt", attempt, "error", err)
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial speech provider: %w", err)
	}

	leg := &WSSpeechLeg{
		link:     conn.NewLink(ws),
		voice:    cfg.Voice,
		logger:   logger,
		observer: cfg.Observer,
		events:   make(chan TranscriptEvent, cfg.Buffer),
		audio:    make(chan []byte, cfg.Buffer),
	}
	go leg.readLoop()
	return leg, nil
}

// Events delivers transcripts. It is closed when the connection ends.
func (s *WSSpeechLeg) Events() <-chan TranscriptEvent { return s.events }

// Audio delivers synthesized audio chunks. It is closed when the connection ends.
func (s *WSSpeechLeg) Audio() <-chan []byte { return s.audio }

// Done is closed when the connection ends.
func (s *WSSpeechLeg) Done() <-chan struct{} { return s.link.Done() }

// Synthesize asks the provider to speak text.
func (s *WSSpeechLeg) Synthesize(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(models.SynthesizeFrame{
		Type:  models.FrameSynthesize,
		Text:  text,
		Voice: s.voice,
	})
	if err != nil {
		return fmt.Errorf("encode synthesize: %w", err)
	}
	if err := s.link.SendText(data); err != nil {
		return fmt.Errorf("send synthesize: %w", err)
	}
	s.frame("out", string(models.FrameSynthesize))
	return nil
}

// SendAudio forwards a microphone audio chunk to the provider.
func (s *WSSpeechLeg) SendAudio(chunk []byte) error {
	if err := s.link.SendBinary(chunk); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

// Close ends the connection.
func (s *WSSpeechLeg) Close() error {
	s.closeOnce.Do(s.link.Close)
	return nil
}

func (s *WSSpeechLeg) readLoop() {
	defer close(s.audio)
	defer close(s.events)
	defer s.link.Close()

	for {
		messageType, data, err := s.link.Read()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("speech read ended", "error", err)
			}
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			select {
			case s.audio <- data:
			case <-s.link.Done():
				return
			}
		case websocket.TextMessage:
			var frame models.TranscriptFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				s.logger.Warn("dropping speech frame", "error", err)
				continue
			}
			if frame.Type != models.FrameTranscript {
				s.logger.Debug("ignoring speech frame", "type", frame.Type)
				continue
			}
			s.frame("in", string(frame.Type))
			select {
			case s.events <- TranscriptEvent{Text: frame.Text, IsFinal: frame.IsFinal, At: time.Now()}:
			case <-s.link.Done():
				return
			}
		}
	}
}

func (s *WSSpeechLeg) frame(direction, frameType string) {
	if s.observer != nil {
		s.observer.Frame(LegSpeech, direction, frameType)
	}
}
