package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRelayEnded is returned by HandleReply after the bridge has ended.
var ErrRelayEnded = errors.New("voice: relay ended")

// RelayConfig configures a Relay.
type RelayConfig struct {
	// ColdStartThreshold is how long a reply may take before the session
	// is marked as a cold start. Defaults to 8s.
	ColdStartThreshold time.Duration

	// MaxTranscript caps the retained transcript entries. Defaults to 50.
	MaxTranscript int
}

// RelayOptions wires a Relay's collaborators.
type RelayOptions struct {
	Logger *slog.Logger

	// OnTranscript observes every transcript, interim ones included.
	OnTranscript func(TranscriptEvent)
}

// Relay turns final transcripts into reasoning requests, one in flight at
// a time, and speaks replies back through the speech leg.
type Relay struct {
	speech       SpeechLeg
	reasoning    ReasoningLeg
	cfg          RelayConfig
	logger       *slog.Logger
	onTranscript func(TranscriptEvent)
	now          func() time.Time

	mu        sync.Mutex
	session   BridgeSession
	queue     []string
	pending   bool
	coldTimer *time.Timer
	gen       uint64
}

// NewRelay creates a relay between speech and reasoning.
func NewRelay(speech SpeechLeg, reasoning ReasoningLeg, cfg RelayConfig, opts RelayOptions) *Relay {
	if cfg.ColdStartThreshold <= 0 {
		cfg.ColdStartThreshold = 8 * time.Second
	}
	if cfg.MaxTranscript <= 0 {
		cfg.MaxTranscript = 50
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Relay{
		speech:       speech,
		reasoning:    reasoning,
		cfg:          cfg,
		logger:       logger.With("component", "voice", "bridge_id", id),
		onTranscript: opts.OnTranscript,
		now:          time.Now,
		session: BridgeSession{
			ID:         id,
			State:      StateListening,
			Transcript: []TranscriptEntry{},
			StartedAt:  time.Now(),
		},
	}
}

// Run consumes speech events until the leg closes or ctx is done, then
// ends the session.
func (r *Relay) Run(ctx context.Context) error {
	defer r.end()
	events := r.speech.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.handleTranscript(ctx, ev)
		}
	}
}

func (r *Relay) handleTranscript(ctx context.Context, ev TranscriptEvent) {
	if r.onTranscript != nil {
		r.onTranscript(ev)
	}
	if !ev.IsFinal {
		return
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	r.mu.Lock()
	if r.session.State.IsTerminal() {
		r.mu.Unlock()
		return
	}
	r.session.LastTranscript = text
	r.appendLocked(SpeakerUser, text)
	r.queue = append(r.queue, text)
	r.session.Queued = len(r.queue)
	r.mu.Unlock()

	r.sendNext(ctx)
}

// HandleReply records a reply from the reasoning engine, speaks it and
// releases the next queued transcript.
func (r *Relay) HandleReply(ctx context.Context, text string) error {
	r.mu.Lock()
	if r.session.State.IsTerminal() {
		r.mu.Unlock()
		return ErrRelayEnded
	}
	r.stopColdTimerLocked()
	r.pending = false
	r.session.LastReply = text
	r.session.State = StateSpeaking
	r.appendLocked(SpeakerAssistant, text)
	r.mu.Unlock()

	err := r.speech.Synthesize(ctx, text)
	if err != nil {
		r.logger.Warn("synthesize reply", "error", err)
	}

	r.mu.Lock()
	if r.session.State == StateSpeaking {
		r.session.State = StateListening
	}
	r.mu.Unlock()

	r.sendNext(ctx)
	return err
}

// Pending reports whether a transcript is waiting on a reasoning reply.
func (r *Relay) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// AbandonPending gives up on the in-flight transcript, as after an error
// frame or a dropped reasoning connection, and sends the next queued one.
// It does nothing when no transcript is pending.
func (r *Relay) AbandonPending(ctx context.Context, reason string) {
	r.mu.Lock()
	if !r.pending || r.session.State.IsTerminal() {
		r.mu.Unlock()
		return
	}
	r.stopColdTimerLocked()
	r.pending = false
	r.session.State = StateListening
	r.mu.Unlock()

	r.logger.Info("abandoned pending transcript", "reason", reason)
	r.sendNext(ctx)
}

// Session returns a copy of the bridge session.
func (r *Relay) Session() BridgeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.session
	s.Transcript = append([]TranscriptEntry(nil), r.session.Transcript...)
	return s
}

// sendNext sends queued transcripts until one is accepted or the queue is empty.
func (r *Relay) sendNext(ctx context.Context) {
	for {
		r.mu.Lock()
		if r.pending || len(r.queue) == 0 || r.session.State.IsTerminal() {
			r.mu.Unlock()
			return
		}
		text := r.queue[0]
		r.queue = r.queue[1:]
		r.session.Queued = len(r.queue)
		r.pending = true
		r.session.Turns++
		r.session.State = StateThinking
		r.armColdTimerLocked()
		r.mu.Unlock()

		err := r.reasoning.SendChat(ctx, text)
		if err == nil {
			return
		}
		r.logger.Warn("transcript not delivered", "error", err)

		r.mu.Lock()
		r.pending = false
		r.stopColdTimerLocked()
		if !r.session.State.IsTerminal() {
			r.session.State = StateListening
		}
		r.mu.Unlock()
	}
}

func (r *Relay) armColdTimerLocked() {
	r.stopColdTimerLocked()
	gen := r.gen
	r.coldTimer = time.AfterFunc(r.cfg.ColdStartThreshold, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if gen != r.gen || !r.pending || r.session.ColdStart {
			return
		}
		r.session.ColdStart = true
		r.logger.Info("reasoning reply exceeded cold start threshold", "threshold", r.cfg.ColdStartThreshold)
	})
}

func (r *Relay) stopColdTimerLocked() {
	if r.coldTimer != nil {
		r.coldTimer.Stop()
		r.coldTimer = nil
	}
	r.gen++
}

func (r *Relay) appendLocked(speaker Speaker, text string) {
	r.session.Transcript = append(r.session.Transcript, TranscriptEntry{
		Timestamp: r.now(),
		Speaker:   speaker,
		Text:      text,
	})
	if n := len(r.session.Transcript); n > r.cfg.MaxTranscript {
		r.session.Transcript = append([]TranscriptEntry(nil), r.session.Transcript[n-r.cfg.MaxTranscript:]...)
	}
}

func (r *Relay) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session.State.IsTerminal() {
		return
	}
	r.stopColdTimerLocked()
	now := r.now()
	r.session.State = StateEnded
	r.session.EndedAt = &now
	r.queue = nil
	r.session.Queued = 0
	r.pending = false
	r.logger.Info("voice bridge ended", "turns", r.session.Turns)
}
