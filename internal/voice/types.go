// Package voice bridges a speech provider to the reasoning engine: final
// transcripts become chat messages and replies are spoken back.
package voice

import (
	"context"
	"time"
)

// LegSpeech labels metrics and spans for the speech-provider connection.
const LegSpeech = "speech"

// TranscriptEvent is a recognition result from the speech provider.
type TranscriptEvent struct {
	Text    string    `json:"text"`
	IsFinal bool      `json:"is_final"`
	At      time.Time `json:"at"`
}

// SpeechLeg is the speech provider side of a bridge.
type SpeechLeg interface {
	// Events delivers transcripts until the leg closes.
	Events() <-chan TranscriptEvent

	// Synthesize asks the provider to speak text.
	Synthesize(ctx context.Context, text string) error
}

// ReasoningLeg is the reasoning engine side of a bridge. *conn.Manager satisfies it.
type ReasoningLeg interface {
	SendChat(ctx context.Context, message string) error
}

// BridgeState is the lifecycle state of a voice bridge.
type BridgeState string

const (
	StateListening BridgeState = "listening"
	StateThinking  BridgeState = "thinking"
	StateSpeaking  BridgeState = "speaking"
	StateEnded     BridgeState = "ended"
)

// IsTerminal returns true once the bridge has ended.
func (s BridgeState) IsTerminal() bool {
	return s == StateEnded
}

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// TranscriptEntry is one utterance in a bridge transcript.
type TranscriptEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
}

// BridgeSession is the state of one voice conversation.
type BridgeSession struct {
	ID             string            `json:"id"`
	State          BridgeState       `json:"state"`
	LastTranscript string            `json:"last_transcript,omitempty"`
	LastReply      string            `json:"last_reply,omitempty"`
	ColdStart      bool              `json:"cold_start"`
	Turns          int               `json:"turns"`
	Queued         int               `json:"queued"`
	Transcript     []TranscriptEntry `json:"transcript"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        *time.Time        `json:"ended_at,omitempty"`
}
