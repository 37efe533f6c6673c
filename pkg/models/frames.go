package models

import (
	"encoding/json"
	"time"
)

// FrameType tags every JSON frame exchanged with the reasoning engine, the
// speech provider and the browser.
type FrameType string

const (
	// Reasoning engine → bridge.
	FrameChatResponse FrameType = "chat_response"
	FrameUIActions    FrameType = "ui_actions"
	FrameError        FrameType = "error"
	FrameConnection   FrameType = "connection"

	// Bridge → reasoning engine.
	FrameChat       FrameType = "chat"
	FrameToolResult FrameType = "tool_result"

	// Browser ⇄ gateway.
	FrameContext    FrameType = "context"
	FrameVoiceStart FrameType = "voice_start"
	FrameVoiceStop  FrameType = "voice_stop"
	FrameNotice     FrameType = "notice"

	// Speech provider ⇄ bridge.
	FrameTranscript FrameType = "transcript"
	FrameSynthesize FrameType = "synthesize"
)

// InboundFrame is a frame received from the reasoning engine.
type InboundFrame struct {
	Type      FrameType  `json:"type"`
	Message   string     `json:"message,omitempty"`
	Actions   []UIAction `json:"actions,omitempty"`
	Error     string     `json:"error,omitempty"`
	Status    string     `json:"status,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// UIAction is an instruction for the browser UI (navigate, open a panel, ...).
type UIAction struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChatContext travels with every outbound chat so the reasoning engine keeps
// continuity without a server-side session store.
type ChatContext struct {
	SessionID     string    `json:"session_id,omitempty"`
	Region        string    `json:"region,omitempty"`
	CurrentPage   string    `json:"current_page,omitempty"`
	RecentIntents []string  `json:"recent_intents,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ChatFrame is an outbound chat message to the reasoning engine.
type ChatFrame struct {
	Type    FrameType   `json:"type"`
	Message string      `json:"message"`
	UserID  string      `json:"user_id"`
	Context ChatContext `json:"context"`
}

// ToolResultFrame returns an execution result to the reasoning engine.
type ToolResultFrame struct {
	Type      FrameType           `json:"type"`
	RequestID string              `json:"request_id"`
	Result    ToolExecutionResult `json:"result"`
}

// NoticeFrame is a transient status notice shown to the user.
type NoticeFrame struct {
	Type   FrameType `json:"type"`
	Notice string    `json:"notice"`
	Detail string    `json:"detail,omitempty"`
}

// TranscriptFrame carries recognized speech.
type TranscriptFrame struct {
	Type    FrameType `json:"type"`
	Text    string    `json:"text"`
	IsFinal bool      `json:"is_final"`
}

// SynthesizeFrame asks the speech provider to speak text.
type SynthesizeFrame struct {
	Type  FrameType `json:"type"`
	Text  string    `json:"text"`
	Voice string    `json:"voice,omitempty"`
}
