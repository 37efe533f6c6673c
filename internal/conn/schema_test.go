package conn

import (
	"testing"

	"github.com/haasonsaas/pam/pkg/models"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantErr  bool
		wantType models.FrameType
		wantCall string
	}{
		{name: "chat response", raw: `{"type":"chat_response","message":"hi"}`, wantType: models.FrameChatResponse},
		{name: "tool calls", raw: `{"type":"chat_response","toolCalls":[{"toolName":"getFuelData","parameters":{"limit":3},"requestId":"r-1"}]}`, wantType: models.FrameChatResponse, wantCall: "getFuelData"},
		{name: "null parameters", raw: `{"type":"chat_response","toolCalls":[{"toolName":"getUserProfile","parameters":null}]}`, wantType: models.FrameChatResponse, wantCall: "getUserProfile"},
		{name: "ui actions", raw: `{"type":"ui_actions","actions":[{"type":"navigate","payload":{"to":"/trips"}}]}`, wantType: models.FrameUIActions},
		{name: "unknown type still decodes", raw: `{"type":"mystery","extra":1}`, wantType: "mystery"},
		{name: "missing type", raw: `{"message":"hi"}`, wantErr: true},
		{name: "empty type", raw: `{"type":""}`, wantErr: true},
		{name: "not json", raw: `hello`, wantErr: true},
		{name: "tool call without name", raw: `{"type":"chat_response","toolCalls":[{"parameters":{}}]}`, wantErr: true},
		{name: "parameters not an object", raw: `{"type":"chat_response","toolCalls":[{"toolName":"x","parameters":[1]}]}`, wantErr: true},
		{name: "action without type", raw: `{"type":"ui_actions","actions":[{"payload":{}}]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeInbound([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", frame)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if frame.Type != tt.wantType {
				t.Errorf("type = %q, want %q", frame.Type, tt.wantType)
			}
			if tt.wantCall != "" {
				if len(frame.ToolCalls) != 1 || frame.ToolCalls[0].ToolName != tt.wantCall {
					t.Errorf("tool calls = %+v", frame.ToolCalls)
				}
			}
		})
	}
}
