package models

import (
	"encoding/json"
	"testing"
)

func TestNewToolExecutionRequest_GeneratesRequestID(t *testing.T) {
	req := NewToolExecutionRequest("getUserExpenses", nil, "user-1", "")
	if req.RequestID == "" {
		t.Fatal("expected generated request ID")
	}
	other := NewToolExecutionRequest("getUserExpenses", nil, "user-1", "  ")
	if other.RequestID == req.RequestID {
		t.Fatal("expected distinct request IDs")
	}
}

func TestNewToolExecutionRequest_KeepsRequestID(t *testing.T) {
	req := NewToolExecutionRequest("getUserExpenses", nil, "user-1", "req-42")
	if req.RequestID != "req-42" {
		t.Fatalf("RequestID = %q, want req-42", req.RequestID)
	}
}

func TestNewToolExecutionRequest_CopiesParameters(t *testing.T) {
	params := map[string]any{"limit": 10}
	req := NewToolExecutionRequest("getUserExpenses", params, "user-1", "")
	params["limit"] = 99
	params["category"] = "Fuel"

	if req.Parameters["limit"] != 10 {
		t.Errorf("limit = %v, want 10", req.Parameters["limit"])
	}
	if _, ok := req.Parameters["category"]; ok {
		t.Error("request should not observe later mutations")
	}
}

func TestToolCall_Request(t *testing.T) {
	call := ToolCall{ToolName: "getUserProfile", RequestID: "call-1"}
	req := call.Request("user-9")
	if req.UserID != "user-9" || req.RequestID != "call-1" || req.ToolName != "getUserProfile" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestInboundFrame_DecodeToolCalls(t *testing.T) {
	raw := `{"type":"chat_response","message":"hi","toolCalls":[{"toolName":"getUserExpenses","parameters":{"limit":5}}]}`
	var frame InboundFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Type != FrameChatResponse {
		t.Errorf("Type = %q", frame.Type)
	}
	if len(frame.ToolCalls) != 1 || frame.ToolCalls[0].ToolName != "getUserExpenses" {
		t.Fatalf("unexpected tool calls: %+v", frame.ToolCalls)
	}
	if frame.ToolCalls[0].Parameters["limit"] != float64(5) {
		t.Errorf("limit = %v", frame.ToolCalls[0].Parameters["limit"])
	}
}

func TestConnectionState_IsTerminal(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  bool
	}{
		{ConnectionConnecting, false},
		{ConnectionOpen, false},
		{ConnectionReconnecting, false},
		{ConnectionClosed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
