package models

import (
	"strings"

	"github.com/google/uuid"
)

// ToolErrorKind classifies why a tool execution did not succeed.
type ToolErrorKind string

const (
	// ToolErrorNotFound means the tool name is not registered.
	ToolErrorNotFound ToolErrorKind = "not_found"

	// ToolErrorInvalidParameters means one or more parameters violated the contract.
	ToolErrorInvalidParameters ToolErrorKind = "invalid_parameters"

	// ToolErrorNotImplemented means the tool is registered but has no handler.
	ToolErrorNotImplemented ToolErrorKind = "not_implemented"

	// ToolErrorHandlerFailed means the domain handler reported a failure.
	ToolErrorHandlerFailed ToolErrorKind = "handler_failed"

	// ToolErrorInternal means an unexpected fault was caught at the engine boundary.
	ToolErrorInternal ToolErrorKind = "internal"

	// ToolErrorBusy means the per-user execution limit was reached.
	ToolErrorBusy ToolErrorKind = "busy"

	// ToolErrorCanceled means the caller went away before the handler ran.
	ToolErrorCanceled ToolErrorKind = "canceled"
)

// ToolCall is a tool invocation as it arrives from the reasoning engine.
type ToolCall struct {
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
}

// ToolExecutionRequest is a single, immutable tool invocation scoped to a user.
type ToolExecutionRequest struct {
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters,omitempty"`
	UserID     string         `json:"userId"`
	RequestID  string         `json:"requestId"`
}

// NewToolExecutionRequest builds a request, copying parameters and generating a
// request ID when none is supplied.
func NewToolExecutionRequest(toolName string, params map[string]any, userID, requestID string) ToolExecutionRequest {
	if strings.TrimSpace(requestID) == "" {
		requestID = uuid.NewString()
	}
	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}
	return ToolExecutionRequest{
		ToolName:   toolName,
		Parameters: copied,
		UserID:     userID,
		RequestID:  requestID,
	}
}

// Request converts a reasoning-engine tool call into an execution request for userID.
func (c ToolCall) Request(userID string) ToolExecutionRequest {
	return NewToolExecutionRequest(c.ToolName, c.Parameters, userID, c.RequestID)
}

// ValidationError describes one parameter contract violation.
type ValidationError struct {
	Parameter string `json:"parameter"`
	Expected  string `json:"expected"`
	Received  string `json:"received"`
	Message   string `json:"message"`
}

// ToolExecutionResult is the single outcome of a tool execution.
// Data is nil whenever Success is false.
type ToolExecutionResult struct {
	Success           bool              `json:"success"`
	ToolName          string            `json:"toolName"`
	Data              any               `json:"data,omitempty"`
	FormattedResponse string            `json:"formattedResponse,omitempty"`
	Error             string            `json:"error,omitempty"`
	ErrorKind         ToolErrorKind     `json:"errorKind,omitempty"`
	Message           string            `json:"message,omitempty"`
	ValidationErrors  []ValidationError `json:"validationErrors,omitempty"`
	ExecutionTimeMs   int64             `json:"executionTimeMs"`
	UserID            string            `json:"userId"`
	RequestID         string            `json:"requestId"`
}
