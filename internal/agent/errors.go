package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/pam/internal/handlers"
	"github.com/haasonsaas/pam/pkg/models"
)

// Common sentinel errors for tool execution.
var (
	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParameters indicates the parameters violated the tool's contract
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrNotImplemented indicates a registered tool has no handler
	ErrNotImplemented = handlers.ErrNotImplemented

	// ErrHandlerFailed indicates the domain handler reported a failure
	ErrHandlerFailed = errors.New("handler failed")

	// ErrToolPanic indicates routing or formatting panicked
	ErrToolPanic = errors.New("tool panicked")

	// ErrToolTimeout indicates the handler did not finish within the tool timeout
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrBusy indicates the user's concurrent execution limit stayed full
	ErrBusy = errors.New("too many concurrent tool executions")
)

// User-facing messages. These are safe to show and never carry internals.
const (
	MessageUnexpected = "An unexpected error occurred while processing your request."
	MessageBusy       = "I'm still working on your earlier requests. Please try again in a moment."
	MessageCanceled   = "The request was canceled before it could run."
	MessageTimeout    = "That took too long to look up. Please try again."
)

// ToolError is a classified tool execution failure.
type ToolError struct {
	// Kind is the failure class reported in the result.
	Kind models.ToolErrorKind

	// ToolName is the name of the tool that failed
	ToolName string

	// Message is the user-safe message
	Message string

	// Validation lists every contract violation for invalid_parameters.
	Validation []models.ValidationError

	// Cause is the underlying error, logged but never returned to the user
	Cause error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Kind)}
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	} else if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

func notFoundError(name string) *ToolError {
	return &ToolError{
		Kind:     models.ToolErrorNotFound,
		ToolName: name,
		Message:  fmt.Sprintf("Tool '%s' not found", name),
		Cause:    fmt.Errorf("%q: %w", name, ErrToolNotFound),
	}
}

func validationError(name string, violations []models.ValidationError) *ToolError {
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.Message
	}
	return &ToolError{
		Kind:       models.ToolErrorInvalidParameters,
		ToolName:   name,
		Message:    "Invalid parameters: " + strings.Join(msgs, "; "),
		Validation: violations,
		Cause:      fmt.Errorf("%d violations: %w", len(violations), ErrInvalidParameters),
	}
}

// handlerError classifies a failed handler result.
func handlerError(name string, res handlers.Result) *ToolError {
	cause := res.Error
	if cause == nil {
		cause = ErrHandlerFailed
	}
	kind := models.ToolErrorHandlerFailed
	if res.IsNotImplemented() {
		kind = models.ToolErrorNotImplemented
	}
	msg := res.Message
	if msg == "" {
		msg = "I couldn't complete that request right now. Please try again."
	}
	return &ToolError{Kind: kind, ToolName: name, Message: msg, Cause: cause}
}

func panicError(name string, recovered any) *ToolError {
	return &ToolError{
		Kind:     models.ToolErrorInternal,
		ToolName: name,
		Message:  MessageUnexpected,
		Cause:    fmt.Errorf("%w: %v", ErrToolPanic, recovered),
	}
}

// contextError maps a done context to canceled or a handler timeout.
func contextError(name string, err error) *ToolError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ToolError{
			Kind:     models.ToolErrorHandlerFailed,
			ToolName: name,
			Message:  MessageTimeout,
			Cause:    fmt.Errorf("%w: %w", ErrToolTimeout, err),
		}
	}
	return &ToolError{
		Kind:     models.ToolErrorCanceled,
		ToolName: name,
		Message:  MessageCanceled,
		Cause:    err,
	}
}

func busyError(name string) *ToolError {
	return &ToolError{
		Kind:     models.ToolErrorBusy,
		ToolName: name,
		Message:  MessageBusy,
		Cause:    ErrBusy,
	}
}

// shortError is the terse Error field of a failed result.
func (e *ToolError) shortError() string {
	switch e.Kind {
	case models.ToolErrorNotFound:
		return "Tool not found"
	case models.ToolErrorInvalidParameters:
		return "Invalid parameters"
	case models.ToolErrorNotImplemented:
		return "Tool not implemented"
	case models.ToolErrorBusy:
		return "Too many concurrent requests"
	case models.ToolErrorCanceled:
		return "Request canceled"
	case models.ToolErrorInternal:
		return "Unexpected error"
	default:
		return "Tool execution failed"
	}
}
