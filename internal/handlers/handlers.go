// Package handlers implements the domain data handlers behind each tool.
// Every handler reads through storage.Store, scopes to the requesting user
// and returns a Result; handlers never panic on store failures.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/pam/internal/storage"
)

// Result caps.
const (
	DefaultLimit       = 50
	MaxLimit           = 100
	DefaultSearchLimit = 20
	MaxSearchLimit     = 50
)

// ErrNotImplemented marks a tool that is registered but has no handler yet.
var ErrNotImplemented = errors.New("tool not implemented")

// Result is what every handler returns. Data is nil when Success is false.
type Result struct {
	Success bool
	Data    any
	Error   error
	Message string
}

// OK wraps data in a successful Result.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Failed builds a failed Result with a user-safe message.
func Failed(err error, message string) Result {
	return Result{Success: false, Error: err, Message: message}
}

// NotImplemented is returned for registered tools without a handler.
func NotImplemented(toolName string) Result {
	return Result{
		Success: false,
		Error:   fmt.Errorf("%s: %w", toolName, ErrNotImplemented),
		Message: fmt.Sprintf("The %s tool is not available yet.", toolName),
	}
}

// IsNotImplemented reports whether r came from NotImplemented.
func (r Result) IsNotImplemented() bool {
	return !r.Success && errors.Is(r.Error, ErrNotImplemented)
}

// ClampLimit applies the default when requested is unset and the hard cap otherwise.
func ClampLimit(requested, def, hardMax int) int {
	if requested <= 0 {
		return def
	}
	if requested > hardMax {
		return hardMax
	}
	return requested
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func storeFailure(logger *slog.Logger, op, userID string, err error, message string) Result {
	logger.Error("handler store error",
		"op", op,
		"user_id", userID,
		"error", err)
	return Failed(fmt.Errorf("%s: %w", op, err), message)
}

// ParseDate parses a YYYY-MM-DD string. Empty input yields nil.
func ParseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Range builds a storage.DateRange from optional YYYY-MM-DD bounds.
func Range(start, end string) (storage.DateRange, error) {
	from, err := ParseDate(start)
	if err != nil {
		return storage.DateRange{}, fmt.Errorf("start_date: %w", err)
	}
	to, err := ParseDate(end)
	if err != nil {
		return storage.DateRange{}, fmt.Errorf("end_date: %w", err)
	}
	return storage.DateRange{From: from, To: to}, nil
}
