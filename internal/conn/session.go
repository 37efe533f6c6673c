// Package conn owns the long-lived duplex connection to the reasoning
// engine: session state, reconnection, frame validation and dispatch.
package conn

import (
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/pam/pkg/models"
)

// MaxRecentIntents is how many recent user messages travel with each chat.
const MaxRecentIntents = 5

// ErrInvalidTransition is returned when a session transition is not allowed
// from the current state.
var ErrInvalidTransition = errors.New("invalid connection transition")

// Session is the state of one logical connection. It is a value: every
// transition returns a new Session and leaves the receiver unchanged.
type Session struct {
	State            models.ConnectionState `json:"state"`
	UserID           string                 `json:"user_id"`
	Region           string                 `json:"region,omitempty"`
	CurrentPage      string                 `json:"current_page,omitempty"`
	LastActivityAt   time.Time              `json:"last_activity_at"`
	ReconnectAttempt int                    `json:"reconnect_attempt"`
	SlowResponse     bool                   `json:"slow_response"`
	RecentIntents    []string               `json:"recent_intents,omitempty"`
}

// NewSession returns a session in the connecting state.
func NewSession(userID string, now time.Time) Session {
	return Session{
		State:          models.ConnectionConnecting,
		UserID:         userID,
		LastActivityAt: now,
	}
}

func invalid(from models.ConnectionState, to models.ConnectionState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Opened moves connecting or reconnecting to open and resets the attempt counter.
func (s Session) Opened(now time.Time) (Session, error) {
	switch s.State {
	case models.ConnectionConnecting, models.ConnectionReconnecting:
	default:
		return s, invalid(s.State, models.ConnectionOpen)
	}
	next := s.clone()
	next.State = models.ConnectionOpen
	next.ReconnectAttempt = 0
	next.LastActivityAt = now
	return next, nil
}

// Dropped records a failed open or a lost connection and counts the attempt.
func (s Session) Dropped(now time.Time) (Session, error) {
	switch s.State {
	case models.ConnectionConnecting, models.ConnectionOpen, models.ConnectionReconnecting:
	default:
		return s, invalid(s.State, models.ConnectionReconnecting)
	}
	next := s.clone()
	next.State = models.ConnectionReconnecting
	next.ReconnectAttempt++
	next.LastActivityAt = now
	return next, nil
}

// Closed ends the session. A closed session cannot transition again.
func (s Session) Closed(now time.Time) (Session, error) {
	if s.State == models.ConnectionClosed {
		return s, invalid(s.State, models.ConnectionClosed)
	}
	next := s.clone()
	next.State = models.ConnectionClosed
	next.SlowResponse = false
	next.LastActivityAt = now
	return next, nil
}

// WithContext updates the region and page sent with every chat. Empty
// arguments keep the current values.
func (s Session) WithContext(region, page string) Session {
	next := s.clone()
	if region != "" {
		next.Region = region
	}
	if page != "" {
		next.CurrentPage = page
	}
	return next
}

// WithIntent appends a user message to the recent intent history, keeping
// the last MaxRecentIntents.
func (s Session) WithIntent(message string, now time.Time) Session {
	next := s.clone()
	next.RecentIntents = append(next.RecentIntents, message)
	if n := len(next.RecentIntents); n > MaxRecentIntents {
		next.RecentIntents = next.RecentIntents[n-MaxRecentIntents:]
	}
	next.LastActivityAt = now
	return next
}

// WithSlowResponse sets or clears the slow-response flag.
func (s Session) WithSlowResponse(slow bool) Session {
	next := s.clone()
	next.SlowResponse = slow
	return next
}

// ChatContext is the context block attached to an outbound chat.
func (s Session) ChatContext(sessionID string, now time.Time) models.ChatContext {
	return models.ChatContext{
		SessionID:     sessionID,
		Region:        s.Region,
		CurrentPage:   s.CurrentPage,
		RecentIntents: append([]string(nil), s.RecentIntents...),
		Timestamp:     now,
	}
}

func (s Session) clone() Session {
	next := s
	next.RecentIntents = append([]string(nil), s.RecentIntents...)
	return next
}
