package models

// ConnectionState is the lifecycle state of a long-lived duplex connection.
type ConnectionState string

const (
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionOpen         ConnectionState = "open"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionClosed       ConnectionState = "closed"
)

// IsTerminal returns true once no further transitions are possible.
func (s ConnectionState) IsTerminal() bool {
	return s == ConnectionClosed
}

// ConnectionFrame reports a connection state change to the browser.
type ConnectionFrame struct {
	Type    FrameType       `json:"type"`
	State   ConnectionState `json:"state"`
	Attempt int             `json:"attempt,omitempty"`
}
