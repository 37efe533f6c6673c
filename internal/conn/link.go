package conn

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsTickInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
	wsSendBuffer      = 64
)

var (
	// ErrLinkClosed is returned when sending on a closed link.
	ErrLinkClosed = errors.New("link closed")

	errSendBufferFull = errors.New("send buffer full")
)

type outbound struct {
	messageType int
	data        []byte
}

// Link wraps one websocket connection with a single writer goroutine,
// ping keepalive and read deadlines. It is safe for concurrent Send calls.
type Link struct {
	conn      *websocket.Conn
	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

// NewLink starts the write loop for conn.
func NewLink(conn *websocket.Conn) *Link {
	l := &Link{
		conn: conn,
		send: make(chan outbound, wsSendBuffer),
		done: make(chan struct{}),
	}
	conn.SetReadLimit(wsMaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go l.writeLoop()
	return l
}

// Read returns the next message. Any inbound traffic extends the read deadline.
func (l *Link) Read() (int, []byte, error) {
	messageType, data, err := l.conn.ReadMessage()
	if err == nil {
		_ = l.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	}
	return messageType, data, err
}

// SendText queues a text frame.
func (l *Link) SendText(data []byte) error {
	return l.enqueue(outbound{messageType: websocket.TextMessage, data: data})
}

// SendBinary queues a binary frame.
func (l *Link) SendBinary(data []byte) error {
	return l.enqueue(outbound{messageType: websocket.BinaryMessage, data: data})
}

func (l *Link) enqueue(msg outbound) error {
	if len(msg.data) > wsMaxPayloadBytes {
		return fmt.Errorf("payload too large: %d bytes", len(msg.data))
	}
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}
	select {
	case l.send <- msg:
		return nil
	case <-l.done:
		return ErrLinkClosed
	default:
		return errSendBufferFull
	}
}

// Done is closed once the link is closed.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Close closes the underlying connection. It is safe to call more than once.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)) //nolint:errcheck
		_ = l.conn.Close()
	})
}

func (l *Link) writeLoop() {
	ticker := time.NewTicker(wsTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case msg := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := l.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				l.Close()
				return
			}
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				l.Close()
				return
			}
		}
	}
}
