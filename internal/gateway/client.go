package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/callbridge/internal/logging"
)

// writeWait bounds a single frame write to a slow peer.
const writeWait = 10 * time.Second

// Client is one authenticated call participant connection. Writes are
// serialized; reads happen only on the connection's read loop.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Auth        AuthResult
	ConnectedAt time.Time

	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
	log    *logging.Logger
}

// NewClient wraps a socket that has completed the handshake.
func NewClient(conn *websocket.Conn, info ClientInfo, auth AuthResult, log *logging.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ConnID:      id,
		Info:        info,
		Auth:        auth,
		ConnectedAt: time.Now(),
		conn:        conn,
		log:         log.With("connId", id),
	}
}

func (c *Client) write(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

// Emit pushes an event frame to the participant.
func (c *Client) Emit(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.write(f)
}

// Reply answers an RPC request.
func (c *Client) Reply(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.write(f)
}

// ReplyError fails an RPC request.
func (c *Client) ReplyError(reqID string, shape ErrorShape) error {
	return c.write(NewErrorResponse(reqID, shape))
}

// Next blocks for the next inbound frame. A frame that is not valid JSON
// yields *frameError and leaves the connection usable.
func (c *Client) Next() (Frame, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, &frameError{err: err}
	}
	return f, nil
}

// Close closes the socket once; later writes fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

type frameError struct{ err error }

func (e *frameError) Error() string { return "malformed frame: " + e.err.Error() }
func (e *frameError) Unwrap() error { return e.err }
