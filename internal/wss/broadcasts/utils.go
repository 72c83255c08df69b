package broadcasts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/lijuuu/ContestLivescoreService/internal/subscription"
)

var ErrConnClosed = errors.New("websocket connection closed")

const defaultWriteTimeout = 10 * time.Second

// Conn serializes writes to one websocket and tracks the subscriptions streaming on it.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[*Stream]*subscription.Subscription

	closeOnce sync.Once
	closed    chan struct{}
}

func NewConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		streams:      make(map[*Stream]*subscription.Subscription),
		closed:       make(chan struct{}),
	}
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// SendJSON writes one JSON text frame.
func (c *Conn) SendJSON(data any) error {
	return c.write(context.Background(), data)
}

// SendErrorWithType writes {type, status: "error", message, code} plus extra fields.
func (c *Conn) SendErrorWithType(eventType, code, msg string, extra map[string]any) error {
	response := map[string]any{
		"type":    eventType,
		"status":  "error",
		"message": msg,
		"code":    code,
	}
	for k, v := range extra {
		response[k] = v
	}
	return c.SendJSON(response)
}

func (c *Conn) write(ctx context.Context, data any) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		c.Close()
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		// a failed or timed out write leaves the frame stream unusable
		c.Close()
		return err
	}
	return nil
}

// Ping writes a control ping. It is safe to call concurrently with other writes.
func (c *Conn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// NewStream returns a subscription transport that writes to this connection.
func (c *Conn) NewStream() *Stream {
	return &Stream{conn: c, closed: make(chan struct{})}
}

// Attach records that sub streams on st.
func (c *Conn) Attach(st *Stream, sub *subscription.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st.isClosed() {
		return
	}
	c.streams[st] = sub
}

func (c *Conn) detach(st *Stream) {
	c.mu.Lock()
	delete(c.streams, st)
	c.mu.Unlock()
}

// Subscriptions returns the subscriptions currently streaming on the connection.
func (c *Conn) Subscriptions() map[*Stream]*subscription.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[*Stream]*subscription.Subscription, len(c.streams))
	for st, sub := range c.streams {
		out[st] = sub
	}
	return out
}

// Touch records client activity on every subscription of the connection.
func (c *Conn) Touch() {
	for _, sub := range c.Subscriptions() {
		sub.Touch()
	}
}

// Close closes the socket. Calling it more than once is safe.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Stream is the transport of one subscription on a shared connection. Closing it
// detaches the subscription without closing the socket.
type Stream struct {
	conn   *Conn
	once   sync.Once
	closed chan struct{}
}

func (s *Stream) Send(ctx context.Context, msg any) error {
	if s.isClosed() {
		return ErrConnClosed
	}
	return s.conn.write(ctx, msg)
}

func (s *Stream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.conn.detach(s)
	})
	return nil
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
