package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tradechat-backend/internal/models"
)

// A rune outside the BMP escapes to a \uXXXX\uXXXX surrogate pair.
const maxEscapedRuneBytes = 12

var (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize fits a send_message frame whose text is at the length
	// limit and fully escaped, plus the envelope, so an overlong text is
	// answered with message_error rather than a dropped connection.
	maxMessageSize int64 = models.MaxMessageText*maxEscapedRuneBytes + 4*1024
)

// Client is one realtime connection. Outbound events are queued on a bounded
// buffer drained by writePump; a full or closed buffer drops the event.
type Client struct {
	ID   uuid.UUID
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn. conn may be nil for clients driven directly through
// the Router, as in tests.
func NewClient(conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{
		ID:   uuid.New(),
		conn: conn,
		send: make(chan []byte, buffer),
	}
}

// Deliver queues msg without blocking and reports whether it was accepted.
func (c *Client) Deliver(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Outbound exposes queued events. It is closed once the client is closed.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Close stops delivery. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readPump feeds inbound frames to the router until the connection fails.
// The client leaves every room before the pump returns.
func (c *Client) readPump(r *Router) {
	log := r.log.With("client_id", c.ID)
	defer func() {
		r.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("connection closed unexpectedly", "error", err)
			} else {
				log.Debug("connection closed", "error", err)
			}
			return
		}
		r.HandleEvent(r.ctx, c, msg)
	}
}

// writePump writes queued events, one frame each, and keeps the connection
// alive with pings.
func (c *Client) writePump(log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("error writing message", "client_id", c.ID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("error writing ping message", "client_id", c.ID, "error", err)
				return
			}
		}
	}
}
