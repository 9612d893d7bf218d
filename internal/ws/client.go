package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// SendQueueSize bounds the per-connection outbound queue. A full queue
	// marks the consumer too slow to keep and the connection is closed.
	SendQueueSize = 256

	writeTimeout = 10 * time.Second
)

// Client is one live participant stream bound to a session. The identity
// fields come from the verified token and the durable participant row, never
// from frames sent on the stream.
type Client struct {
	UserID       string
	SessionID    string
	DisplayName  string
	AvatarColor  string
	RemoteAddr   string
	ConnectedAt  time.Time

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	closeCode   int
	closeReason string
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, userID, sessionID, displayName, avatarColor string) *Client {
	return &Client{
		UserID:      userID,
		SessionID:   sessionID,
		DisplayName: displayName,
		AvatarColor: avatarColor,
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, SendQueueSize),
		done:        make(chan struct{}),
	}
}

// TrySend enqueues a frame without blocking. Returns false when the
// outbound queue is full or the client is closed.
func (c *Client) TrySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close requests teardown exactly once. The write pump drains any frames
// already queued, sends a close frame with the given reason and drops the
// socket.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// Done is closed when the client has been shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WritePump drains the outbound queue onto the socket. It runs in its own
// goroutine, owns all writes to the connection and is responsible for
// closing the socket once Close has been requested.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case payload := <-c.send:
			if !c.write(payload) {
				return
			}
		case <-c.done:
			c.drain()
			deadline := time.Now().Add(time.Second)
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

func (c *Client) write(payload []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.Close(websocket.CloseAbnormalClosure, "write failed")
		return false
	}
	return true
}

// drain flushes frames queued before close was requested, so terminal
// frames like session_ended still reach the client.
func (c *Client) drain() {
	for {
		select {
		case payload := <-c.send:
			if !c.write(payload) {
				return
			}
		default:
			return
		}
	}
}

// ReadPump reads inbound frames and hands them to handle until the
// connection drops. It runs on the upgrade handler's goroutine.
func (c *Client) ReadPump(handle func(raw []byte)) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.Close(websocket.CloseNormalClosure, "")
			return
		}
		handle(raw)
	}
}
