package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	outboundQueueSize = 64
	writeWait         = 10 * time.Second
)

// socket is the transport under a Conn. Satisfied by *websocket.Conn and by
// test fakes.
type socket interface {
	WriteJSON(v any) error
	Close() error
}

// deadlineSocket is implemented by transports that support write deadlines.
type deadlineSocket interface {
	SetWriteDeadline(t time.Time) error
}

// Conn is one authenticated client connection. All emission goes through a
// bounded outbound queue drained by a single writer goroutine, which keeps
// frames for one exchange in emission order.
type Conn struct {
	id          string
	userID      string
	connectedAt time.Time

	sock socket
	out  chan Frame

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an upgraded transport for a verified user.
func NewConn(sock socket, userID string) *Conn {
	return &Conn{
		id:          uuid.NewString(),
		userID:      userID,
		connectedAt: time.Now(),
		sock:        sock,
		out:         make(chan Frame, outboundQueueSize),
		done:        make(chan struct{}),
	}
}

func (c *Conn) ID() string             { return c.id }
func (c *Conn) UserID() string         { return c.userID }
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// Send queues a frame for delivery. Delivery is at-most-once: when the
// outbound queue is full or the connection is closed the frame is dropped and
// Send reports false.
func (c *Conn) Send(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- f:
		return true
	case <-c.done:
		return false
	default:
		slog.Warn("outbound queue full, dropping frame",
			"conn_id", c.id, "user_id", c.userID, "event", f.Event)
		return false
	}
}

// WritePump drains the outbound queue onto the socket. Run it in its own
// goroutine; it returns when the connection closes or a write fails.
func (c *Conn) WritePump() {
	for {
		select {
		case f := <-c.out:
			if ds, ok := c.sock.(deadlineSocket); ok {
				_ = ds.SetWriteDeadline(time.Now().Add(writeWait))
			}
			if err := c.sock.WriteJSON(f); err != nil {
				slog.Debug("write failed, closing connection",
					"conn_id", c.id, "user_id", c.userID, "err", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close()
	})
}

// Done is closed when the connection shuts down.
func (c *Conn) Done() <-chan struct{} { return c.done }
