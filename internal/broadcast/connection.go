// A single live dashboard connection and its write pump.

package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Maximum inbound frame size.
	maxMessageSize = 4096
	// Outbound frames buffered per connection before it is treated as a slow consumer.
	sendBuffer = 64
)

type closeFrame struct {
	code   int
	reason string
}

// Connection is one live client. ID, identity and ConnectedAt never change after the handshake,
// everything else is guarded by the Registry.
type Connection struct {
	ID            string
	Authenticated bool
	UserID        string
	SessionID     string
	ConnectedAt   time.Time

	conn    *websocket.Conn
	send    chan []byte
	closing chan closeFrame
	done    chan struct{}
	once    sync.Once

	subscriptions         map[string]struct{}
	lastActivity          time.Time
	lastSessionValidation time.Time
}

// newConnection wraps conn, which may be nil when the connection is never pumped.
func newConnection(id string, conn *websocket.Conn, now time.Time) *Connection {
	return &Connection{
		ID:                    id,
		ConnectedAt:           now,
		conn:                  conn,
		send:                  make(chan []byte, sendBuffer),
		closing:               make(chan closeFrame, 1),
		done:                  make(chan struct{}),
		subscriptions:         make(map[string]struct{}),
		lastActivity:          now,
		lastSessionValidation: now,
	}
}

// enqueue never blocks. false means the frame was not queued and the connection should go.
func (c *Connection) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// discardQueued drops every frame still waiting for the write pump and returns how many.
func (c *Connection) discardQueued() int {
	n := 0
	for {
		select {
		case <-c.send:
			n++
		default:
			return n
		}
	}
}

// closeWith asks the write pump to flush what is queued, send a close frame and hang up.
func (c *Connection) closeWith(code int, reason string) {
	select {
	case c.closing <- closeFrame{code: code, reason: reason}:
	default:
	}
}

// terminate stops the write pump without a close handshake.
func (c *Connection) terminate() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once the connection has been terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) writePump(clock clockwork.Clock, pingInterval time.Duration) {
	ticker := clock.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.terminate()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}

		case frame := <-c.closing:
			c.flush()
			payload := websocket.FormatCloseMessage(frame.code, frame.reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(writeWait))
			return

		case <-ticker.Chan():
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// Writes whatever is still queued, used right before a close frame.
func (c *Connection) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
