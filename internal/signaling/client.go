// Package signaling maintains the WebSocket connection to the pairing relay.
// The client owns exactly one logical connection identified by a pairing code
// and redials it after a fixed short delay whenever it drops; exponential
// backoff for the full peer connection happens one layer up.
package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairlink/pairlink/internal/timers"
	"github.com/pairlink/pairlink/pkg/protocol"
)

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

const writeTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	URL          string // full WebSocket URL, see BuildRelayURL
	PingInterval time.Duration
	RedialDelay  time.Duration
	Logger       *slog.Logger

	// OnConnected fires after the socket opens and the ready frame is sent.
	OnConnected func()
	// OnDisconnected fires once per connection loss, before the redial is
	// scheduled.
	OnDisconnected func()
	// OnMessage receives every parsed relay frame except keepalive traffic.
	OnMessage func(env protocol.Envelope)
}

// Client is a relay connection with keepalive and automatic redial. Send is
// best-effort: frames are silently dropped while the socket is not open.
type Client struct {
	opts      Options
	logger    *slog.Logger
	keepalive *timers.Ticker
	redial    *timers.Timer

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	closed     bool
}

// NewClient creates a client. Connect must be called to establish the link.
func NewClient(opts Options) *Client {
	direct := func(fn func()) { fn() }
	return &Client{
		opts:      opts,
		logger:    opts.Logger,
		keepalive: timers.NewTicker(direct),
		redial:    timers.NewTimer(direct),
	}
}

// Connect establishes the relay connection. Idempotent: while an attempt is
// in flight or a connection is open, further calls are no-ops.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.connecting || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.mu.Unlock()

	go c.dial()
}

// Connected reports whether the socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes an envelope to the relay. If the socket is not open the frame
// is dropped; the caller must not assume delivery.
func (c *Client) Send(env protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.logger.Debug("dropping signaling frame, socket not open", "type", env.Type)
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(env); err != nil {
		c.logger.Warn("signaling write failed", "type", env.Type, "error", err)
	}
}

// Close tears the client down permanently: keepalive and any scheduled redial
// are cancelled and the socket is closed. The client cannot be reused.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.keepalive.Stop()
	c.redial.Stop()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) dial() {
	conn, _, err := dialer.Dial(c.opts.URL, nil)

	c.mu.Lock()
	c.connecting = false
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("relay dial failed", "error", err)
		c.scheduleRedial()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	// The relay only starts forwarding peer-presence events after ready.
	c.sendType(protocol.TypeReady)
	c.keepalive.Start(c.opts.PingInterval, func() {
		c.sendType(protocol.TypePing)
	})

	if c.opts.OnConnected != nil {
		c.opts.OnConnected()
	}

	go c.readLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("relay read error", "error", err)
			}
			c.handleDisconnect(conn)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		env, err := protocol.Decode(message)
		if err != nil {
			c.logger.Warn("invalid signaling frame", "error", err)
			continue
		}

		switch env.Type {
		case protocol.TypePing:
			c.sendType(protocol.TypePong)
		case protocol.TypePong:
			// keepalive reply, nothing to do
		default:
			if c.opts.OnMessage != nil {
				c.opts.OnMessage(env)
			}
		}
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.mu.Lock()
	// A stale read loop from an already-replaced connection must not tear
	// down its successor.
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	c.keepalive.Stop()

	if closed {
		return
	}
	if c.opts.OnDisconnected != nil {
		c.opts.OnDisconnected()
	}
	c.scheduleRedial()
}

func (c *Client) scheduleRedial() {
	c.redial.Arm(c.opts.RedialDelay, func() {
		c.Connect()
	})
}

func (c *Client) sendType(msgType string) {
	env, err := protocol.NewEnvelope(msgType, nil)
	if err != nil {
		return
	}
	c.Send(env)
}
