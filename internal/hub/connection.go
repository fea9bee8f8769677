package hub

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Connection is one live WebSocket peer registered with a Hub.
type Connection struct {
	id          string
	addr        string
	hub         *Hub
	transport   Transport
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	reason      atomic.Value
	connectedAt time.Time
	lastSeen    atomic.Int64
	limiter     *rate.Limiter
}

func newConnection(h *Hub, t Transport, addr string) *Connection {
	now := h.now()
	perSecond := rate.Limit(float64(h.opts.RateLimitBurst) / h.opts.RateLimitInterval.Seconds())
	c := &Connection{
		id:          uuid.NewString(),
		addr:        addr,
		hub:         h,
		transport:   t,
		send:        make(chan []byte, h.opts.SendQueueSize),
		done:        make(chan struct{}),
		connectedAt: now,
		limiter:     rate.NewLimiter(perSecond, h.opts.RateLimitBurst),
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string { return c.id }

// Addr returns the peer's remote address.
func (c *Connection) Addr() string { return c.addr }

// LastActivity returns the time of the last inbound frame or pong.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Done is closed once the connection has left the live set.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Reason returns why the connection was closed, or "" while it is live.
func (c *Connection) Reason() CloseReason {
	r, _ := c.reason.Load().(CloseReason)
	return r
}

func (c *Connection) touch() {
	c.lastSeen.Store(c.hub.now().UnixNano())
}

// shutdown stops the pumps, sends the close frame for reason when it has
// one and releases the transport. It reports whether this call did the work.
func (c *Connection) shutdown(reason CloseReason) bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.reason.Store(reason)
		close(c.done)

		if code := reason.closeCode(); code != 0 {
			msg := websocket.FormatCloseMessage(code, string(reason))
			deadline := time.Now().Add(c.hub.opts.WriteTimeout)
			if err := c.transport.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
				c.hub.log.Debug("close frame not delivered", "id", c.id, "addr", c.addr, "error", err)
			}
		}
		if err := c.transport.Close(); err != nil && !isExpectedCloseError(err) {
			c.hub.log.Debug("error closing connection", "id", c.id, "addr", c.addr, "error", err)
		}
	})
	return first
}

func (c *Connection) readPump() {
	c.transport.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.transport.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	for {
		_, raw, err := c.transport.ReadMessage()
		if err != nil {
			c.hub.Close(c, c.classifyReadError(err))
			return
		}
		c.touch()

		if !c.limiter.AllowN(c.hub.now(), 1) {
			c.hub.metrics.dropped.Inc()
			c.hub.log.Warn("rate limit exceeded; discarding message",
				"id", c.id,
				"addr", c.addr,
				"burst", c.hub.opts.RateLimitBurst,
				"interval", c.hub.opts.RateLimitInterval,
			)
			continue
		}
		c.hub.handleInbound(c, raw)
	}
}

// classifyReadError maps a read failure to the reason the connection is
// being closed.
func (c *Connection) classifyReadError(err error) CloseReason {
	select {
	case <-c.done:
		return c.Reason()
	default:
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.hub.log.Warn("message exceeded maximum size", "id", c.id, "addr", c.addr, "limit", c.hub.opts.MaxMessageSize)
		return ReasonProtocolError
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return ReasonClientInitiated
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		return ReasonClientInitiated
	default:
		c.hub.log.Info("websocket read error", "id", c.id, "addr", c.addr, "error", err)
		return ReasonTransportError
	}
}

func (c *Connection) writePump() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.write(payload); err != nil {
				if !isExpectedCloseError(err) {
					c.hub.log.Info("websocket write error", "id", c.id, "addr", c.addr, "error", err)
				}
				c.hub.Close(c, ReasonTransportError)
				return
			}
		}
	}
}

func (c *Connection) write(payload []byte) error {
	if err := c.transport.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.transport.WriteMessage(websocket.TextMessage, payload)
}
