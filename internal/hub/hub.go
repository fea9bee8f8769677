// Package hub owns the set of live WebSocket connections and is the only
// source of outbound broadcast traffic.
//
// Registry mutations (accept, close) and broadcast iteration are serialized
// by a single mutex, so a broadcast never races a connection being removed.
// Each connection has a bounded send queue drained by its own write pump;
// a connection whose queue is full is disconnected instead of stalling
// delivery to the others.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/events"
)

const defaultWriteTimeout = 10 * time.Second

// Options holds the hub limits.
type Options struct {
	MaxConnections    int
	IdleTimeout       time.Duration
	HeartbeatInterval time.Duration
	SendQueueSize     int
	MaxMessageSize    int64
	RateLimitBurst    int
	RateLimitInterval time.Duration
	WriteTimeout      time.Duration
}

// OptionsFromConfig derives hub limits from the runtime configuration.
func OptionsFromConfig(cfg config.RuntimeConfig) Options {
	return Options{
		MaxConnections:    cfg.MaxConnections,
		IdleTimeout:       cfg.IdleTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		SendQueueSize:     cfg.SendQueueSize,
		MaxMessageSize:    cfg.MaxMessageSize,
		RateLimitBurst:    cfg.RateLimitBurst,
		RateLimitInterval: cfg.RateLimitInterval,
	}
}

func (o Options) withDefaults() Options {
	d := config.Default()
	if o.MaxConnections <= 0 {
		o.MaxConnections = d.MaxConnections
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = d.SendQueueSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.RateLimitBurst <= 0 {
		o.RateLimitBurst = d.RateLimitBurst
	}
	if o.RateLimitInterval <= 0 {
		o.RateLimitInterval = d.RateLimitInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	return o
}

// InboundHandler receives typed events decoded from client messages.
type InboundHandler func(c *Connection, ev events.Event)

// Option customizes a Hub.
type Option func(*Hub)

// WithClock overrides the time source used for activity tracking.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithRegisterer registers the hub's Prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Hub) { h.registerer = reg }
}

// WithInboundHandler routes decoded client events to fn.
func WithInboundHandler(fn InboundHandler) Option {
	return func(h *Hub) { h.inbound = fn }
}

// WithHistory records every broadcast event in history.
func WithHistory(history *events.History) Option {
	return func(h *Hub) { h.history = history }
}

// Hub manages all WebSocket connections and handles event broadcasting.
type Hub struct {
	opts       Options
	log        *slog.Logger
	now        func() time.Time
	registerer prometheus.Registerer
	metrics    *metrics
	history    *events.History
	inbound    InboundHandler

	mu     sync.Mutex
	conns  map[string]*Connection
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Hub ready to accept connections.
func New(opts Options, logger *slog.Logger, options ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		opts:   opts.withDefaults(),
		log:    logger.With("component", "hub"),
		now:    time.Now,
		conns:  make(map[string]*Connection),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range options {
		opt(h)
	}
	if h.history == nil {
		h.history = events.NewHistory(0)
	}
	h.metrics = newMetrics(h.registerer)
	return h
}

// MaxConnections returns the configured connection limit.
func (h *Hub) MaxConnections() int {
	return h.opts.MaxConnections
}

// History returns the recent broadcast history.
func (h *Hub) History() *events.History {
	return h.history
}

// Accept registers a new connection over t and starts its pumps. Once the
// live count has reached the limit the transport is closed with a
// try-again-later close frame and ErrCapacityExceeded is returned.
func (h *Hub) Accept(t Transport, addr string) (*Connection, error) {
	c := newConnection(h, t, addr)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.reject(c, ReasonShutdown)
		return nil, ErrHubClosed
	}
	if len(h.conns) >= h.opts.MaxConnections {
		h.mu.Unlock()
		h.reject(c, ReasonCapacity)
		return nil, ErrCapacityExceeded
	}
	h.conns[c.id] = c
	count := len(h.conns)
	h.wg.Add(2)
	h.mu.Unlock()

	h.metrics.accepted.Inc()
	h.metrics.active.Set(float64(count))
	h.log.Info("connection accepted", "id", c.id, "addr", addr, "active", count, "max", h.opts.MaxConnections)

	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	return c, nil
}

func (h *Hub) reject(c *Connection, reason CloseReason) {
	h.metrics.rejected.Inc()
	c.shutdown(reason)
	h.log.Info("connection closed", "id", c.id, "addr", c.addr, "reason", string(reason))
}

// Broadcast encodes ev once and queues it on every live connection. It
// returns the number of connections the event was queued for. Connections
// whose send queue is full are closed with ReasonSendOverflow.
func (h *Hub) Broadcast(ev events.Event) (int, error) {
	payload, err := events.Encode(ev)
	if err != nil {
		return 0, err
	}
	h.history.Add(ev)
	h.metrics.broadcasts.WithLabelValues(ev.Kind().String()).Inc()

	var overflow []*Connection
	queued := 0

	h.mu.Lock()
	for _, c := range h.conns {
		select {
		case c.send <- payload:
			queued++
		default:
			overflow = append(overflow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range overflow {
		h.Close(c, ReasonSendOverflow)
	}

	h.log.Debug("broadcast", "type", ev.Kind().String(), "queued", queued, "dropped", len(overflow))
	return queued, nil
}

// Close removes c from the live set, releases its transport and logs the
// closure. Only the first call for a connection has any effect.
func (h *Hub) Close(c *Connection, reason CloseReason) {
	h.mu.Lock()
	delete(h.conns, c.id)
	count := len(h.conns)
	h.mu.Unlock()

	if !c.shutdown(reason) {
		return
	}

	h.metrics.active.Set(float64(count))
	h.metrics.closed.WithLabelValues(string(reason)).Inc()
	h.log.Info("connection closed",
		"id", c.id,
		"addr", c.addr,
		"reason", string(reason),
		"duration", h.now().Sub(c.connectedAt),
		"active", count,
	)
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Connections returns a snapshot of the live connections.
func (h *Hub) Connections() []*Connection {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// Run drives the heartbeat sweep until ctx is cancelled or the hub shuts
// down. It should be called in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	h.log.Info("hub started",
		"max_connections", h.opts.MaxConnections,
		"heartbeat", h.opts.HeartbeatInterval,
		"idle_timeout", h.opts.IdleTimeout,
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Sweep closes connections idle for longer than the idle timeout and pings
// the rest. It returns the number of connections closed for inactivity.
func (h *Hub) Sweep() int {
	now := h.now()
	timedOut := 0
	for _, c := range h.Connections() {
		if now.Sub(c.LastActivity()) > h.opts.IdleTimeout {
			h.Close(c, ReasonTimeout)
			timedOut++
			continue
		}
		if err := c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
			if !isExpectedCloseError(err) {
				h.log.Debug("heartbeat failed", "id", c.id, "addr", c.addr, "error", err)
			}
			h.Close(c, ReasonTransportError)
		}
	}
	return timedOut
}

// Shutdown stops accepting connections, closes every live connection with
// ReasonShutdown and waits for their goroutines to finish, or until the
// timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.log.Info("initiating hub shutdown")
	h.cancel()

	conns := h.Connections()
	for _, c := range conns {
		h.Close(c, ReasonShutdown)
	}
	h.log.Info("closed client connections", "count", len(conns))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

func (h *Hub) handleInbound(c *Connection, raw []byte) {
	h.metrics.inbound.Inc()
	h.log.Info("message received", "id", c.id, "addr", c.addr, "bytes", len(raw))

	if h.inbound == nil {
		return
	}
	ev, err := events.Decode(raw)
	if err != nil {
		h.log.Info("invalid message", "id", c.id, "addr", c.addr, "error", err)
		return
	}
	h.inbound(c, ev)
}
