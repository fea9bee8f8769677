package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Tyrowin/chathub/internal/auth"
	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/events"
	"github.com/Tyrowin/chathub/internal/hub"
	"github.com/Tyrowin/chathub/internal/logging"
)

const (
	shutdownTimeout = 5 * time.Second
	purgeInterval   = time.Minute
	logFeedSize     = 64
)

// ErrBind is wrapped by errors returned when the listen address cannot be bound.
var ErrBind = errors.New("server: bind failed")

// Option customizes a Server.
type Option func(*Server)

// WithClock overrides the time source used for uptime and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithAuthManager replaces the session manager built from the configuration.
func WithAuthManager(m *auth.Manager) Option {
	return func(s *Server) { s.auth = m }
}

// Server serves the status page, the admin surface and the admin WebSocket
// endpoint backed by a connection hub.
type Server struct {
	cfg      config.RuntimeConfig
	logger   *logging.Logger
	log      *slog.Logger
	now      func() time.Time
	started  time.Time
	auth     *auth.Manager
	hub      *hub.Hub
	registry *prometheus.Registry
	origins  originPolicy
	upgrader websocket.Upgrader
	handler  http.Handler
	messages atomic.Int64
	requests *prometheus.CounterVec
	logFeed  chan logging.LogEntry

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

// New builds a Server from cfg. Log output goes to logger, whose warn and
// error entries are also pushed to connected dashboards.
func New(cfg config.RuntimeConfig, logger *logging.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		log:      logger.Slog().With("component", "server"),
		now:      time.Now,
		registry: prometheus.NewRegistry(),
		logFeed:  make(chan logging.LogEntry, logFeedSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()

	if s.auth == nil {
		m, err := auth.NewManager(cfg.AdminUsername, cfg.AdminPasswordHash, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("create session manager: %w", err)
		}
		s.auth = m
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.registerMetrics()

	s.hub = hub.New(hub.OptionsFromConfig(cfg), logger.Slog(),
		hub.WithClock(s.now),
		hub.WithRegisterer(s.registry),
		hub.WithInboundHandler(s.handleInbound),
		hub.WithHistory(events.NewHistory(0)),
	)

	s.origins = newOriginPolicy(cfg.Origins(), s.log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.handler = s.routes()

	logger.OnEntry(s.mirrorLogEntry)
	return s, nil
}

// Hub returns the server's connection hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Auth returns the server's session manager.
func (s *Server) Auth() *auth.Manager {
	return s.auth
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the configured address. Errors wrap ErrBind.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBind, s.cfg.Addr(), err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound listen address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listen address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the HTTP server and the background feeds on the bound listener
// until ctx is cancelled, then shuts down: the HTTP listener first, then
// every hub connection with a server-shutdown close.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	if ln == nil {
		s.mu.Unlock()
		return errors.New("server: Serve called before Listen")
	}
	s.httpServer = CreateServer(ln.Addr().String(), s.handler)
	httpServer := s.httpServer
	s.mu.Unlock()

	bgCtx, stopBackground := context.WithCancel(ctx)
	var bg sync.WaitGroup
	for _, run := range []func(context.Context){s.hub.Run, s.publishMetrics, s.forwardLogs, s.purgeSessions} {
		bg.Add(1)
		go func(run func(context.Context)) {
			defer bg.Done()
			run(bgCtx)
		}(run)
	}

	s.log.Info("server listening",
		"addr", ln.Addr().String(),
		"admin", s.cfg.AdminEnabled,
		"auth_required", s.cfg.AuthRequired,
		"max_connections", s.cfg.MaxConnections,
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- StartServer(httpServer, ln)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	if shutdownErr := ShutdownServer(httpServer, shutdownTimeout, s.log); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	if hubErr := s.hub.Shutdown(shutdownTimeout); hubErr != nil {
		s.log.Warn("hub shutdown incomplete", "error", hubErr)
	}
	s.logger.OnEntry(nil)
	stopBackground()
	bg.Wait()
	return err
}

// snapshot returns the current server health metrics.
func (s *Server) snapshot() events.Metrics {
	return events.Metrics{
		ActiveConnections: s.hub.Count(),
		MaxConnections:    s.hub.MaxConnections(),
		MessagesCount:     s.messages.Load(),
		MemoryUsage:       memoryUsage(),
		Uptime:            s.now().Sub(s.started).Seconds(),
	}
}
