package server

import (
	"context"
	"time"

	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/events"
	"github.com/Tyrowin/chathub/internal/hub"
	"github.com/Tyrowin/chathub/internal/logging"
)

// handleInbound routes typed events sent by clients. Metrics and log events
// are produced by the server only and are dropped when a client sends them.
func (s *Server) handleInbound(c *hub.Connection, ev events.Event) {
	switch e := ev.(type) {
	case events.MessageUpdate:
		s.messages.Add(1)
		if e.Timestamp.IsZero() {
			e.Timestamp = s.now().UTC()
		}
		s.rebroadcast(c, e)
	case events.UserUpdate:
		s.rebroadcast(c, e)
	case events.ChannelUpdate:
		s.rebroadcast(c, e)
	case events.Metrics, events.LogUpdate:
		s.log.Info("rejected server-owned event from client", "id", c.ID(), "addr", c.Addr(), "type", ev.Kind().String())
	default:
		s.log.Info("unhandled event from client", "id", c.ID(), "addr", c.Addr(), "type", ev.Kind().String())
	}
}

func (s *Server) rebroadcast(c *hub.Connection, ev events.Event) {
	if _, err := s.hub.Broadcast(ev); err != nil {
		s.log.Error("broadcast failed", "id", c.ID(), "type", ev.Kind().String(), "error", err)
	}
}

// publishMetrics broadcasts a metrics snapshot every metrics interval.
func (s *Server) publishMetrics(ctx context.Context) {
	interval := s.cfg.MetricsInterval
	if interval <= 0 {
		interval = config.Default().MetricsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.hub.Broadcast(s.snapshot()); err != nil {
				s.log.Error("metrics broadcast failed", "error", err)
			}
		}
	}
}

// mirrorLogEntry queues warn and error entries for the dashboards. It runs
// inside the logger and must neither block nor log.
func (s *Server) mirrorLogEntry(entry logging.LogEntry) {
	level, err := config.ParseLevel(entry.Level)
	if err != nil || level < config.LevelWarn {
		return
	}
	select {
	case s.logFeed <- entry:
	default:
	}
}

func (s *Server) forwardLogs(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-s.logFeed:
			ev := events.LogUpdate{
				Timestamp: entry.Timestamp,
				Level:     entry.Level,
				Message:   entry.Message,
				Detail:    entry.Detail,
			}
			if _, err := s.hub.Broadcast(ev); err != nil {
				s.log.Debug("log broadcast failed", "error", err)
			}
		}
	}
}

// purgeSessions drops long-expired admin sessions.
func (s *Server) purgeSessions(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.auth.Purge(); n > 0 {
				s.log.Debug("purged expired sessions", "count", n)
			}
		}
	}
}
