package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"regexp"

	"github.com/Tyrowin/chathub/internal/events"
)

var pageIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// metricsResponse is the body of GET /admin/api/metrics.
type metricsResponse struct {
	ActiveConnections int     `json:"activeConnections"`
	MaxConnections    int     `json:"maxConnections"`
	MessagesCount     int64   `json:"messagesCount"`
	MemoryUsage       uint64  `json:"memoryUsage"`
	Uptime            float64 `json:"uptime"`
}

func (s *Server) handlePageFragment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("page")
	if !pageIDPattern.MatchString(id) {
		http.NotFound(w, r)
		return
	}
	s.serveFile(w, r, filepath.Join(s.cfg.AdminRoot, "pages", id+".html"))
}

func (s *Server) handleMetricsSnapshot(w http.ResponseWriter, _ *http.Request) {
	m := s.snapshot()
	s.writeJSON(w, metricsResponse{
		ActiveConnections: m.ActiveConnections,
		MaxConnections:    m.MaxConnections,
		MessagesCount:     m.MessagesCount,
		MemoryUsage:       m.MemoryUsage,
		Uptime:            m.Uptime,
	})
}

// handleRecentEvents returns the retained events of one kind, oldest first.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	kind, err := events.ParseKind(r.PathValue("kind"))
	if err != nil {
		if errors.Is(err, events.ErrUnknownKind) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	recent := s.hub.History().Recent(kind)
	if kind == events.KindMetrics && len(recent) == 0 {
		recent = []events.Event{s.snapshot()}
	}
	s.writeJSON(w, recent)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.log.Error("error encoding JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	setSecurityHeaders(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(body); err != nil {
		s.log.Debug("error writing JSON response", "error", err)
	}
}
