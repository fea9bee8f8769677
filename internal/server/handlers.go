package server

import (
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/Tyrowin/chathub/internal/hub"
)

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>ChatHub Server</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        dt { font-weight: bold; margin-top: 8px; }
    </style>
</head>
<body>
    <h1>ChatHub Server</h1>
    <dl>
        <dt>Status</dt><dd>Running</dd>
        <dt>WebSocket</dt><dd>{{.WebSocketURL}}</dd>
        <dt>Connections</dt><dd>Active Clients: {{.Active}}/{{.Max}}</dd>
        <dt>Started</dt><dd>{{.Started}}</dd>
    </dl>
</body>
</html>
`))

type statusView struct {
	WebSocketURL string
	Active       int
	Max          int
	Started      string
}

// handleStatus serves the public status page. It only reads in-memory
// counters and never fails.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	view := statusView{
		WebSocketURL: scheme + "://" + r.Host + adminPrefix + "/ws",
		Active:       s.hub.Count(),
		Max:          s.hub.MaxConnections(),
		Started:      s.started.Format(time.RFC1123),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	setSecurityHeaders(w.Header())
	if err := statusTemplate.Execute(w, view); err != nil {
		s.log.Debug("error writing status page", "error", err)
	}
}

// handleWebSocket upgrades the request and hands the connection to the hub.
// At capacity the hub closes the new connection with a try-again-later frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	if _, err := s.hub.Accept(conn, r.RemoteAddr); err != nil {
		switch {
		case errors.Is(err, hub.ErrCapacityExceeded):
			s.log.Warn("websocket connection rejected at capacity", "remote", r.RemoteAddr, "max", s.hub.MaxConnections())
		case errors.Is(err, hub.ErrHubClosed):
			s.log.Info("websocket connection rejected during shutdown", "remote", r.RemoteAddr)
		default:
			s.log.Error("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		}
	}
}
