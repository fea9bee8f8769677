package server

import (
	"net/http"
	"path"
	"strings"
)

const adminPrefix = "/admin"

// routes builds the request dispatcher:
//
//	POST /admin/login            session login
//	/admin/logout                session logout
//	GET  /admin, /admin/         login page
//	GET  /admin/api/pages/{page} page fragment
//	GET  /admin/api/metrics      metrics snapshot
//	GET  /admin/api/events/{kind} recent events
//	GET  /admin/metrics          Prometheus exposition
//	/admin/ws                    WebSocket upgrade
//	/admin/...                   static assets
//	everything else              status page
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)

	if !s.cfg.AdminEnabled {
		mux.Handle(adminPrefix, http.NotFoundHandler())
		mux.Handle(adminPrefix+"/", http.NotFoundHandler())
		return s.logRequests(mux)
	}

	mux.HandleFunc("GET "+adminPrefix, s.handleLoginPage)
	mux.HandleFunc("GET "+adminPrefix+"/{$}", s.handleLoginPage)
	mux.HandleFunc("POST "+adminPrefix+"/login", s.handleLogin)
	mux.HandleFunc(adminPrefix+"/logout", s.handleLogout)
	mux.HandleFunc(adminPrefix+"/ws", s.requireAPISession(s.handleWebSocket))
	mux.HandleFunc("GET "+adminPrefix+"/api/pages/{page}", s.requireAPISession(s.handlePageFragment))
	mux.HandleFunc("GET "+adminPrefix+"/api/metrics", s.requireAPISession(s.handleMetricsSnapshot))
	mux.HandleFunc("GET "+adminPrefix+"/api/events/{kind}", s.requireAPISession(s.handleRecentEvents))
	mux.Handle("GET "+adminPrefix+"/metrics", s.requireAPISession(s.metricsHandler().ServeHTTP))
	mux.HandleFunc(adminPrefix+"/", s.handleAsset)

	return s.logRequests(s.containAdminPaths(mux))
}

// containAdminPaths sends admin paths that are not in canonical form straight
// to the asset handler, so traversal attempts are answered by its
// containment check instead of a mux redirect.
func (s *Server) containAdminPaths(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if strings.HasPrefix(p, adminPrefix+"/") && !isCleanPath(p) {
			s.handleAsset(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isCleanPath(p string) bool {
	cleaned := path.Clean(p)
	return cleaned == p || cleaned+"/" == p
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Info("http request",
			"remote", r.RemoteAddr,
			"method", r.Method,
			"path", r.URL.Path,
			"user_agent", r.UserAgent(),
		)
		s.requests.WithLabelValues(r.Method).Inc()
		next.ServeHTTP(w, r)
	})
}
