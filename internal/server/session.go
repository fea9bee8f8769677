package server

import (
	"errors"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/Tyrowin/chathub/internal/auth"
)

const (
	sessionCookie      = "admin_session"
	loginPage          = adminPrefix + "/login.html"
	dashboardPage      = adminPrefix + "/dashboard.html"
	invalidCredentials = "Invalid credentials"
	maxLoginFormBytes  = 1 << 16
)

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, filepath.Join(s.cfg.AdminRoot, "login.html"))
}

// handleLogin exchanges form credentials for a session cookie. Failures never
// say which part of the credential was wrong.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginFormBytes)
	if err := r.ParseForm(); err != nil {
		s.log.Info("malformed login form", "remote", r.RemoteAddr, "error", err)
		s.redirectToLogin(w, r, invalidCredentials)
		return
	}

	session, err := s.auth.Login(r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.log.Error("login failed", "remote", r.RemoteAddr, "error", err)
		} else {
			s.log.Warn("admin login failed", "remote", r.RemoteAddr)
		}
		s.redirectToLogin(w, r, invalidCredentials)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.Token,
		Path:     adminPrefix,
		MaxAge:   int(s.auth.TTL().Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	s.log.Info("admin login succeeded", "remote", r.RemoteAddr, "username", session.Username)
	http.Redirect(w, r, dashboardPage, http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if s.auth.Logout(c.Value) {
			s.log.Info("admin logged out", "remote", r.RemoteAddr)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     adminPrefix,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	http.Redirect(w, r, loginPage, http.StatusFound)
}

func (s *Server) redirectToLogin(w http.ResponseWriter, r *http.Request, message string) {
	target := loginPage
	if message != "" {
		target += "?error=" + url.PathEscape(message)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// hasSession reports whether r carries a valid admin session, or whether
// sessions are not required at all.
func (s *Server) hasSession(r *http.Request) bool {
	if !s.cfg.AuthRequired {
		return true
	}
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	if _, err := s.auth.Validate(c.Value); err != nil {
		s.log.Debug("session rejected", "remote", r.RemoteAddr, "error", err)
		return false
	}
	return true
}

// requireAPISession answers 401 to requests without a valid session.
func (s *Server) requireAPISession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.hasSession(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
