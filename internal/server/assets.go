package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var errOutsideRoot = errors.New("path escapes asset root")

var contentTypes = map[string]string{
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
}

func contentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "text/plain"
}

func setSecurityHeaders(h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Content-Security-Policy", "default-src 'self'")
}

// resolveAsset maps a request path below the admin prefix to a file below
// root. It returns errOutsideRoot when the cleaned result is not contained
// in root.
func resolveAsset(root, requestPath string) (string, string, error) {
	if strings.ContainsRune(requestPath, 0) {
		return "", "", errOutsideRoot
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", "", err
	}

	rel := strings.TrimPrefix(requestPath, adminPrefix)
	rel = strings.TrimLeft(rel, "/")
	target := filepath.Join(absRoot, filepath.FromSlash(rel))

	inside, err := filepath.Rel(absRoot, target)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) || filepath.IsAbs(inside) {
		return "", "", errOutsideRoot
	}
	return target, filepath.ToSlash(inside), nil
}

// isPublicAsset reports whether rel may be served without a session.
func isPublicAsset(rel string) bool {
	return rel == "login.html" || strings.HasPrefix(rel, "static/")
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	target, rel, err := resolveAsset(s.cfg.AdminRoot, r.URL.Path)
	if err != nil {
		s.log.Warn("blocked asset path outside admin root", "path", r.URL.Path, "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if !isPublicAsset(rel) && !s.hasSession(r) {
		s.redirectToLogin(w, r, "")
		return
	}

	s.serveFile(w, r, target)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	info, err := os.Stat(name)
	if err != nil || info.IsDir() {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("asset stat failed", "path", name, "error", err)
		}
		http.NotFound(w, r)
		return
	}

	data, err := os.ReadFile(name)
	if err != nil {
		s.log.Error("asset read failed", "path", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	setSecurityHeaders(w.Header())
	w.Header().Set("Content-Type", contentTypeFor(name))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		s.log.Debug("asset write failed", "path", name, "error", err)
	}
}
