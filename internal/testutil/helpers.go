// Package testutil provides helpers shared by the package tests: HTTP and
// WebSocket clients, response assertions, seeded admin roots and quiet
// loggers.
package testutil

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/logging"
	"github.com/Tyrowin/chathub/web"
)

// Logger returns a console-only logger writing to w, or discarding output
// when w is nil.
func Logger(t *testing.T, w io.Writer) *logging.Logger {
	t.Helper()
	if w == nil {
		w = io.Discard
	}
	l := logging.New(logging.Options{Level: config.LevelDebug, Console: w})
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// AdminRoot seeds the default admin tree into a temporary directory and
// returns its path.
func AdminRoot(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "admin")
	if _, err := web.Seed(dir); err != nil {
		t.Fatalf("Failed to seed admin root: %v", err)
	}
	return dir
}

// HashPassword returns a low-cost bcrypt hash suitable for tests.
func HashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	return string(hash)
}

// Client returns an HTTP client with a cookie jar that does not follow
// redirects, so tests can inspect 302 responses.
func Client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	return &http.Client{
		Jar:     jar,
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Get issues a GET request with client and fails the test on transport errors.
func Get(t *testing.T, client *http.Client, url string) *http.Response {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// Body reads and returns the response body.
func Body(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return string(data)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks that the Content-Type header starts with expected.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// AssertRedirect checks for a 302 response to location.
func AssertRedirect(t *testing.T, resp *http.Response, location string) {
	t.Helper()
	AssertStatusCode(t, resp, http.StatusFound)
	if got := resp.Header.Get("Location"); got != location {
		t.Errorf("Expected redirect to %s, got %s", location, got)
	}
}

// WebSocketURL converts an http:// base URL into the ws:// URL for path.
func WebSocketURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

// ConnectWebSocket dials url with the given headers.
func ConnectWebSocket(url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// WaitFor polls cond until it holds or two seconds pass.
func WaitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
