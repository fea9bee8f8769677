package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chathub/internal/events"
)

const maxResponseBytes = 4 << 20

// Errors returned by HTTPClient.
var (
	ErrLoginFailed  = errors.New("dashboard: invalid credentials")
	ErrUnauthorized = errors.New("dashboard: session missing or expired")
)

// dataPaths maps pages to their data snapshot endpoints.
var dataPaths = map[string]string{
	PageDashboard: "/admin/api/metrics",
	PageMessages:  "/admin/api/events/message_update",
	PageUsers:     "/admin/api/events/user_update",
	PageLogs:      "/admin/api/events/log_update",
	PageChannels:  "/admin/api/events/channel_update",
}

// HTTPClient talks to a chathub server's admin surface. It implements
// Fetcher and EventSource, carrying the session cookie obtained by Login.
type HTTPClient struct {
	base   *url.URL
	http   *http.Client
	dialer websocket.Dialer
}

// NewHTTPClient returns a client for the server at baseURL, e.g.
// "http://localhost:3000".
func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server URL %q must use http or https", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &HTTPClient{
		base: base,
		http: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func (c *HTTPClient) url(path string) string {
	return c.base.String() + path
}

// Login posts the credentials and keeps the session cookie.
func (c *HTTPClient) Login(ctx context.Context, username, password string) error {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/admin/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode != http.StatusFound {
		return fmt.Errorf("login: unexpected status %s", resp.Status)
	}
	loc, err := resp.Location()
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if loc.Query().Has("error") {
		return ErrLoginFailed
	}
	return nil
}

func (c *HTTPClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusFound && strings.Contains(resp.Header.Get("Location"), "login"):
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("GET %s: unexpected status %s", path, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// FetchPage returns the HTML fragment of page.
func (c *HTTPClient) FetchPage(ctx context.Context, page string) (string, error) {
	body, err := c.get(ctx, "/admin/api/pages/"+url.PathEscape(page))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchData returns the JSON data snapshot of page, or nil for pages that
// have none.
func (c *HTTPClient) FetchData(ctx context.Context, page string) (json.RawMessage, error) {
	path, ok := dataPaths[page]
	if !ok {
		return nil, nil
	}
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("GET %s: response is not JSON", path)
	}
	return json.RawMessage(body), nil
}

// Connect dials the admin WebSocket with the session cookie.
func (c *HTTPClient) Connect(ctx context.Context) (Stream, error) {
	wsURL := *c.base
	wsURL.Scheme = "ws"
	if c.base.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path += "/admin/ws"

	header := http.Header{}
	cookieURL := *c.base
	cookieURL.Path += "/admin/ws"
	for _, ck := range c.http.Jar.Cookies(&cookieURL) {
		header.Add("Cookie", ck.String())
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL.String(), err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

// Next returns the next decodable event. Frames that are not events are
// skipped.
func (s *wsStream) Next() (events.Event, error) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		ev, err := events.Decode(raw)
		if err != nil {
			continue
		}
		return ev, nil
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
