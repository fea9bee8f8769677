// Package auth verifies the administrator credential and issues the opaque
// session tokens that gate the admin console.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTTL is the session lifetime when none is configured.
	DefaultTTL = time.Hour

	tokenBytes = 32
)

// Session is proof of a successful administrator login.
type Session struct {
	Token     string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session lifetime has passed at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Manager owns the administrator credential and the live session table.
type Manager struct {
	username  []byte
	hash      []byte
	dummyHash []byte
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
	random    io.Reader

	mu       sync.Mutex
	sessions map[string]Session
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRandom overrides the entropy source. NewManager reads 16 bytes for the
// dummy secret, then each Login reads 32 bytes for its token.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.random = r }
}

// WithRetention sets how long expired sessions are remembered (and reported
// as Expired rather than NotFound) before Purge forgets them.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// NewManager creates a Manager for the given administrator username and
// bcrypt password hash. A non-positive ttl selects DefaultTTL.
func NewManager(username, passwordHash string, ttl time.Duration, opts ...Option) (*Manager, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		username:  []byte(username),
		hash:      []byte(passwordHash),
		ttl:       ttl,
		retention: 24 * time.Hour,
		now:       time.Now,
		random:    rand.Reader,
		sessions:  make(map[string]Session),
	}
	for _, opt := range opts {
		opt(m)
	}

	cost := bcrypt.DefaultCost
	if c, err := bcrypt.Cost(m.hash); err == nil {
		cost = c
	} else if passwordHash != "" {
		return nil, fmt.Errorf("auth: invalid password hash: %w", err)
	}

	// Compared against when the username does not match so both failure
	// paths spend the same bcrypt work.
	secret := make([]byte, 16)
	if _, err := io.ReadFull(m.random, secret); err != nil {
		return nil, fmt.Errorf("auth: generate dummy secret: %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword(secret, cost)
	if err != nil {
		return nil, fmt.Errorf("auth: generate dummy hash: %w", err)
	}
	m.dummyHash = dummy
	return m, nil
}

// TTL returns the session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Login checks the credential and issues a new session. Any mismatch yields
// ErrInvalidCredentials.
func (m *Manager) Login(username, password string) (Session, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), m.username) == 1

	hash := m.hash
	if !userOK || len(hash) == 0 {
		hash = m.dummyHash
	}
	passErr := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if !userOK || len(m.hash) == 0 || passErr != nil {
		return Session{}, ErrInvalidCredentials
	}

	token, err := m.newToken()
	if err != nil {
		return Session{}, err
	}

	now := m.now()
	s := Session{
		Token:     token,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[token] = s
	m.mu.Unlock()
	return s, nil
}

// Validate returns the session for token, ErrExpired if its lifetime has
// passed, or ErrNotFound if it was never issued or has been invalidated.
// Once Purge has forgotten an expired session its token reports ErrNotFound.
func (m *Manager) Validate(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNotFound
	}

	m.mu.Lock()
	s, ok := m.sessions[token]
	m.mu.Unlock()

	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Expired(m.now()) {
		return s, ErrExpired
	}
	return s, nil
}

// Logout invalidates token. It reports whether a session was removed.
func (m *Manager) Logout(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[token]; !ok {
		return false
	}
	delete(m.sessions, token)
	return true
}

// Purge forgets sessions that expired more than the retention window ago
// and returns how many were removed. A purged token is indistinguishable from
// one that was never issued, so memory stays bounded by the retention window.
func (m *Manager) Purge() int {
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for token, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed
}

// Active returns the number of unexpired sessions.
func (m *Manager) Active() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sessions {
		if !s.Expired(now) {
			n++
		}
	}
	return n
}

func (m *Manager) newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(m.random, buf); err != nil {
		return "", fmt.Errorf("auth: generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashPassword returns the bcrypt hash stored as adminPasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// RandomPassword returns a random URL-safe password of n bytes of entropy.
func RandomPassword(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
