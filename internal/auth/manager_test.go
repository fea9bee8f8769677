package auth

import (
	"bytes"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	return string(hash)
}

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m, err := NewManager("admin", testHash(t, "s3cret"), time.Hour,
		WithClock(clock.Now), WithRetention(2*time.Hour))
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	return m, clock
}

func TestLoginSuccess(t *testing.T) {
	m, clock := newTestManager(t)

	s, err := m.Login("admin", "s3cret")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if len(s.Token) < 40 {
		t.Errorf("expected a long random token, got %q", s.Token)
	}
	if !s.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("expected expiry one hour after issue, got %v", s.ExpiresAt)
	}

	other, err := m.Login("admin", "s3cret")
	if err != nil {
		t.Fatalf("second Login returned error: %v", err)
	}
	if other.Token == s.Token {
		t.Error("expected distinct tokens per login")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	m, _ := newTestManager(t)

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "admin", "nope"},
		{"unknown user", "mallory", "s3cret"},
		{"both wrong", "mallory", "nope"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Login(tc.username, tc.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
			if err.Error() != ErrInvalidCredentials.Error() {
				t.Errorf("error text must not reveal which part failed: %q", err.Error())
			}
		})
	}
}

func TestLoginWithoutConfiguredHashAlwaysFails(t *testing.T) {
	m, err := NewManager("admin", "", time.Hour)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	if _, err := m.Login("admin", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestNewManagerRejectsMalformedHash(t *testing.T) {
	if _, err := NewManager("admin", "not-a-bcrypt-hash", time.Hour); err == nil {
		t.Error("expected error for malformed hash")
	}
}

func TestValidateOutcomesAreExhaustive(t *testing.T) {
	m, clock := newTestManager(t)

	valid, err := m.Login("admin", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	expiring, err := m.Login("admin", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	loggedOut, err := m.Login("admin", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	m.Logout(loggedOut.Token)

	if _, err := m.Validate(valid.Token); err != nil {
		t.Errorf("expected fresh token to validate, got %v", err)
	}

	clock.Advance(time.Hour)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"lifetime passed", expiring.Token, ErrExpired},
		{"lifetime passed for first token too", valid.Token, ErrExpired},
		{"never issued", "bogus-token", ErrNotFound},
		{"empty token", "", ErrNotFound},
		{"invalidated by logout", loggedOut.Token, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(tt.token)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			for _, other := range []error{ErrExpired, ErrNotFound, ErrInvalidCredentials} {
				if other != tt.want && errors.Is(err, other) {
					t.Errorf("outcome %v must not also match %v", err, other)
				}
			}
		})
	}
}

func TestExpiredSessionStaysExpiredUntilPurged(t *testing.T) {
	m, clock := newTestManager(t)
	s, err := m.Login("admin", "s3cret")
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(90 * time.Minute)
	for i := 0; i < 3; i++ {
		if _, err := m.Validate(s.Token); !errors.Is(err, ErrExpired) {
			t.Fatalf("validation %d: expected ErrExpired, got %v", i, err)
		}
	}
	if removed := m.Purge(); removed != 0 {
		t.Errorf("session within retention must not be purged, removed %d", removed)
	}

	clock.Advance(3 * time.Hour)
	if removed := m.Purge(); removed != 1 {
		t.Errorf("expected 1 purged session, got %d", removed)
	}
	if _, err := m.Validate(s.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after purge, got %v", err)
	}
}

func TestPurgeAfterDefaultRetention(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m, err := NewManager("admin", testHash(t, "s3cret"), time.Hour, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	s, err := m.Login("admin", "s3cret")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		advance     time.Duration
		wantRemoved int
		want        error
	}{
		{2 * time.Hour, 0, ErrExpired},
		{22 * time.Hour, 0, ErrExpired},
		{2 * time.Hour, 1, ErrNotFound},
		{time.Hour, 0, ErrNotFound},
	}
	for i, tt := range tests {
		clock.Advance(tt.advance)
		if removed := m.Purge(); removed != tt.wantRemoved {
			t.Errorf("step %d: expected %d purged, got %d", i, tt.wantRemoved, removed)
		}
		if _, err := m.Validate(s.Token); !errors.Is(err, tt.want) {
			t.Errorf("step %d: expected %v, got %v", i, tt.want, err)
		}
	}
}

func TestLoginTokenComesFromRandomSource(t *testing.T) {
	dummy := bytes.Repeat([]byte{0xAA}, 16)
	first := bytes.Repeat([]byte{0x01}, 32)
	second := make([]byte, 32)
	for i := range second {
		second[i] = byte(i)
	}
	source := bytes.NewReader(bytes.Join([][]byte{dummy, first, second}, nil))

	m, err := NewManager("admin", testHash(t, "s3cret"), time.Hour, WithRandom(source))
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	for i, want := range [][]byte{first, second} {
		s, err := m.Login("admin", "s3cret")
		if err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
		if s.Token != base64.RawURLEncoding.EncodeToString(want) {
			t.Errorf("login %d: unexpected token %q", i, s.Token)
		}
		if _, err := m.Validate(s.Token); err != nil {
			t.Errorf("login %d: token does not validate: %v", i, err)
		}
	}

	if _, err := m.Login("admin", "s3cret"); err == nil {
		t.Error("expected an error once the random source is exhausted")
	}
	if m.Active() != 2 {
		t.Errorf("failed login must not add a session, got %d active", m.Active())
	}
}

func TestNewManagerFailsWithoutEntropy(t *testing.T) {
	_, err := NewManager("admin", testHash(t, "s3cret"), time.Hour, WithRandom(bytes.NewReader(nil)))
	if err == nil {
		t.Fatal("expected an error from an empty random source")
	}
}

func TestActiveCountsUnexpiredSessions(t *testing.T) {
	m, clock := newTestManager(t)
	if _, err := m.Login("admin", "s3cret"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(30 * time.Minute)
	if _, err := m.Login("admin", "s3cret"); err != nil {
		t.Fatal(err)
	}
	if got := m.Active(); got != 2 {
		t.Errorf("expected 2 active sessions, got %d", got)
	}
	clock.Advance(45 * time.Minute)
	if got := m.Active(); got != 1 {
		t.Errorf("expected 1 active session, got %d", got)
	}
}

func TestConcurrentLoginAndValidate(t *testing.T) {
	m, _ := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Login("admin", "s3cret")
			if err != nil {
				t.Errorf("Login returned error: %v", err)
				return
			}
			if _, err := m.Validate(s.Token); err != nil {
				t.Errorf("Validate returned error: %v", err)
			}
			m.Logout(s.Token)
		}()
	}
	wg.Wait()

	if got := m.Active(); got != 0 {
		t.Errorf("expected no active sessions, got %d", got)
	}
}

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	m, err := NewManager("admin", hash, time.Hour)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	if _, err := m.Login("admin", "hunter2"); err != nil {
		t.Errorf("expected login with hashed password to succeed, got %v", err)
	}
}
