package hub

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var errClosedConn = errors.New("use of closed network connection")

type readResult struct {
	data []byte
	err  error
}

type controlFrame struct {
	kind int
	data []byte
}

// fakeTransport is an in-memory Transport. Reads are fed through inbound;
// writes and control frames are recorded.
type fakeTransport struct {
	inbound   chan readResult
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	writes    [][]byte
	controls  []controlFrame
	writeErr  error
	pingErr   error
	block     chan struct{}
	readLimit int64
	pong      func(string) error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan readResult, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case r := <-f.inbound:
		if r.err != nil {
			return 0, nil, r.err
		}
		f.mu.Lock()
		limit := f.readLimit
		f.mu.Unlock()
		if limit > 0 && int64(len(r.data)) > limit {
			return 0, nil, websocket.ErrReadLimit
		}
		return websocket.TextMessage, r.data, nil
	case <-f.closed:
		return 0, nil, errClosedConn
	}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-f.closed:
			return errClosedConn
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) WriteControl(kind int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == websocket.PingMessage && f.pingErr != nil {
		return f.pingErr
	}
	f.controls = append(f.controls, controlFrame{kind: kind, data: data})
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) SetReadLimit(limit int64) {
	f.mu.Lock()
	f.readLimit = limit
	f.mu.Unlock()
}

func (f *fakeTransport) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	f.pong = h
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) send(data string) {
	f.inbound <- readResult{data: []byte(data)}
}

func (f *fakeTransport) fail(err error) {
	f.inbound <- readResult{err: err}
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// closeCode returns the code of the recorded close frame, or 0 if none was sent.
func (f *fakeTransport) closeCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.controls {
		if c.kind == websocket.CloseMessage && len(c.data) >= 2 {
			return int(binary.BigEndian.Uint16(c.data[:2]))
		}
	}
	return 0
}

func (f *fakeTransport) pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.controls {
		if c.kind == websocket.PingMessage {
			n++
		}
	}
	return n
}

func (f *fakeTransport) firePong() {
	f.mu.Lock()
	h := f.pong
	f.mu.Unlock()
	if h != nil {
		_ = h("")
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitClosed(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection %s was not closed", c.ID())
	}
}
