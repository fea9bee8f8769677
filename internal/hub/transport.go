package hub

import (
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the part of *websocket.Conn the hub relies on. WriteMessage is
// only ever called from a connection's write pump; WriteControl and Close may
// be called concurrently with it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Transport = (*websocket.Conn)(nil)

// Errors returned by Accept.
var (
	ErrCapacityExceeded = errors.New("hub: connection capacity exceeded")
	ErrHubClosed        = errors.New("hub: shutting down")
)

// CloseReason records why a connection left the live set.
type CloseReason string

// Close reasons.
const (
	ReasonClientInitiated CloseReason = "client-initiated"
	ReasonTimeout         CloseReason = "timeout"
	ReasonCapacity        CloseReason = "capacity"
	ReasonShutdown        CloseReason = "server-shutdown"
	ReasonTransportError  CloseReason = "transport-error"
	ReasonSendOverflow    CloseReason = "send-overflow"
	ReasonProtocolError   CloseReason = "protocol-error"
)

// closeCode is the WebSocket close code sent to the peer, or 0 when no close
// frame should be attempted because the peer is already gone.
func (r CloseReason) closeCode() int {
	switch r {
	case ReasonCapacity:
		return websocket.CloseTryAgainLater
	case ReasonShutdown:
		return websocket.CloseGoingAway
	case ReasonTimeout, ReasonSendOverflow:
		return websocket.ClosePolicyViolation
	case ReasonProtocolError:
		return websocket.CloseMessageTooBig
	default:
		return 0
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
