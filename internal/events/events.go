// Package events defines the typed events pushed from the connection hub to
// every live WebSocket connection and consumed by the admin dashboard.
//
// On the wire an event is the JSON object {"type": <kind>, "data": <payload>}.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the Event variants.
type Kind int

// Event kinds.
const (
	KindMetrics Kind = iota + 1
	KindUserUpdate
	KindMessageUpdate
	KindLogUpdate
	KindChannelUpdate
)

// Kinds lists every event kind in declaration order.
var Kinds = []Kind{KindMetrics, KindUserUpdate, KindMessageUpdate, KindLogUpdate, KindChannelUpdate}

func (k Kind) String() string {
	switch k {
	case KindMetrics:
		return "metrics"
	case KindUserUpdate:
		return "user_update"
	case KindMessageUpdate:
		return "message_update"
	case KindLogUpdate:
		return "log_update"
	case KindChannelUpdate:
		return "channel_update"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind returns the Kind named by s.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Errors returned by Decode.
var (
	ErrUnknownKind = errors.New("events: unknown event type")
	ErrMalformed   = errors.New("events: malformed event")
)

// Event is one of Metrics, UserUpdate, MessageUpdate, LogUpdate or
// ChannelUpdate. The interface is sealed.
type Event interface {
	Kind() Kind
	sealed()
}

// Metrics is a snapshot of server health.
type Metrics struct {
	ActiveConnections int     `json:"activeConnections"`
	MaxConnections    int     `json:"maxConnections,omitempty"`
	MessagesCount     int64   `json:"messagesCount"`
	MemoryUsage       uint64  `json:"memoryUsage"`
	Uptime            float64 `json:"uptime"`
}

// UserUpdate reports a change to a chat user.
type UserUpdate struct {
	UserID string          `json:"userId"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// MessageUpdate reports a new or changed chat message.
type MessageUpdate struct {
	MessageID string    `json:"messageId,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// LogUpdate mirrors a server log entry.
type LogUpdate struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// ChannelUpdate reports a change to a chat channel.
type ChannelUpdate struct {
	ChannelID string          `json:"channelId"`
	Name      string          `json:"name,omitempty"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (Metrics) Kind() Kind       { return KindMetrics }
func (UserUpdate) Kind() Kind    { return KindUserUpdate }
func (MessageUpdate) Kind() Kind { return KindMessageUpdate }
func (LogUpdate) Kind() Kind     { return KindLogUpdate }
func (ChannelUpdate) Kind() Kind { return KindChannelUpdate }

func (Metrics) sealed()       {}
func (UserUpdate) sealed()    {}
func (MessageUpdate) sealed() {}
func (LogUpdate) sealed()     {}
func (ChannelUpdate) sealed() {}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes ev into its wire form.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformed)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", ev.Kind(), err)
	}
	return json.Marshal(envelope{Type: ev.Kind().String(), Data: data})
}

// Decode parses the wire form of an event.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	kind, err := ParseKind(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		env.Data = []byte("{}")
	}

	switch kind {
	case KindMetrics:
		return decodeAs[Metrics](env.Data)
	case KindUserUpdate:
		return decodeAs[UserUpdate](env.Data)
	case KindMessageUpdate:
		return decodeAs[MessageUpdate](env.Data)
	case KindLogUpdate:
		return decodeAs[LogUpdate](env.Data)
	case KindChannelUpdate:
		return decodeAs[ChannelUpdate](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
}

func decodeAs[T Event](data json.RawMessage) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, ev.Kind(), err)
	}
	return ev, nil
}
