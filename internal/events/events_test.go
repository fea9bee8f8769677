package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEncodeEnvelope(t *testing.T) {
	raw, err := Encode(Metrics{ActiveConnections: 3, MessagesCount: 12, MemoryUsage: 2048, Uptime: 1.5})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("encoded event is not JSON: %v", err)
	}
	if got["type"] != "metrics" {
		t.Errorf("expected type metrics, got %v", got["type"])
	}
	data, ok := got["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %T", got["data"])
	}
	if data["activeConnections"] != float64(3) {
		t.Errorf("expected activeConnections 3, got %v", data["activeConnections"])
	}
}

func TestDecodeEveryKind(t *testing.T) {
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		ev   Event
	}{
		{"metrics", Metrics{ActiveConnections: 1}},
		{"user_update", UserUpdate{UserID: "u1", Action: "joined"}},
		{"message_update", MessageUpdate{Channel: "general", Content: "hi", Timestamp: ts}},
		{"log_update", LogUpdate{Level: "warn", Message: "disk", Timestamp: ts}},
		{"channel_update", ChannelUpdate{ChannelID: "c1", Action: "created"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.ev)
			if err != nil {
				t.Fatalf("Encode returned error: %v", err)
			}
			got, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode returned error: %v", err)
			}
			if got.Kind() != tt.ev.Kind() {
				t.Errorf("expected kind %s, got %s", tt.ev.Kind(), got.Kind())
			}
			if got.Kind().String() != tt.name {
				t.Errorf("expected wire name %s, got %s", tt.name, got.Kind())
			}
		})
	}
}

func TestDecodeMessageUpdatePayload(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"message_update","data":{"channel":"general","sender":"ana","content":"hello"}}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	msg, ok := ev.(MessageUpdate)
	if !ok {
		t.Fatalf("expected MessageUpdate, got %T", ev)
	}
	if msg.Content != "hello" || msg.Sender != "ana" || msg.Channel != "general" {
		t.Errorf("unexpected payload %+v", msg)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `hello`, ErrMalformed},
		{"unknown type", `{"type":"shutdown","data":{}}`, ErrUnknownKind},
		{"missing type", `{"data":{}}`, ErrUnknownKind},
		{"payload of wrong shape", `{"type":"metrics","data":"fast"}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodeMissingDataYieldsZeroPayload(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"user_update"}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if _, ok := ev.(UserUpdate); !ok {
		t.Errorf("expected UserUpdate, got %T", ev)
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := Encode(nil); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestHistoryKeepsMostRecentPerKind(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(MessageUpdate{Content: string(rune('a' + i))})
	}
	h.Add(UserUpdate{UserID: "u"})

	msgs := h.Recent(KindMessageUpdate)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 retained messages, got %d", len(msgs))
	}
	if msgs[0].(MessageUpdate).Content != "c" || msgs[2].(MessageUpdate).Content != "e" {
		t.Errorf("unexpected retained window %+v", msgs)
	}
	if len(h.Recent(KindUserUpdate)) != 1 {
		t.Error("kinds must be retained independently")
	}
	if len(h.Recent(KindChannelUpdate)) != 0 {
		t.Error("expected no channel events")
	}

	if len(h.Recent(KindLogUpdate)) != 0 {
		t.Error("expected no log events")
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
}
