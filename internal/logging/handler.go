package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tyrowin/chathub/internal/config"
)

// handler adapts slog records to LogEntry values. Attributes become the entry
// detail; groups are flattened into dotted keys.
type handler struct {
	logger *Logger
	attrs  []slog.Attr
	group  string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.Enabled(config.LevelFromSlog(level))
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var detail map[string]any
	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		detail = make(map[string]any, len(h.attrs)+r.NumAttrs())
	}
	for _, a := range h.attrs {
		addAttr(detail, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(detail, h.group, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = h.logger.now()
	}
	h.logger.write(LogEntry{
		Timestamp: ts,
		Level:     config.LevelFromSlog(r.Level).String(),
		Message:   r.Message,
		Detail:    detail,
	})
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &handler{logger: h.logger, group: h.group}
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return next
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &handler{logger: h.logger, attrs: h.attrs, group: group}
}

func addAttr(detail map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	switch {
	case prefix == "":
	case key == "":
		key = prefix
	default:
		key = prefix + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			addAttr(detail, key, ga)
		}
	case slog.KindDuration:
		detail[key] = a.Value.Duration().String()
	case slog.KindTime:
		detail[key] = a.Value.Time().Format(time.RFC3339Nano)
	default:
		v := a.Value.Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		detail[key] = v
	}
}
