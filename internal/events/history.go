package events

import "sync"

// History keeps the most recent events of each kind, oldest first.
type History struct {
	mu     sync.RWMutex
	limit  int
	byKind map[Kind][]Event
}

// NewHistory returns a History that retains up to limit events per kind.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 50
	}
	return &History{limit: limit, byKind: make(map[Kind][]Event)}
}

// Add records ev, evicting the oldest event of its kind when full.
func (h *History) Add(ev Event) {
	if ev == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.byKind[ev.Kind()], ev)
	if len(list) > h.limit {
		list = append(list[:0:0], list[len(list)-h.limit:]...)
	}
	h.byKind[ev.Kind()] = list
}

// Recent returns a copy of the retained events of kind k.
func (h *History) Recent(k Kind) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.byKind[k]
	out := make([]Event, len(list))
	copy(out, list)
	return out
}
