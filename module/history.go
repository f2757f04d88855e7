package module

import (
	"sync"
	"time"

	"github.com/CrisisTextLine/modular"
)

// DefaultHistoryCapacity is the history ring size used when the config does
// not set one.
const DefaultHistoryCapacity = 100

// HistoryEntry is one recorded inbound message.
type HistoryEntry struct {
	Timestamp string         `json:"timestamp"`
	Message   map[string]any `json:"message"`
}

// MessageHistory keeps the most recent inbound messages in memory, newest
// first. It is bounded: inserts beyond capacity age out the oldest entry.
// Nothing is persisted.
type MessageHistory struct {
	name string

	mu       sync.Mutex
	capacity int
	entries  []HistoryEntry
}

// NewMessageHistory creates a MessageHistory module with the given capacity.
func NewMessageHistory(name string, capacity int) *MessageHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &MessageHistory{name: name, capacity: capacity}
}

// Name returns the module name.
func (h *MessageHistory) Name() string {
	return h.name
}

// Init registers the history as a service.
func (h *MessageHistory) Init(app modular.Application) error {
	return app.RegisterService("message.history", h)
}

// Add records a message at the head of the ring with the receive time.
func (h *MessageHistory) Add(message map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry := HistoryEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Message:   message,
	}
	entries := make([]HistoryEntry, 0, len(h.entries)+1)
	entries = append(entries, entry)
	entries = append(entries, h.entries...)
	if len(entries) > h.capacity {
		entries = entries[:h.capacity]
	}
	h.entries = entries
}

// Entries returns up to limit entries, newest first.
func (h *MessageHistory) Entries(limit int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit < 0 {
		limit = 0
	}
	if limit > len(h.entries) {
		limit = len(h.entries)
	}
	out := make([]HistoryEntry, limit)
	copy(out, h.entries[:limit])
	return out
}

// Len returns the number of recorded entries.
func (h *MessageHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// SetCapacity adjusts the ring size, trimming the oldest entries if the
// ring shrinks below its current length.
func (h *MessageHistory) SetCapacity(capacity int) {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.capacity = capacity
	if len(h.entries) > capacity {
		h.entries = h.entries[:capacity]
	}
}
