package events

import (
	"strings"
	"sync"
)

// RingBuffer keeps the most recent events in emission order.
type RingBuffer struct {
	mu     sync.RWMutex
	size   int
	events []Event
	index  int
	full   bool
}

func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		size:   size,
		events: make([]Event, size),
	}
}

func (rb *RingBuffer) Add(e Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.events[rb.index] = e
	rb.index = (rb.index + 1) % rb.size
	if rb.index == 0 {
		rb.full = true
	}
}

// Snapshot returns every buffered event, oldest first.
func (rb *RingBuffer) Snapshot() []Event {
	return rb.Last(0)
}

// Last returns up to n of the newest events whose name matches one of the
// prefixes, oldest first. n <= 0 means no limit; no prefixes match everything.
func (rb *RingBuffer) Last(n int, prefixes ...string) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	count := rb.index
	if rb.full {
		count = rb.size
	}
	if n <= 0 || n > count {
		n = count
	}

	// Walk backwards from the newest entry.
	picked := make([]Event, 0, n)
	for i := 0; i < count && len(picked) < n; i++ {
		e := rb.events[(rb.index-1-i+rb.size)%rb.size]
		if Matches(e.Name, prefixes) {
			picked = append(picked, e)
		}
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

// Len returns the number of buffered events.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return rb.size
	}
	return rb.index
}

// Clear drops every buffered event.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = make([]Event, rb.size)
	rb.index = 0
	rb.full = false
}

// Matches reports whether name starts with one of prefixes. An empty prefix
// list matches every name.
func Matches(name string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
