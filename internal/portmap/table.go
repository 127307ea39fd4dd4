package portmap

import (
	"errors"
	"net/netip"
	"sync"
)

// ErrTableFull is returned when all portmap slots are taken.
var ErrTableFull = errors.New("portmap table full")

type slot struct {
	valid   bool
	mapping Mapping
}

// Table is the fixed-size NAT portmap table.
type Table struct {
	mu    sync.RWMutex
	slots [MaxEntries]slot
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// AddPortMapping stores m. An existing mapping for the same protocol and
// external port is overwritten; otherwise the first free slot is used.
func (t *Table) AddPortMapping(m Mapping) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		s := t.slots[i].mapping
		if t.slots[i].valid && s.Protocol == m.Protocol && s.ExternalPort == m.ExternalPort {
			t.slots[i].mapping = m
			return nil
		}
	}
	for i := range t.slots {
		if !t.slots[i].valid {
			t.slots[i] = slot{valid: true, mapping: m}
			return nil
		}
	}
	return ErrTableFull
}

// UpdateAddress rewrites the mapping address of every valid slot. No other
// field is touched and empty slots stay empty.
func (t *Table) UpdateAddress(addr netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].valid {
			t.slots[i].mapping.MappingAddress = addr
		}
	}
}

// Entries returns a copy of the valid mappings in slot order.
func (t *Table) Entries() []Mapping {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Mapping, 0, MaxEntries)
	for _, s := range t.slots {
		if s.valid {
			out = append(out, s.mapping)
		}
	}
	return out
}

// Len returns the number of valid slots.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, s := range t.slots {
		if s.valid {
			n++
		}
	}
	return n
}

// Reset empties the table.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots = [MaxEntries]slot{}
}
