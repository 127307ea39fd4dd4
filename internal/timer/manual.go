package timer

import "time"

type manualSlot struct {
	armed     bool
	repeating bool
	period    time.Duration
	deadline  time.Duration
	fn        func()
}

// Manual is a deterministic Scheduler driven by Advance. Callbacks run on the
// goroutine calling Advance or Fire, which stands in for the run loop.
type Manual struct {
	now     time.Duration
	slots   [numSlots]manualSlot
	failArm map[Slot]error
	fired   map[Slot]int
}

// NewManual returns a Manual scheduler at time zero.
func NewManual() *Manual {
	return &Manual{
		failArm: make(map[Slot]error),
		fired:   make(map[Slot]int),
	}
}

// Arm implements Scheduler.
func (m *Manual) Arm(slot Slot, delay time.Duration, repeating bool, fn func()) error {
	if err := checkArm(slot, delay, repeating); err != nil {
		return err
	}
	if err, ok := m.failArm[slot]; ok {
		delete(m.failArm, slot)
		return err
	}
	m.slots[slot] = manualSlot{
		armed:     true,
		repeating: repeating,
		period:    delay,
		deadline:  m.now + delay,
		fn:        fn,
	}
	return nil
}

// Disarm implements Scheduler.
func (m *Manual) Disarm(slot Slot) {
	if slot.valid() {
		m.slots[slot] = manualSlot{}
	}
}

// Armed implements Scheduler.
func (m *Manual) Armed(slot Slot) bool {
	return slot.valid() && m.slots[slot].armed
}

// Period implements Scheduler.
func (m *Manual) Period(slot Slot) time.Duration {
	if !slot.valid() {
		return 0
	}
	return m.slots[slot].period
}

// Now returns the elapsed virtual time.
func (m *Manual) Now() time.Duration {
	return m.now
}

// Fired returns how many times slot has fired.
func (m *Manual) Fired(slot Slot) int {
	return m.fired[slot]
}

// FailNextArm makes the next Arm of slot return err.
func (m *Manual) FailNextArm(slot Slot, err error) {
	m.failArm[slot] = err
}

// Advance moves virtual time forward by d, firing every expiry in deadline
// order. Ties fire in slot order.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	for {
		next, ok := m.nextDue(target)
		if !ok {
			break
		}
		m.now = m.slots[next].deadline
		m.fire(next)
	}
	m.now = target
}

// Fire runs slot immediately as if it had expired. It returns false when the
// slot is absent.
func (m *Manual) Fire(slot Slot) bool {
	if !m.Armed(slot) {
		return false
	}
	m.fire(slot)
	return true
}

func (m *Manual) nextDue(target time.Duration) (Slot, bool) {
	found := false
	var best Slot
	for _, slot := range Slots {
		st := m.slots[slot]
		if !st.armed || st.deadline > target {
			continue
		}
		if !found || st.deadline < m.slots[best].deadline {
			best = slot
			found = true
		}
	}
	return best, found
}

func (m *Manual) fire(slot Slot) {
	st := &m.slots[slot]
	fn := st.fn
	if st.repeating {
		st.deadline = m.now + st.period
	} else {
		*st = manualSlot{}
	}
	m.fired[slot]++
	fn()
}
