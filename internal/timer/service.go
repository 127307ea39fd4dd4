package timer

import (
	"sync"
	"time"
)

type slotState struct {
	t         *time.Timer
	gen       uint64
	armed     bool
	repeating bool
	period    time.Duration
}

// Service is the wall-clock Scheduler. Expiries are handed to post, which is
// expected to enqueue them on the run loop. A fire that races with Disarm or a
// re-Arm is recognised by its generation and dropped.
type Service struct {
	mu     sync.Mutex
	post   func(func()) bool
	slots  [numSlots]slotState
	closed bool
}

// NewService creates a scheduler that delivers callbacks through post.
func NewService(post func(func()) bool) *Service {
	return &Service{post: post}
}

// Arm implements Scheduler.
func (s *Service) Arm(slot Slot, delay time.Duration, repeating bool, fn func()) error {
	if err := checkArm(slot, delay, repeating); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	st := &s.slots[slot]
	stopLocked(st)
	st.gen++
	st.armed = true
	st.repeating = repeating
	st.period = delay
	s.scheduleLocked(slot, st.gen, delay, fn)
	return nil
}

func (s *Service) scheduleLocked(slot Slot, gen uint64, delay time.Duration, fn func()) {
	s.slots[slot].t = time.AfterFunc(delay, func() {
		s.post(func() { s.fire(slot, gen, fn) })
	})
}

func (s *Service) fire(slot Slot, gen uint64, fn func()) {
	s.mu.Lock()
	st := &s.slots[slot]
	if !st.armed || st.gen != gen {
		s.mu.Unlock()
		return
	}
	if st.repeating {
		s.scheduleLocked(slot, gen, st.period, fn)
	} else {
		st.armed = false
		st.t = nil
		st.period = 0
	}
	s.mu.Unlock()

	fn()
}

// Disarm implements Scheduler.
func (s *Service) Disarm(slot Slot) {
	if !slot.valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stopLocked(&s.slots[slot])
}

func stopLocked(st *slotState) {
	if st.t != nil {
		st.t.Stop()
		st.t = nil
	}
	st.armed = false
	st.period = 0
	st.gen++
}

// Armed implements Scheduler.
func (s *Service) Armed(slot Slot) bool {
	if !slot.valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[slot].armed
}

// Period implements Scheduler.
func (s *Service) Period(slot Slot) time.Duration {
	if !slot.valid() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[slot].period
}

// Close disarms every slot and rejects further Arm calls.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		stopLocked(&s.slots[i])
	}
	s.closed = true
}
