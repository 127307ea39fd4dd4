// Package timer provides a fixed pool of purpose-indexed timer slots.
//
// Each slot is owned by exactly one component and is either armed or absent.
// Arming an armed slot replaces the pending callback, so a component can never
// hold two live timers for the same purpose. Disarming an absent slot is a
// no-op, which keeps every teardown path idempotent.
package timer

import (
	"errors"
	"time"
)

// Slot identifies the purpose of a timer.
type Slot uint8

const (
	// ProvisioningTimeout bounds each provisioning phase.
	ProvisioningTimeout Slot = iota
	// ProvisioningPoll drives the orchestrator's session poll.
	ProvisioningPoll
	// Watchdog drives the connection supervisor.
	Watchdog
	// Blink toggles the status LED while provisioning.
	Blink

	numSlots
)

// Slots lists every slot in pool order.
var Slots = []Slot{ProvisioningTimeout, ProvisioningPoll, Watchdog, Blink}

// String returns a human-readable slot name.
func (s Slot) String() string {
	switch s {
	case ProvisioningTimeout:
		return "provisioning_timeout"
	case ProvisioningPoll:
		return "provisioning_poll"
	case Watchdog:
		return "watchdog"
	case Blink:
		return "blink"
	default:
		return "unknown"
	}
}

func (s Slot) valid() bool {
	return s < numSlots
}

// Timer errors.
var (
	ErrClosed       = errors.New("timer service closed")
	ErrInvalidSlot  = errors.New("invalid timer slot")
	ErrInvalidDelay = errors.New("repeating timer needs a positive period")
)

// Scheduler arms and disarms slots. Callbacks are delivered on the run loop,
// never concurrently with each other.
type Scheduler interface {
	// Arm schedules fn after delay, replacing anything pending in the slot.
	// A repeating slot fires every delay until disarmed.
	Arm(slot Slot, delay time.Duration, repeating bool, fn func()) error

	// Disarm cancels the slot. Safe when the slot is absent.
	Disarm(slot Slot)

	// Armed reports whether the slot is currently scheduled.
	Armed(slot Slot) bool

	// Period returns the delay the slot was last armed with, or 0 when absent.
	Period(slot Slot) time.Duration
}

// ArmedSlots returns the armed slots of s in pool order.
func ArmedSlots(s Scheduler) []Slot {
	var out []Slot
	for _, slot := range Slots {
		if s.Armed(slot) {
			out = append(out, slot)
		}
	}
	return out
}

func checkArm(slot Slot, delay time.Duration, repeating bool) error {
	if !slot.valid() {
		return ErrInvalidSlot
	}
	if repeating && delay <= 0 {
		return ErrInvalidDelay
	}
	return nil
}
