package timer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualOneShotFiresOnce(t *testing.T) {
	m := NewManual()
	calls := 0
	require.NoError(t, m.Arm(ProvisioningTimeout, 30*time.Second, false, func() { calls++ }))
	assert.True(t, m.Armed(ProvisioningTimeout))
	assert.Equal(t, 30*time.Second, m.Period(ProvisioningTimeout))

	m.Advance(29 * time.Second)
	assert.Equal(t, 0, calls)

	m.Advance(time.Second)
	assert.Equal(t, 1, calls)
	assert.False(t, m.Armed(ProvisioningTimeout))
	assert.Zero(t, m.Period(ProvisioningTimeout))

	m.Advance(time.Minute)
	assert.Equal(t, 1, calls)
}

func TestManualRepeatingFiresEveryPeriod(t *testing.T) {
	m := NewManual()
	calls := 0
	require.NoError(t, m.Arm(ProvisioningPoll, 500*time.Millisecond, true, func() { calls++ }))

	m.Advance(2 * time.Second)
	assert.Equal(t, 4, calls)
	assert.True(t, m.Armed(ProvisioningPoll))
	assert.Equal(t, 4, m.Fired(ProvisioningPoll))
}

func TestManualRearmReplacesPending(t *testing.T) {
	m := NewManual()
	first, second := 0, 0
	require.NoError(t, m.Arm(Watchdog, time.Second, false, func() { first++ }))
	require.NoError(t, m.Arm(Watchdog, 2*time.Second, false, func() { second++ }))

	m.Advance(3 * time.Second)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestManualDisarmAbsentIsNoop(t *testing.T) {
	m := NewManual()
	m.Disarm(Blink)
	m.Disarm(Blink)
	assert.False(t, m.Armed(Blink))
	assert.Empty(t, ArmedSlots(m))
}

func TestManualCallbackMayDisarmItself(t *testing.T) {
	m := NewManual()
	calls := 0
	require.NoError(t, m.Arm(ProvisioningPoll, time.Second, true, func() {
		calls++
		if calls == 2 {
			m.Disarm(ProvisioningPoll)
		}
	}))

	m.Advance(10 * time.Second)
	assert.Equal(t, 2, calls)
	assert.False(t, m.Armed(ProvisioningPoll))
}

func TestManualFiresInDeadlineOrder(t *testing.T) {
	m := NewManual()
	var order []Slot
	require.NoError(t, m.Arm(Watchdog, 3*time.Second, false, func() { order = append(order, Watchdog) }))
	require.NoError(t, m.Arm(Blink, time.Second, false, func() { order = append(order, Blink) }))
	require.NoError(t, m.Arm(ProvisioningTimeout, 2*time.Second, false, func() { order = append(order, ProvisioningTimeout) }))

	m.Advance(5 * time.Second)
	assert.Equal(t, []Slot{Blink, ProvisioningTimeout, Watchdog}, order)
}

func TestManualFailNextArm(t *testing.T) {
	m := NewManual()
	boom := errors.New("no timer")
	m.FailNextArm(Watchdog, boom)

	assert.ErrorIs(t, m.Arm(Watchdog, time.Second, true, func() {}), boom)
	assert.False(t, m.Armed(Watchdog))
	assert.NoError(t, m.Arm(Watchdog, time.Second, true, func() {}))
}

func TestArmRejectsInvalidInput(t *testing.T) {
	m := NewManual()
	assert.ErrorIs(t, m.Arm(Slot(42), time.Second, false, func() {}), ErrInvalidSlot)
	assert.ErrorIs(t, m.Arm(Blink, 0, true, func() {}), ErrInvalidDelay)
}

func TestManualFire(t *testing.T) {
	m := NewManual()
	calls := 0
	assert.False(t, m.Fire(Blink))
	require.NoError(t, m.Arm(Blink, time.Hour, false, func() { calls++ }))
	assert.True(t, m.Fire(Blink))
	assert.Equal(t, 1, calls)
	assert.False(t, m.Armed(Blink))
}

func TestSlotString(t *testing.T) {
	assert.Equal(t, "watchdog", Watchdog.String())
	assert.Equal(t, "provisioning_poll", ProvisioningPoll.String())
	assert.Equal(t, "unknown", Slot(99).String())
}

// queuePost hands expiries to a channel the test drains, standing in for the
// run loop.
func queuePost(ch chan func()) func(func()) bool {
	return func(fn func()) bool {
		ch <- fn
		return true
	}
}

func TestServiceDeliversThroughPost(t *testing.T) {
	ch := make(chan func(), 4)
	s := NewService(queuePost(ch))
	defer s.Close()

	fired := false
	require.NoError(t, s.Arm(ProvisioningTimeout, 5*time.Millisecond, false, func() { fired = true }))

	select {
	case fn := <-ch:
		fn()
	case <-time.After(time.Second):
		t.Fatal("timer never posted")
	}
	assert.True(t, fired)
	assert.False(t, s.Armed(ProvisioningTimeout))
}

func TestServiceDropsStaleFire(t *testing.T) {
	ch := make(chan func(), 4)
	s := NewService(queuePost(ch))
	defer s.Close()

	fired := false
	require.NoError(t, s.Arm(Blink, time.Millisecond, false, func() { fired = true }))

	var stale func()
	select {
	case stale = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timer never posted")
	}

	// Disarmed after the expiry was queued but before the loop ran it.
	s.Disarm(Blink)
	stale()
	assert.False(t, fired)
}

func TestServiceRepeating(t *testing.T) {
	ch := make(chan func(), 4)
	s := NewService(queuePost(ch))
	defer s.Close()

	calls := 0
	require.NoError(t, s.Arm(ProvisioningPoll, 2*time.Millisecond, true, func() { calls++ }))

	for i := 0; i < 3; i++ {
		select {
		case fn := <-ch:
			fn()
		case <-time.After(time.Second):
			t.Fatal("repeating timer stalled")
		}
	}
	assert.Equal(t, 3, calls)
	assert.True(t, s.Armed(ProvisioningPoll))
	assert.Equal(t, 2*time.Millisecond, s.Period(ProvisioningPoll))
}

func TestServiceClose(t *testing.T) {
	s := NewService(func(func()) bool { return true })
	require.NoError(t, s.Arm(Watchdog, time.Hour, true, func() {}))
	s.Close()

	assert.False(t, s.Armed(Watchdog))
	assert.ErrorIs(t, s.Arm(Watchdog, time.Hour, true, func() {}), ErrClosed)
}
