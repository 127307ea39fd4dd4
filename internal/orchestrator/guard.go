package orchestrator

import "sync"

// Trigger is the hardware activation source. While disarmed, presses are not
// delivered.
type Trigger interface {
	Arm() error
	Disarm()
}

// activationGuard is held from the accepted trigger until the last step of
// Disable. It is only touched on the run loop.
type activationGuard struct {
	held bool
}

// acquire takes the guard and reports whether it was free.
func (g *activationGuard) acquire() bool {
	if g.held {
		return false
	}
	g.held = true
	return true
}

// release frees the guard and reports whether it was held.
func (g *activationGuard) release() bool {
	was := g.held
	g.held = false
	return was
}

// SoftTrigger is a Trigger without hardware behind it; presses come from the
// console or the API.
type SoftTrigger struct {
	mu      sync.Mutex
	armed   bool
	arms    int
	disarms int
}

func (t *SoftTrigger) Arm() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = true
	t.arms++
	return nil
}

func (t *SoftTrigger) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
	t.disarms++
}

// Armed reports whether a press would be delivered.
func (t *SoftTrigger) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Arms returns how many times the trigger was armed.
func (t *SoftTrigger) Arms() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arms
}
