// Package indicator drives the status LED: off while idle, blinking while
// provisioning, steady while the router is active.
package indicator

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/timer"
)

// LED is a single status light.
type LED interface {
	Set(on bool) error
}

type kind int

const (
	kindOff kind = iota
	kindSteady
	kindBlink
)

// Pattern is what the LED shows.
type Pattern struct {
	kind   kind
	period time.Duration
}

var (
	Off    = Pattern{kind: kindOff}
	Steady = Pattern{kind: kindSteady}
)

// Blink toggles the LED every period.
func Blink(period time.Duration) Pattern {
	return Pattern{kind: kindBlink, period: period}
}

// Period returns the blink period, zero for Off and Steady.
func (p Pattern) Period() time.Duration { return p.period }

func (p Pattern) String() string {
	switch p.kind {
	case kindOff:
		return "off"
	case kindSteady:
		return "steady"
	case kindBlink:
		return fmt.Sprintf("blink(%s)", p.period)
	default:
		return "unknown"
	}
}

// Indicator owns the Blink timer slot.
type Indicator struct {
	led     LED
	timers  timer.Scheduler
	pattern Pattern
	lit     bool
}

// New returns an indicator showing nothing in particular; call Show(Off) to
// force the LED into a known state.
func New(led LED, timers timer.Scheduler) *Indicator {
	return &Indicator{led: led, timers: timers}
}

// Show switches to p. Only a blink can fail: when the blink slot cannot be
// armed the LED is left lit and the error returned so the caller can degrade.
func (i *Indicator) Show(p Pattern) error {
	i.timers.Disarm(timer.Blink)
	i.pattern = p

	var err error
	switch p.kind {
	case kindOff:
		i.set(false)
	case kindSteady:
		i.set(true)
	case kindBlink:
		i.set(true)
		err = i.timers.Arm(timer.Blink, p.period, true, i.toggle)
		if err != nil {
			i.pattern = Steady
		}
	}

	events.Emit("info", "indicator.changed", "", map[string]interface{}{
		"pattern": i.pattern.String(),
	})
	return err
}

// Pattern returns the pattern currently shown.
func (i *Indicator) Pattern() Pattern { return i.pattern }

// Lit reports the last state written to the LED.
func (i *Indicator) Lit() bool { return i.lit }

func (i *Indicator) toggle() {
	i.set(!i.lit)
}

func (i *Indicator) set(on bool) {
	i.lit = on
	if err := i.led.Set(on); err != nil {
		log.Printf("indicator: led write failed: %v", err)
	}
}

// LogLED stands in for a missing LED line and logs changes.
type LogLED struct {
	mu sync.Mutex
	on bool
}

func (l *LogLED) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.on != on {
		log.Printf("led: %v", on)
	}
	l.on = on
	return nil
}

// On returns the last value written.
func (l *LogLED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}
