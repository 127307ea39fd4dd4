// Package gpio binds the activation button and the status LED to GPIO
// character-device lines.
package gpio

import (
	"fmt"
	"sync/atomic"
	"time"

	gpiod "github.com/warthog618/go-gpiocdev"

	"github.com/AaronLay10/napt-router/internal/events"
)

// ButtonConfig selects the input line.
type ButtonConfig struct {
	Chip     string
	Line     int
	PullUp   bool
	Debounce time.Duration
}

// Button is an edge-triggered activation input. Presses are delivered only
// while armed, and each armed period delivers at most one press.
type Button struct {
	line    *gpiod.Line
	post    func(func()) bool
	onPress func()
	armed   atomic.Bool
	presses atomic.Uint64
}

// OpenButton requests the input line. onPress runs through post, normally
// the run loop.
func OpenButton(cfg ButtonConfig, post func(func()) bool, onPress func()) (*Button, error) {
	b := newButton(post, onPress)

	chip, err := gpiod.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", cfg.Chip, err)
	}
	defer chip.Close()

	opts := []gpiod.LineReqOption{
		gpiod.AsInput,
		gpiod.WithRisingEdge,
		gpiod.WithEventHandler(b.handleEvent),
	}
	if cfg.PullUp {
		opts = append(opts, gpiod.WithPullUp)
	}
	if cfg.Debounce > 0 {
		opts = append(opts, gpiod.WithDebounce(cfg.Debounce))
	}

	line, err := chip.RequestLine(cfg.Line, opts...)
	if err != nil {
		return nil, fmt.Errorf("request input line %d: %w", cfg.Line, err)
	}
	b.line = line
	return b, nil
}

func newButton(post func(func()) bool, onPress func()) *Button {
	return &Button{post: post, onPress: onPress}
}

func (b *Button) handleEvent(evt gpiod.LineEvent) {
	if evt.Type != gpiod.LineEventRisingEdge {
		return
	}
	if !b.armed.CompareAndSwap(true, false) {
		return
	}
	b.presses.Add(1)
	if !b.post(b.onPress) {
		events.Emit("warn", "system.error", "button press dropped", map[string]interface{}{
			"offset": evt.Offset,
		})
	}
}

// Arm enables delivery of the next press.
func (b *Button) Arm() error {
	b.armed.Store(true)
	return nil
}

// Disarm suppresses presses until the next Arm.
func (b *Button) Disarm() {
	b.armed.Store(false)
}

// Armed reports whether a press would be delivered.
func (b *Button) Armed() bool { return b.armed.Load() }

// Presses returns the number of delivered presses.
func (b *Button) Presses() uint64 { return b.presses.Load() }

// Close releases the line.
func (b *Button) Close() error {
	if b.line == nil {
		return nil
	}
	return b.line.Close()
}
