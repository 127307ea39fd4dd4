package gpio

import (
	"io"
	"os"
	"testing"

	gpiod "github.com/warthog618/go-gpiocdev"

	"github.com/AaronLay10/napt-router/internal/events"
)

func TestMain(m *testing.M) {
	events.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestButtonDeliversOnePressPerArm(t *testing.T) {
	var queued []func()
	post := func(fn func()) bool {
		queued = append(queued, fn)
		return true
	}
	pressed := 0
	b := newButton(post, func() { pressed++ })

	rising := gpiod.LineEvent{Type: gpiod.LineEventRisingEdge}

	b.handleEvent(rising)
	if len(queued) != 0 {
		t.Fatal("press delivered while disarmed")
	}

	b.Arm()
	b.handleEvent(gpiod.LineEvent{Type: gpiod.LineEventFallingEdge})
	if len(queued) != 0 {
		t.Fatal("falling edge delivered")
	}

	b.handleEvent(rising)
	b.handleEvent(rising)
	if len(queued) != 1 {
		t.Fatalf("queued = %d, want 1", len(queued))
	}
	if b.Armed() {
		t.Error("button still armed after a press")
	}

	for _, fn := range queued {
		fn()
	}
	if pressed != 1 || b.Presses() != 1 {
		t.Errorf("pressed = %d, Presses = %d", pressed, b.Presses())
	}

	b.Arm()
	b.Disarm()
	b.handleEvent(rising)
	if len(queued) != 1 {
		t.Error("press delivered after Disarm")
	}
}

func TestButtonDroppedPost(t *testing.T) {
	b := newButton(func(func()) bool { return false }, func() {})
	b.Arm()
	b.handleEvent(gpiod.LineEvent{Type: gpiod.LineEventRisingEdge})
	if b.Presses() != 1 {
		t.Errorf("Presses = %d", b.Presses())
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close without line: %v", err)
	}
}

func TestOpenMissingChip(t *testing.T) {
	if _, err := OpenLED(LEDConfig{Chip: "gpiochip-napt-missing"}); err == nil {
		t.Error("OpenLED on missing chip succeeded")
	}
	if _, err := OpenButton(ButtonConfig{Chip: "gpiochip-napt-missing"}, nil, nil); err == nil {
		t.Error("OpenButton on missing chip succeeded")
	}
}

func TestLevel(t *testing.T) {
	if level(true) != 1 || level(false) != 0 {
		t.Error("level mapping")
	}
}
