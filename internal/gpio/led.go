package gpio

import (
	"fmt"

	gpiod "github.com/warthog618/go-gpiocdev"
)

// LEDConfig selects the output line.
type LEDConfig struct {
	Chip      string
	Line      int
	ActiveLow bool
}

// LED drives the status LED line.
type LED struct {
	line *gpiod.Line
}

// OpenLED requests the output line, initially off.
func OpenLED(cfg LEDConfig) (*LED, error) {
	chip, err := gpiod.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", cfg.Chip, err)
	}
	defer chip.Close()

	opts := []gpiod.LineReqOption{gpiod.AsOutput(0)}
	if cfg.ActiveLow {
		opts = append(opts, gpiod.AsActiveLow)
	}
	line, err := chip.RequestLine(cfg.Line, opts...)
	if err != nil {
		return nil, fmt.Errorf("request output line %d: %w", cfg.Line, err)
	}
	return &LED{line: line}, nil
}

// Set drives the LED.
func (l *LED) Set(on bool) error {
	if err := l.line.SetValue(level(on)); err != nil {
		return fmt.Errorf("set led: %w", err)
	}
	return nil
}

// Close turns the LED off and releases the line.
func (l *LED) Close() error {
	_ = l.line.SetValue(0)
	return l.line.Close()
}

func level(on bool) int {
	if on {
		return 1
	}
	return 0
}
