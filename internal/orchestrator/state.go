package orchestrator

import (
	"time"

	"github.com/AaronLay10/napt-router/internal/indicator"
	"github.com/AaronLay10/napt-router/internal/provisioning"
)

// State is the lifecycle state of the router.
type State string

const (
	// StateIdle: trigger armed, nothing running.
	StateIdle State = "idle"
	// StateProvisioning: session acquiring credentials, LED blinking.
	StateProvisioning State = "provisioning"
	// StateAwaitingResult: credentials received, waiting for the session's
	// terminal outcome.
	StateAwaitingResult State = "awaiting_result"
	// StateRouterActive: access point, NAT and presence running, watchdog
	// armed, LED steady.
	StateRouterActive State = "router_active"
)

// stateForPhase maps a running session's phase to the orchestrator state.
func stateForPhase(p provisioning.Phase) State {
	if p == provisioning.PhaseLinking {
		return StateAwaitingResult
	}
	return StateProvisioning
}

// PatternFor is the LED pattern shown in state s.
func PatternFor(s State, blink time.Duration) indicator.Pattern {
	switch s {
	case StateProvisioning, StateAwaitingResult:
		return indicator.Blink(blink)
	case StateRouterActive:
		return indicator.Steady
	default:
		return indicator.Off
	}
}
