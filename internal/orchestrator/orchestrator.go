// Package orchestrator owns the router lifecycle: activation by trigger,
// provisioning, router bring-up, connection supervision and the single
// teardown path back to idle.
//
// Every method must run on the run loop. Callbacks from timers, the fabric
// and the trigger are serialized there, so the orchestrator holds no locks.
package orchestrator

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/fabric"
	"github.com/AaronLay10/napt-router/internal/indicator"
	"github.com/AaronLay10/napt-router/internal/provisioning"
	"github.com/AaronLay10/napt-router/internal/timer"
)

// Provisioner is the provisioning session as seen by the orchestrator.
type Provisioner interface {
	Start() error
	Stop()
	IsRunning() bool
	WasSuccessful() bool
	Attempt() int
	Phase() provisioning.Phase
}

// Presence gates the presence services.
type Presence interface {
	Enable() error
	Disable()
}

// Config holds the lifecycle timing and router settings.
type Config struct {
	PollInterval     time.Duration
	WatchdogInterval time.Duration
	BlinkInterval    time.Duration
	Router           RouterConfig
}

// DefaultConfig returns the stock timing and router settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:     500 * time.Millisecond,
		WatchdogInterval: 300 * time.Second,
		BlinkInterval:    2 * time.Second,
		Router:           DefaultRouterConfig(),
	}
}

// Orchestrator is the lifecycle state machine.
type Orchestrator struct {
	cfg      Config
	fabric   fabric.Fabric
	session  Provisioner
	timers   timer.Scheduler
	led      *indicator.Indicator
	presence Presence
	trigger  Trigger
	now      func() time.Time

	guard      activationGuard
	state      State
	since      time.Time
	radioOwned bool
	presenceOn bool

	// connected is written by the event handler and read by the watchdog.
	connected   bool
	stationAddr netip.Addr
	bringupDone bool
	portmaps    int

	counters Counters
}

// Counters are lifetime totals exposed on the metrics endpoint.
type Counters struct {
	Enables              uint64 `json:"enables"`
	Disables             uint64 `json:"disables"`
	ProvisioningFailures uint64 `json:"provisioning_failures"`
	WatchdogResets       uint64 `json:"watchdog_resets"`
	Bringups             uint64 `json:"bringups"`
	BringupFailures      uint64 `json:"bringup_failures"`
	TriggersIgnored      uint64 `json:"triggers_ignored"`
}

// New wires an orchestrator. Call Boot before delivering triggers.
func New(cfg Config, fab fabric.Fabric, session Provisioner, timers timer.Scheduler,
	led *indicator.Indicator, presence Presence, trigger Trigger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		fabric:   fab,
		session:  session,
		timers:   timers,
		led:      led,
		presence: presence,
		trigger:  trigger,
		now:      time.Now,
		state:    StateIdle,
		since:    time.Now(),
	}
}

// Boot puts the radio into a known neutral state, turns the LED off and arms
// the trigger.
func (o *Orchestrator) Boot() error {
	o.fabric.Disconnect()
	if err := o.fabric.SetMode(fabric.ModeNull); err != nil {
		return fmt.Errorf("reset radio mode: %w", err)
	}
	o.fabric.SetEventHandler(nil)
	o.led.Show(PatternFor(StateIdle, o.cfg.BlinkInterval))

	if err := o.trigger.Arm(); err != nil {
		return fmt.Errorf("arm trigger: %w", err)
	}
	events.Emit("info", "trigger.armed", "", nil)
	return nil
}

// OnTrigger is the trigger callback. It takes the activation guard and
// enables the router; a press while the guard is held is ignored.
func (o *Orchestrator) OnTrigger() {
	if !o.guard.acquire() {
		o.counters.TriggersIgnored++
		events.Emit("info", "trigger.ignored", "", map[string]interface{}{
			"state": string(o.state),
		})
		return
	}
	o.trigger.Disarm()
	events.Emit("info", "trigger.pressed", "", nil)

	if err := o.Enable(); err != nil {
		events.Emit("error", "system.error", "enable failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Enable starts provisioning. It is a no-op unless idle. Any failure tears
// everything down again and is returned.
func (o *Orchestrator) Enable() error {
	if o.state != StateIdle {
		return nil
	}
	if o.guard.acquire() {
		o.trigger.Disarm()
	}
	o.counters.Enables++
	events.Emit("info", "router.enabled", "", nil)

	o.initRouter()

	// The watchdog is reserved here and armed once the router is active.

	if err := o.session.Start(); err != nil {
		o.Disable()
		return fmt.Errorf("start provisioning: %w", err)
	}
	o.setState(stateForPhase(o.session.Phase()))

	if err := o.timers.Arm(timer.ProvisioningPoll, o.cfg.PollInterval, true, o.poll); err != nil {
		o.Disable()
		return fmt.Errorf("arm provisioning poll: %w", err)
	}
	return nil
}

// poll follows the session until it stops.
func (o *Orchestrator) poll() {
	if o.session.IsRunning() {
		o.setState(stateForPhase(o.session.Phase()))
		return
	}

	o.timers.Disarm(timer.ProvisioningPoll)

	if !o.session.WasSuccessful() {
		o.counters.ProvisioningFailures++
		o.Disable()
		return
	}

	o.activate()
}

// activate is the success path of the poll: steady LED, router bring-up,
// watchdog and presence.
func (o *Orchestrator) activate() {
	if !o.bringupDone {
		if _, addr := o.fabric.StationInfo(); addr.IsValid() {
			o.stationAddr = addr
			o.bringUp(addr)
		}
	}

	if err := o.timers.Arm(timer.Watchdog, o.cfg.WatchdogInterval, true, o.tick); err != nil {
		events.Emit("error", "system.error", "watchdog unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		o.Disable()
		return
	}
	events.Emit("info", "watchdog.armed", "", map[string]interface{}{
		"interval_ms": o.cfg.WatchdogInterval.Milliseconds(),
	})

	if err := o.presence.Enable(); err != nil {
		events.Emit("warn", "presence.error", "presence partially enabled", map[string]interface{}{
			"error": err.Error(),
		})
	}
	o.presenceOn = true

	o.setState(StateRouterActive)
	events.Emit("info", "router.active", "", map[string]interface{}{
		"station_ip": addrString(o.stationAddr),
		"connected":  o.connected,
	})
}

// Disable tears everything down and returns to idle. It is safe from any
// state and every step checks liveness first, so a Disable with nothing
// allocated has no effect.
func (o *Orchestrator) Disable() {
	active := o.state != StateIdle || o.guard.held || o.radioOwned || o.presenceOn ||
		len(timer.ArmedSlots(o.timers)) > 0
	if !active {
		return
	}
	prev := o.state

	if o.presenceOn {
		o.presence.Disable()
		o.presenceOn = false
	}

	o.session.Stop()

	if o.radioOwned {
		o.fabric.Disconnect()
		o.fabric.SetMode(fabric.ModeNull)
		o.fabric.SetEventHandler(nil)
		o.radioOwned = false
	}

	o.timers.Disarm(timer.Blink)
	o.timers.Disarm(timer.ProvisioningPoll)
	o.timers.Disarm(timer.Watchdog)

	o.setState(StateIdle)
	o.connected = false
	o.stationAddr = netip.Addr{}
	o.bringupDone = false
	o.counters.Disables++

	events.Emit("info", "router.disabled", "", map[string]interface{}{
		"from": string(prev),
	})

	if o.guard.release() {
		if err := o.trigger.Arm(); err != nil {
			events.Emit("error", "system.error", "trigger re-arm failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		events.Emit("info", "trigger.armed", "", nil)
	}
}

func (o *Orchestrator) setState(s State) {
	if s == o.state {
		return
	}
	from := o.state
	o.state = s
	o.since = o.now()
	events.Emit("info", "router.state_changed", "", map[string]interface{}{
		"from": string(from),
		"to":   string(s),
	})
	o.showPattern(PatternFor(s, o.cfg.BlinkInterval))
}

// showPattern moves the LED to p. A blink that cannot be armed leaves the
// LED steady.
func (o *Orchestrator) showPattern(p indicator.Pattern) {
	if o.led.Pattern() == p {
		return
	}
	if err := o.led.Show(p); err != nil {
		events.Emit("warn", "indicator.degraded", "blink unavailable", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return o.state }

// Connected returns the connectivity flag.
func (o *Orchestrator) Connected() bool { return o.connected }

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}
