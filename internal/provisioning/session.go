package provisioning

import (
	"errors"
	"fmt"
	"time"

	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/fabric"
	"github.com/AaronLay10/napt-router/internal/timer"
)

// ErrAlreadyRunning is returned by Start while a session is active.
var ErrAlreadyRunning = errors.New("provisioning session already running")

// Phase is the session's position in the provisioning sequence.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWaiting
	PhaseFindingChannel
	PhaseReceivingCredentials
	PhaseLinking
	PhaseLinkEstablished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaiting:
		return "waiting"
	case PhaseFindingChannel:
		return "finding_channel"
	case PhaseReceivingCredentials:
		return "receiving_credentials"
	case PhaseLinking:
		return "linking"
	case PhaseLinkEstablished:
		return "link_established"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Config bounds the session.
type Config struct {
	AttemptsLimit     int
	ConfigTimeout     time.Duration
	RecvTimeout       time.Duration
	ConnectionTimeout time.Duration
}

// DefaultConfig returns the stock attempt limit and phase timeouts.
func DefaultConfig() Config {
	return Config{
		AttemptsLimit:     3,
		ConfigTimeout:     30 * time.Second,
		RecvTimeout:       30 * time.Second,
		ConnectionTimeout: 60 * time.Second,
	}
}

// Session is the provisioning sub-state-machine. It owns the
// ProvisioningTimeout slot and never arms it while not running. The owner
// learns the outcome by polling IsRunning and WasSuccessful.
//
// All methods must be called on the run loop.
type Session struct {
	cfg     Config
	mech    Mechanism
	station Station
	timers  timer.Scheduler

	running   bool
	succeeded bool
	attempt   int
	phase     Phase
	ssid      string

	// epoch invalidates status callbacks from a stopped mechanism run.
	epoch uint64
}

// NewSession wires a session to its collaborators.
func NewSession(cfg Config, mech Mechanism, station Station, timers timer.Scheduler) *Session {
	if cfg.AttemptsLimit <= 0 {
		cfg.AttemptsLimit = 1
	}
	return &Session{
		cfg:     cfg,
		mech:    mech,
		station: station,
		timers:  timers,
	}
}

// Start begins a new session at attempt 1.
func (s *Session) Start() error {
	if s.running {
		return ErrAlreadyRunning
	}

	s.running = true
	s.succeeded = false
	s.attempt = 1
	s.phase = PhaseWaiting
	s.ssid = ""

	// Drop any stale association before listening for credentials.
	s.station.Disconnect()

	if err := s.station.SetMode(fabric.ModeStation); err != nil {
		s.halt()
		return fmt.Errorf("set station mode: %w", err)
	}
	if err := s.armTimeout(s.cfg.ConfigTimeout); err != nil {
		s.halt()
		return fmt.Errorf("arm config timeout: %w", err)
	}
	if err := s.startMechanism(); err != nil {
		s.halt()
		return fmt.Errorf("start mechanism: %w", err)
	}

	events.Emit("info", "provisioning.started", "", map[string]interface{}{
		"attempts_limit": s.cfg.AttemptsLimit,
		"timeout_ms":     s.cfg.ConfigTimeout.Milliseconds(),
	})
	return nil
}

// Stop aborts the session. Safe to call in any state.
func (s *Session) Stop() {
	wasRunning := s.running
	s.halt()
	if wasRunning {
		s.phase = PhaseIdle
		events.Emit("info", "provisioning.stopped", "", map[string]interface{}{
			"attempt": s.attempt,
		})
	}
}

// halt stops the mechanism and releases the timeout slot.
func (s *Session) halt() {
	if s.running {
		s.mech.Stop()
	}
	s.epoch++
	s.timers.Disarm(timer.ProvisioningTimeout)
	s.running = false
}

func (s *Session) IsRunning() bool     { return s.running }
func (s *Session) WasSuccessful() bool { return s.succeeded }
func (s *Session) Attempt() int        { return s.attempt }
func (s *Session) Phase() Phase        { return s.phase }

// SSID returns the network name received in the last Link report.
func (s *Session) SSID() string { return s.ssid }

func (s *Session) startMechanism() error {
	s.epoch++
	epoch := s.epoch
	return s.mech.Start(func(st Status, c *Credentials) {
		s.onStatus(epoch, st, c)
	})
}

func (s *Session) armTimeout(d time.Duration) error {
	return s.timers.Arm(timer.ProvisioningTimeout, d, false, s.onTimeout)
}

// rearm swaps the phase timeout. A slot that cannot be armed leaves the
// phase unbounded, which is reported but not fatal.
func (s *Session) rearm(d time.Duration) {
	if err := s.armTimeout(d); err != nil {
		events.Emit("warn", "provisioning.status", "phase timeout unavailable", map[string]interface{}{
			"phase": s.phase.String(),
			"error": err.Error(),
		})
	}
}

func (s *Session) onStatus(epoch uint64, st Status, c *Credentials) {
	if !s.running || epoch != s.epoch {
		return
	}

	switch st {
	case StatusWait:
		s.phase = PhaseWaiting

	case StatusFindChannel:
		s.phase = PhaseFindingChannel

	case StatusGettingCredentials:
		s.phase = PhaseReceivingCredentials
		s.rearm(s.cfg.RecvTimeout)

	case StatusLink:
		s.phase = PhaseLinking
		if !s.link(c) {
			return
		}
		s.rearm(s.cfg.ConnectionTimeout)

	case StatusLinkOver:
		s.halt()
		s.succeeded = true
		s.phase = PhaseLinkEstablished
		events.Emit("info", "provisioning.succeeded", "", map[string]interface{}{
			"attempt": s.attempt,
			"ssid":    s.ssid,
		})
		return
	}

	events.Emit("info", "provisioning.status", "", map[string]interface{}{
		"status":  st.String(),
		"phase":   s.phase.String(),
		"attempt": s.attempt,
	})
}

// link points the station at the received network. A rejected station config
// aborts the session.
func (s *Session) link(c *Credentials) bool {
	if c == nil || c.SSID == "" {
		s.abort("link reported without credentials", nil)
		return false
	}
	s.ssid = c.SSID
	events.Emit("info", "provisioning.credentials", "", map[string]interface{}{
		"ssid": c.SSID,
	})

	s.station.Disconnect()
	if err := s.station.SetStationConfig(c.SSID, c.Password); err != nil {
		s.abort("station config rejected", err)
		return false
	}
	if err := s.station.Connect(); err != nil {
		// The connection timeout drives the retry.
		events.Emit("warn", "provisioning.status", "connect failed", map[string]interface{}{
			"ssid":  c.SSID,
			"error": err.Error(),
		})
	}
	return true
}

func (s *Session) abort(msg string, err error) {
	fields := map[string]interface{}{"attempt": s.attempt}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.halt()
	s.succeeded = false
	s.phase = PhaseIdle
	events.Emit("error", "provisioning.failed", msg, fields)
}

func (s *Session) onTimeout() {
	if !s.running {
		return
	}

	events.Emit("warn", "provisioning.timeout", "", map[string]interface{}{
		"attempt": s.attempt,
		"phase":   s.phase.String(),
	})

	s.mech.Stop()
	s.epoch++
	s.station.Disconnect()
	s.timers.Disarm(timer.ProvisioningTimeout)

	if s.attempt >= s.cfg.AttemptsLimit {
		s.running = false
		s.succeeded = false
		s.phase = PhaseIdle
		events.Emit("error", "provisioning.failed", "attempts exhausted", map[string]interface{}{
			"attempts": s.attempt,
		})
		return
	}

	s.attempt++
	s.phase = PhaseFindingChannel
	events.Emit("info", "provisioning.retry", "", map[string]interface{}{
		"attempt": s.attempt,
	})

	if err := s.armTimeout(s.cfg.ConfigTimeout); err != nil {
		s.abort("config timeout unavailable", err)
		return
	}
	if err := s.startMechanism(); err != nil {
		s.abort("mechanism restart failed", err)
	}
}
