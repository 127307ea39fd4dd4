package orchestrator

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/fabric"
	"github.com/AaronLay10/napt-router/internal/indicator"
	"github.com/AaronLay10/napt-router/internal/portmap"
	"github.com/AaronLay10/napt-router/internal/provisioning"
	"github.com/AaronLay10/napt-router/internal/timer"
)

func TestMain(m *testing.M) {
	events.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type mockPresence struct {
	mock.Mock
}

func (m *mockPresence) Enable() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockPresence) Disable() {
	m.Called()
}

type fakeLED struct {
	on bool
}

func (l *fakeLED) Set(on bool) error {
	l.on = on
	return nil
}

type rig struct {
	o        *Orchestrator
	sim      *fabric.Sim
	timers   *timer.Manual
	mech     *provisioning.Scripted
	session  *provisioning.Session
	led      *fakeLED
	presence *mockPresence
	trigger  *SoftTrigger
	cfg      Config
	provCfg  provisioning.Config
}

func newRig(t *testing.T, mutate ...func(*Config)) *rig {
	t.Helper()
	sta, _ := net.ParseMAC("5c:cf:7f:00:00:01")
	ap, _ := net.ParseMAC("5e:cf:7f:00:00:01")

	r := &rig{
		sim:      fabric.NewSim(sta, ap, fabric.DefaultLease()),
		timers:   timer.NewManual(),
		mech:     provisioning.NewScripted(),
		led:      &fakeLED{},
		presence: &mockPresence{},
		trigger:  &SoftTrigger{},
		cfg:      DefaultConfig(),
		provCfg:  provisioning.DefaultConfig(),
	}
	r.cfg.Router.Password = "router-secret"
	for _, m := range mutate {
		m(&r.cfg)
	}
	r.session = provisioning.NewSession(r.provCfg, r.mech, r.sim, r.timers)
	r.o = New(r.cfg, r.sim, r.session, r.timers, indicator.New(r.led, r.timers), r.presence, r.trigger)
	require.NoError(t, r.o.Boot())
	return r
}

var home = &provisioning.Credentials{SSID: "home", Password: "secret"}

// checkSlots asserts the per-state slot invariants.
func (r *rig) checkSlots(t *testing.T) {
	t.Helper()
	switch r.o.State() {
	case StateRouterActive:
		assert.True(t, r.timers.Armed(timer.Watchdog), "router_active needs the watchdog")
		assert.False(t, r.timers.Armed(timer.Blink), "router_active must not blink")
	case StateProvisioning, StateAwaitingResult:
		assert.True(t, r.timers.Armed(timer.Blink), "provisioning needs the blink slot")
		assert.False(t, r.timers.Armed(timer.Watchdog), "provisioning must not arm the watchdog")
	case StateIdle:
		assert.Empty(t, timer.ArmedSlots(r.timers), "idle holds no timers")
	}
}

// activate drives the rig from idle to router_active.
func (r *rig) activate(t *testing.T) {
	t.Helper()
	r.presence.On("Enable").Return(nil).Once()

	r.o.OnTrigger()
	require.Equal(t, StateProvisioning, r.o.State())
	r.checkSlots(t)

	r.mech.Report(provisioning.StatusWait, nil)
	r.mech.Report(provisioning.StatusFindChannel, nil)
	r.mech.Report(provisioning.StatusGettingCredentials, nil)
	r.timers.Advance(r.cfg.PollInterval)
	require.Equal(t, StateProvisioning, r.o.State())

	r.mech.Report(provisioning.StatusLink, home)
	r.timers.Advance(r.cfg.PollInterval)
	require.Equal(t, StateAwaitingResult, r.o.State())
	r.checkSlots(t)

	r.mech.Report(provisioning.StatusLinkOver, nil)
	r.timers.Advance(r.cfg.PollInterval)
	r.sim.Flush()
	require.Equal(t, StateRouterActive, r.o.State())
	r.checkSlots(t)
}

func TestScenarioProvisioningSucceeds(t *testing.T) {
	r := newRig(t)
	r.activate(t)

	assert.True(t, r.led.on)
	assert.Equal(t, indicator.Steady, r.o.led.Pattern())
	assert.Equal(t, r.cfg.WatchdogInterval, r.timers.Period(timer.Watchdog))
	assert.False(t, r.timers.Armed(timer.ProvisioningPoll))
	assert.False(t, r.timers.Armed(timer.ProvisioningTimeout))
	assert.True(t, r.o.Connected())
	r.presence.AssertExpectations(t)

	st := r.sim.State()
	assert.Equal(t, fabric.ModeStationAP, st.Mode)
	assert.Equal(t, "ESP_ROUTER_5e:cf:7f:00:00:01", st.AP.SSID)
	assert.Equal(t, "router-secret", st.AP.Password)
	assert.Equal(t, 8, st.AP.MaxClients)
	assert.False(t, st.AP.Hidden)
	assert.Equal(t, netip.MustParseAddr("192.168.13.1"), st.APIP.Address)
	assert.Equal(t, netip.MustParseAddr("192.168.13.2"), st.DHCPStart)
	assert.Equal(t, netip.MustParseAddr("192.168.13.64"), st.DHCPEnd)
	assert.Equal(t, netip.MustParseAddr("192.168.13.1"), st.NATGateway)
	assert.Equal(t, netip.MustParseAddr("8.8.8.8"), st.DNS)

	status := r.o.Status()
	assert.Equal(t, StateRouterActive, status.State)
	assert.Equal(t, "10.0.0.42", status.StationAddress)
	assert.Equal(t, []string{"watchdog"}, status.ArmedSlots)
	assert.True(t, status.PresenceEnabled)
	assert.Equal(t, "steady", status.LED)
}

func TestScenarioCompanionNeverResponds(t *testing.T) {
	r := newRig(t)

	r.o.OnTrigger()
	require.Equal(t, StateProvisioning, r.o.State())
	r.checkSlots(t)

	timeouts := time.Duration(r.provCfg.AttemptsLimit) * r.provCfg.ConfigTimeout
	r.timers.Advance(timeouts - time.Second)
	require.Equal(t, StateProvisioning, r.o.State())
	r.checkSlots(t)

	r.timers.Advance(time.Second + r.cfg.PollInterval)
	assert.Equal(t, StateIdle, r.o.State())
	r.checkSlots(t)
	assert.False(t, r.led.on)
	assert.True(t, r.trigger.Armed())
	assert.Equal(t, 2, r.trigger.Arms())
	assert.Equal(t, fabric.ModeNull, r.sim.State().Mode)
	assert.False(t, r.sim.State().HandlerActive)
	assert.Equal(t, uint64(1), r.o.Status().Counters.ProvisioningFailures)
	r.presence.AssertNotCalled(t, "Disable")
}

func TestScenarioDisconnectThenWatchdog(t *testing.T) {
	r := newRig(t)
	r.activate(t)
	r.presence.On("Disable").Return().Once()

	r.sim.Emit(fabric.Event{Kind: fabric.StationDisconnected, SSID: "home", Reason: 201})
	r.sim.Flush()
	assert.False(t, r.o.Connected())
	assert.Equal(t, StateRouterActive, r.o.State(), "a disconnect alone must not tear down")

	r.timers.Advance(r.cfg.WatchdogInterval - time.Second)
	assert.Equal(t, StateRouterActive, r.o.State())

	r.timers.Advance(time.Second)
	assert.Equal(t, StateIdle, r.o.State())
	r.checkSlots(t)
	assert.True(t, r.trigger.Armed())
	assert.Equal(t, uint64(1), r.o.Status().Counters.WatchdogResets)
	r.presence.AssertExpectations(t)
}

func TestReconnectBeforeTickKeepsRouter(t *testing.T) {
	r := newRig(t)
	r.activate(t)

	r.sim.Emit(fabric.Event{Kind: fabric.StationDisconnected})
	r.sim.Emit(fabric.Event{
		Kind:    fabric.StationGotIP,
		Address: netip.MustParseAddr("10.0.0.77"),
		Netmask: netip.MustParseAddr("255.255.255.0"),
		Gateway: netip.MustParseAddr("10.0.0.1"),
	})
	r.sim.Flush()

	r.timers.Advance(r.cfg.WatchdogInterval)
	assert.Equal(t, StateRouterActive, r.o.State())
	assert.Equal(t, "10.0.0.77", r.o.Status().StationAddress)
}

func TestPartialBringupLeavesConnectivityFalse(t *testing.T) {
	r := newRig(t)
	r.sim.Fail("EnableNAT", errors.New("nat unavailable"))
	r.activate(t)

	assert.False(t, r.o.Connected())
	assert.Equal(t, StateRouterActive, r.o.State())
	assert.NotZero(t, r.o.Status().Counters.BringupFailures)

	r.presence.On("Disable").Return().Once()
	r.timers.Advance(r.cfg.WatchdogInterval)
	assert.Equal(t, StateIdle, r.o.State())
	r.presence.AssertExpectations(t)
}

func TestScenarioPortmapsThreeOfEight(t *testing.T) {
	entry := func(port uint16) portmap.Entry {
		return portmap.Entry{
			Enabled:      true,
			Protocol:     portmap.TCP,
			ExternalPort: port,
			Address:      netip.MustParseAddr("192.168.13.37"),
			Port:         port,
			Direction:    portmap.APToStation,
		}
	}
	disabled := entry(9000)
	disabled.Enabled = false
	zeroPort := entry(9001)
	zeroPort.Port = 0

	r := newRig(t, func(c *Config) {
		c.Router.Portmaps = []portmap.Entry{
			entry(8883), disabled, {}, entry(1883), zeroPort, {}, entry(8080), {},
		}
	})
	r.activate(t)

	assert.Equal(t, 3, r.o.Status().PortmapsLoaded)
	mappings := r.sim.Table().Entries()
	require.Len(t, mappings, 3)
	for _, m := range mappings {
		assert.Equal(t, netip.MustParseAddr("10.0.0.42"), m.MappingAddress)
		assert.Equal(t, netip.MustParseAddr("192.168.13.37"), m.Address)
	}
}

func TestPortmapFailureDoesNotBlockStartup(t *testing.T) {
	r := newRig(t, func(c *Config) {
		c.Router.Portmaps = []portmap.Entry{{
			Enabled: true, Protocol: portmap.UDP, ExternalPort: 53,
			Address: netip.MustParseAddr("192.168.13.2"), Port: 53, Direction: portmap.StationToAP,
		}}
	})
	r.sim.Fail("AddPortMapping", errors.New("table locked"))
	r.activate(t)

	assert.Equal(t, 0, r.o.Status().PortmapsLoaded)
	assert.True(t, r.o.Connected())
}

func TestDisableWithNothingAllocatedIsNoop(t *testing.T) {
	r := newRig(t)
	r.sim.ResetCalls()
	before := r.o.Status()

	r.o.Disable()
	r.o.Disable()

	assert.Empty(t, r.sim.Calls())
	assert.Equal(t, 1, r.trigger.Arms())
	after := r.o.Status()
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.Counters, after.Counters)
	r.checkSlots(t)
}

func TestDisableIsIdempotentFromAnyState(t *testing.T) {
	r := newRig(t)
	r.o.OnTrigger()
	r.mech.Report(provisioning.StatusGettingCredentials, nil)

	r.o.Disable()
	assert.Equal(t, StateIdle, r.o.State())
	r.checkSlots(t)
	assert.False(t, r.session.IsRunning())
	assert.False(t, r.mech.Running())

	arms := r.trigger.Arms()
	r.o.Disable()
	assert.Equal(t, arms, r.trigger.Arms())
}

func TestTriggerWhileActiveIsIgnored(t *testing.T) {
	r := newRig(t)
	r.o.OnTrigger()
	r.o.OnTrigger()

	assert.Equal(t, 1, r.mech.Starts())
	assert.False(t, r.trigger.Armed())
	assert.Equal(t, uint64(1), r.o.Status().Counters.TriggersIgnored)

	require.NoError(t, r.o.Enable())
	assert.Equal(t, 1, r.mech.Starts(), "enable is a no-op unless idle")
}

func TestEnableFailureReturnsToIdle(t *testing.T) {
	r := newRig(t)
	r.mech.FailStart(errors.New("radio busy"))

	r.o.OnTrigger()
	assert.Equal(t, StateIdle, r.o.State())
	r.checkSlots(t)
	assert.True(t, r.trigger.Armed())
	assert.False(t, r.led.on)
}

func TestBlinkUnavailableDegrades(t *testing.T) {
	r := newRig(t)
	r.timers.FailNextArm(timer.Blink, errors.New("no timer"))

	r.o.OnTrigger()
	assert.Equal(t, StateProvisioning, r.o.State())
	assert.True(t, r.timers.Armed(timer.ProvisioningPoll))
	assert.True(t, r.led.on)
}

func TestWatchdogUnavailableTearsDown(t *testing.T) {
	r := newRig(t)
	r.o.OnTrigger()
	r.mech.Report(provisioning.StatusLink, home)
	r.mech.Report(provisioning.StatusLinkOver, nil)
	r.timers.FailNextArm(timer.Watchdog, errors.New("no timer"))

	r.timers.Advance(r.cfg.PollInterval)
	assert.Equal(t, StateIdle, r.o.State())
	r.checkSlots(t)
	r.presence.AssertNotCalled(t, "Enable")
}

func TestPresenceErrorIsNotFatal(t *testing.T) {
	r := newRig(t)
	r.presence.On("Enable").Return(errors.New("mdns unavailable")).Once()

	r.o.OnTrigger()
	r.mech.Report(provisioning.StatusLink, home)
	r.mech.Report(provisioning.StatusLinkOver, nil)
	r.timers.Advance(r.cfg.PollInterval)

	assert.Equal(t, StateRouterActive, r.o.State())
	assert.True(t, r.o.Status().PresenceEnabled)
}

func TestRetryAfterReset(t *testing.T) {
	r := newRig(t)
	r.activate(t)

	r.presence.On("Disable").Return().Once()
	r.sim.Emit(fabric.Event{Kind: fabric.StationDisconnected})
	r.sim.Flush()
	r.timers.Advance(r.cfg.WatchdogInterval)
	require.Equal(t, StateIdle, r.o.State())

	r.activate(t)
	assert.Equal(t, uint64(2), r.o.Status().Counters.Enables)
	r.presence.AssertExpectations(t)
}

func TestOpenAccessPointHasNoPassword(t *testing.T) {
	r := newRig(t, func(c *Config) {
		c.Router.Open = true
		c.Router.Hidden = true
	})
	r.activate(t)

	st := r.sim.State()
	assert.True(t, st.AP.Open)
	assert.Empty(t, st.AP.Password)
	assert.True(t, st.AP.Hidden)
}

func TestRouterConfigHelpers(t *testing.T) {
	c := DefaultRouterConfig()
	c.Address = netip.MustParseAddr("10.1.2.77")
	assert.Equal(t, netip.MustParseAddr("10.1.2.1"), c.RouterAddress())
	assert.Equal(t, DefaultDNS, c.DNSServer())

	c.DNS = netip.MustParseAddr("1.1.1.1")
	assert.Equal(t, netip.MustParseAddr("1.1.1.1"), c.DNSServer())

	assert.Equal(t, "ESP_ROUTER_01:02:03:04:05:06", c.SSID([]byte{1, 2, 3, 4, 5, 6}))
}

func TestLEDFollowsState(t *testing.T) {
	r := newRig(t)
	assert.Equal(t, PatternFor(StateIdle, r.cfg.BlinkInterval), r.o.led.Pattern())
	assert.Equal(t, indicator.Off, r.o.led.Pattern())

	r.presence.On("Enable").Return(nil).Once()
	r.o.OnTrigger()
	require.Equal(t, StateProvisioning, r.o.State())
	assert.Equal(t, indicator.Blink(r.cfg.BlinkInterval), r.o.led.Pattern())

	r.mech.Report(provisioning.StatusLink, home)
	r.timers.Advance(r.cfg.PollInterval)
	require.Equal(t, StateAwaitingResult, r.o.State())
	assert.Equal(t, PatternFor(StateAwaitingResult, r.cfg.BlinkInterval), r.o.led.Pattern())
	assert.True(t, r.timers.Armed(timer.Blink))

	r.mech.Report(provisioning.StatusLinkOver, nil)
	r.timers.Advance(r.cfg.PollInterval)
	r.sim.Flush()
	require.Equal(t, StateRouterActive, r.o.State())
	assert.Equal(t, indicator.Steady, r.o.led.Pattern())
	assert.True(t, r.led.on)

	r.presence.On("Disable").Return().Once()
	r.o.Disable()
	assert.Equal(t, indicator.Off, r.o.led.Pattern())
	assert.False(t, r.led.on)
	assert.False(t, r.timers.Armed(timer.Blink))
}
