package main

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/napt-router/internal/config"
	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/orchestrator"
	"github.com/AaronLay10/napt-router/internal/presence"
	"github.com/AaronLay10/napt-router/internal/provisioning"
	"github.com/AaronLay10/napt-router/internal/timer"
)

func TestMain(m *testing.M) {
	events.SetOutput(nil)
	os.Exit(m.Run())
}

func newSimDevice(t *testing.T, script []provisioning.Step) (*device, *simRouter) {
	t.Helper()
	stationMAC, err := parseMAC("5c:cf:7f:00:00:01")
	require.NoError(t, err)
	apMAC, err := parseMAC("5e:cf:7f:00:00:01")
	require.NoError(t, err)

	clock := timer.NewManual()
	d, err := newDevice(config.Default(), config.Secrets{}, deviceOptions{
		stationMAC: stationMAC,
		apMAC:      apMAC,
		timers:     func(func(func()) bool) timer.Scheduler { return clock },
		script:     script,
		presence:   func(*device) []presence.Service { return nil },
	})
	require.NoError(t, err)
	require.NoError(t, d.start(context.Background()))
	t.Cleanup(d.stop)
	return d, &simRouter{d: d, clock: clock}
}

func status(t *testing.T, r *simRouter) orchestrator.Status {
	t.Helper()
	st, err := r.Status()
	require.NoError(t, err)
	return st
}

func TestSimDeviceFullCycle(t *testing.T) {
	_, r := newSimDevice(t, nil)

	assert.Equal(t, orchestrator.StateIdle, status(t, r).State)

	require.NoError(t, r.Press())
	assert.Equal(t, orchestrator.StateProvisioning, status(t, r).State)

	require.NoError(t, r.Deliver("HomeNet", "hunter22"))
	require.NoError(t, r.Advance(time.Second))

	st := status(t, r)
	assert.Equal(t, orchestrator.StateRouterActive, st.State)
	assert.True(t, st.Connected)
	assert.Equal(t, "10.0.0.42", st.StationAddress)
	assert.Equal(t, 1, st.PortmapsLoaded)
	assert.Contains(t, st.ArmedSlots, "watchdog")

	require.NoError(t, r.Disconnect())
	require.NoError(t, r.Advance(300*time.Second))

	st = status(t, r)
	assert.Equal(t, orchestrator.StateIdle, st.State)
	assert.False(t, st.Connected)
	assert.Equal(t, uint64(1), st.Counters.WatchdogResets)
	assert.Empty(t, st.ArmedSlots)
}

func TestSimDeviceScriptedProvisioning(t *testing.T) {
	_, r := newSimDevice(t, provisioning.SuccessScript("HomeNet", "hunter22"))

	err := r.Deliver("Other", "password1")
	assert.True(t, errors.Is(err, provisioning.ErrNotListening))

	require.NoError(t, r.Press())
	// The script plays on wall-clock timers.
	require.Eventually(t, func() bool {
		return status(t, r).ProvisioningPhase == provisioning.PhaseLinkEstablished.String()
	}, 15*time.Second, 50*time.Millisecond)
	require.NoError(t, r.Advance(time.Second))
	assert.Equal(t, orchestrator.StateRouterActive, status(t, r).State)

	require.NoError(t, r.Disable())
	assert.Equal(t, orchestrator.StateIdle, status(t, r).State)
}

func TestSimDeviceDeliverWithoutSession(t *testing.T) {
	_, r := newSimDevice(t, nil)
	assert.ErrorIs(t, r.Deliver("HomeNet", "hunter22"), provisioning.ErrNotListening)
}

func TestControllerProvision(t *testing.T) {
	d, _ := newSimDevice(t, nil)
	c := controller{d: d}
	ctx := context.Background()

	require.NoError(t, c.Trigger(ctx))
	require.NoError(t, c.Provision(ctx, provisioning.Credentials{SSID: "HomeNet", Password: "hunter22"}))

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, orchestrator.StateIdle, st.State)

	require.NoError(t, c.Disable(ctx))
	st, err = c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateIdle, st.State)
}

func TestParseMAC(t *testing.T) {
	mac, err := parseMAC(" 5c:cf:7f:00:00:01 ")
	require.NoError(t, err)
	assert.Equal(t, "5c:cf:7f:00:00:01", mac.String())

	_, err = parseMAC("00:00:00:00:fe:80:00:00:00:00:00:00:02:00:5e:10:00:00:00:01")
	assert.Error(t, err)
	_, err = parseMAC("nope")
	assert.Error(t, err)
}

func TestDeviceOptionsFromFlags(t *testing.T) {
	defer func() { provisionScript = "" }()

	provisionScript = "HomeNet:hunter22"
	opts, err := deviceOptionsFromFlags()
	require.NoError(t, err)
	assert.NotEmpty(t, opts.script)

	provisionScript = "missing-separator"
	_, err = deviceOptionsFromFlags()
	assert.Error(t, err)
}
