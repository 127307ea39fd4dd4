package interactive

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/orchestrator"
)

func TestMain(m *testing.M) {
	events.SetOutput(nil)
	os.Exit(m.Run())
}

type fakeRouter struct {
	presses   int
	creds     [][2]string
	advanced  []time.Duration
	disables  int
	drops     int
	gotIPs    int
	deliverFn func() error
	status    orchestrator.Status
}

func (r *fakeRouter) Press() error { r.presses++; return nil }

func (r *fakeRouter) Status() (orchestrator.Status, error) { return r.status, nil }

func (r *fakeRouter) Deliver(ssid, password string) error {
	r.creds = append(r.creds, [2]string{ssid, password})
	if r.deliverFn != nil {
		return r.deliverFn()
	}
	return nil
}

func (r *fakeRouter) Disconnect() error { r.drops++; return nil }
func (r *fakeRouter) GotIP() error      { r.gotIPs++; return nil }

func (r *fakeRouter) Advance(d time.Duration) error {
	r.advanced = append(r.advanced, d)
	return nil
}

func (r *fakeRouter) Disable() error { r.disables++; return nil }

func TestExecuteDispatch(t *testing.T) {
	r := &fakeRouter{}
	c := &Console{router: r}
	var out bytes.Buffer

	assert.False(t, c.Execute(&out, "press"))
	assert.False(t, c.Execute(&out, "  creds HomeNet secret pass  "))
	assert.False(t, c.Execute(&out, "advance 300s"))
	assert.False(t, c.Execute(&out, "disconnect"))
	assert.False(t, c.Execute(&out, "gotip"))
	assert.False(t, c.Execute(&out, "disable"))
	assert.False(t, c.Execute(&out, ""))

	assert.Equal(t, 1, r.presses)
	assert.Equal(t, [][2]string{{"HomeNet", "secret pass"}}, r.creds)
	assert.Equal(t, []time.Duration{300 * time.Second}, r.advanced)
	assert.Equal(t, 1, r.drops)
	assert.Equal(t, 1, r.gotIPs)
	assert.Equal(t, 1, r.disables)
	assert.Contains(t, out.String(), "Credentials sent")
}

func TestExecuteQuit(t *testing.T) {
	c := &Console{router: &fakeRouter{}}
	var out bytes.Buffer
	assert.True(t, c.Execute(&out, "quit"))
	assert.True(t, c.Execute(&out, "Q"))
}

func TestExecuteBadInput(t *testing.T) {
	r := &fakeRouter{}
	c := &Console{router: r}
	var out bytes.Buffer

	c.Execute(&out, "advance soon")
	c.Execute(&out, "advance -1s")
	c.Execute(&out, "creds")
	c.Execute(&out, "events zero")
	c.Execute(&out, "reboot")

	assert.Empty(t, r.advanced)
	assert.Empty(t, r.creds)
	s := out.String()
	assert.Contains(t, s, "Invalid duration: soon")
	assert.Contains(t, s, "Invalid duration: -1s")
	assert.Contains(t, s, "Usage: creds")
	assert.Contains(t, s, "Invalid count: zero")
	assert.Contains(t, s, "Unknown command: reboot")
}

func TestExecuteReportsErrors(t *testing.T) {
	r := &fakeRouter{deliverFn: func() error { return errors.New("not listening") }}
	c := &Console{router: r}
	var out bytes.Buffer

	c.Execute(&out, "creds HomeNet pw")
	assert.Contains(t, out.String(), "Error: not listening")
	assert.NotContains(t, out.String(), "Credentials sent")
}

func TestStatusOutput(t *testing.T) {
	r := &fakeRouter{status: orchestrator.Status{
		State:             orchestrator.StateRouterActive,
		ProvisioningPhase: "idle",
		Attempt:           1,
		Connected:         true,
		StationAddress:    "10.0.0.42",
		ArmedSlots:        []string{"watchdog"},
		PortmapsLoaded:    1,
		LED:               "steady",
		PresenceEnabled:   true,
	}}
	c := &Console{router: r}
	var out bytes.Buffer

	c.Execute(&out, "status")
	s := out.String()
	assert.Contains(t, s, "router_active")
	assert.Contains(t, s, "10.0.0.42")
	assert.Contains(t, s, "watchdog")
}

func TestEventsCommand(t *testing.T) {
	events.Clear()
	_, err := events.Emit("info", "trigger.pressed", "", map[string]interface{}{"state": "idle"})
	require.NoError(t, err)

	c := &Console{router: &fakeRouter{}}
	var out bytes.Buffer
	c.Execute(&out, "events 5")
	assert.Contains(t, out.String(), "trigger.pressed state=idle")
}

func TestFormatEventSortsFields(t *testing.T) {
	line := FormatEvent(events.Event{
		Timestamp: "not a time",
		Level:     "warn",
		Name:      "watchdog.expired",
		Message:   "no upstream connectivity",
		Fields:    map[string]interface{}{"b": 2, "a": 1},
	})
	assert.Equal(t, `not a time warn  watchdog.expired "no upstream connectivity" a=1 b=2`, line)
}
