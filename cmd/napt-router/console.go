package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/napt-router/cmd/napt-router/interactive"
	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/fabric"
	"github.com/AaronLay10/napt-router/internal/orchestrator"
	"github.com/AaronLay10/napt-router/internal/presence"
	"github.com/AaronLay10/napt-router/internal/provisioning"
	"github.com/AaronLay10/napt-router/internal/timer"
)

// advanceStep bounds how far the manual clock moves per loop turn so events
// raised by one expiry are handled before the next.
const advanceStep = 100 * time.Millisecond

var consolePresence bool

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Drive a simulated router interactively on a manual clock",
	RunE:  runConsole,
}

func init() {
	addDeviceFlags(consoleCmd)
	consoleCmd.Flags().BoolVar(&consolePresence, "presence", false, "run the configured presence services on the host network")
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := deviceOptionsFromFlags()
	if err != nil {
		return err
	}
	clock := timer.NewManual()
	opts.timers = func(func(func()) bool) timer.Scheduler { return clock }
	if !consolePresence {
		opts.presence = func(*device) []presence.Service { return nil }
	}

	d, err := newDevice(cfg, secrets, opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := d.start(ctx); err != nil {
		d.stop()
		return fmt.Errorf("boot: %w", err)
	}
	defer d.stop()

	console, err := interactive.New(&simRouter{d: d, clock: clock})
	if err != nil {
		return err
	}
	events.SetOutput(nil)
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)
	go func() {
		for e := range sub {
			fmt.Fprintln(console.Stdout(), interactive.FormatEvent(e))
		}
	}()
	defer events.SetOutput(os.Stdout)

	console.Run(ctx, cancel)
	return nil
}

// simRouter adapts a simulated device to the console.
type simRouter struct {
	d     *device
	clock *timer.Manual
}

func (r *simRouter) Press() error {
	return r.d.do(context.Background(), r.d.orch.OnTrigger)
}

func (r *simRouter) Status() (st orchestrator.Status, err error) {
	err = r.d.do(context.Background(), func() { st = r.d.orch.Status() })
	return st, err
}

func (r *simRouter) Deliver(ssid, password string) error {
	if r.d.inbox == nil {
		return fmt.Errorf("credentials come from a provisioning script: %w", provisioning.ErrNotListening)
	}
	return r.d.inbox.Deliver(provisioning.Credentials{SSID: ssid, Password: password})
}

func (r *simRouter) Disconnect() error {
	st := r.d.fabric.State()
	r.d.fabric.Emit(fabric.Event{Kind: fabric.StationDisconnected, SSID: st.StationSSID, Reason: 8})
	return nil
}

func (r *simRouter) GotIP() error {
	lease := fabric.DefaultLease()
	r.d.fabric.Emit(fabric.Event{
		Kind:    fabric.StationGotIP,
		Address: lease.Address,
		Netmask: lease.Netmask,
		Gateway: lease.Gateway,
	})
	return nil
}

// Advance moves the clock in steps, each on its own loop turn.
func (r *simRouter) Advance(total time.Duration) error {
	for total > 0 {
		step := min(total, advanceStep)
		if err := r.d.do(context.Background(), func() { r.clock.Advance(step) }); err != nil {
			return err
		}
		total -= step
	}
	return nil
}

func (r *simRouter) Disable() error {
	return r.d.do(context.Background(), r.d.orch.Disable)
}
