// Package interactive provides the simulation console for napt-router. The
// console drives a router running on a simulated fabric with a manual clock,
// so a whole provisioning and watchdog cycle can be walked through by hand.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/orchestrator"
)

// Router is the device as seen from the console.
type Router interface {
	Press() error
	Status() (orchestrator.Status, error)
	Deliver(ssid, password string) error
	Disconnect() error
	GotIP() error
	Advance(d time.Duration) error
	Disable() error
}

// Console handles the interactive command loop.
type Console struct {
	router Router
	rl     *readline.Instance
}

// New creates a console with a readline prompt.
func New(router Router) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "router> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{router: router, rl: rl}, nil
}

// Stdout returns a writer that coordinates with the readline prompt. Use it
// for log output so events do not garble the input line.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run reads commands until quit, EOF or ctx is cancelled.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	out := c.rl.Stdout()
	c.printHelp(out)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}

		if c.Execute(out, line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(out io.Writer, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp(out)

	case "press", "p":
		report(out, c.router.Press(), "Trigger pressed")

	case "status", "s":
		c.cmdStatus(out)

	case "creds", "c":
		c.cmdCreds(out, args)

	case "disconnect", "d":
		report(out, c.router.Disconnect(), "Upstream dropped")

	case "gotip":
		report(out, c.router.GotIP(), "Upstream address assigned")

	case "advance", "a":
		c.cmdAdvance(out, args)

	case "events", "e":
		c.cmdEvents(out, args)

	case "disable":
		report(out, c.router.Disable(), "Router disabled")

	case "quit", "exit", "q":
		fmt.Fprintln(out, "Exiting...")
		return true

	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp(out io.Writer) {
	fmt.Fprintln(out, `
Router Commands:
  Lifecycle:
    press              - Press the enable button
    status             - Show router state
    disable            - Tear the router down

  Provisioning:
    creds <ssid> <pw>  - Send credentials as the companion app would

  Upstream:
    disconnect         - Drop the upstream station link
    gotip              - Re-deliver the upstream address

  Clock:
    advance <dur>      - Move the manual clock forward (e.g. 500ms, 5m)

  General:
    events [n]         - Show the last n events (default 20)
    help               - Show this help
    quit               - Exit`)
}

func report(out io.Writer, err error, ok string) {
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(out, ok)
}

func (c *Console) cmdStatus(out io.Writer) {
	st, err := c.router.Status()
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}

	fmt.Fprintln(out, "\nRouter Status")
	fmt.Fprintln(out, "-------------------------------------------")
	fmt.Fprintf(out, "  State:          %s\n", st.State)
	fmt.Fprintf(out, "  Provisioning:   %s (attempt %d)\n", st.ProvisioningPhase, st.Attempt)
	fmt.Fprintf(out, "  Connected:      %v\n", st.Connected)
	if st.StationAddress != "" {
		fmt.Fprintf(out, "  Station IP:     %s\n", st.StationAddress)
	}
	fmt.Fprintf(out, "  Portmaps:       %d\n", st.PortmapsLoaded)
	fmt.Fprintf(out, "  LED:            %s\n", st.LED)
	fmt.Fprintf(out, "  Presence:       %v\n", st.PresenceEnabled)
	fmt.Fprintf(out, "  Armed timers:   %s\n", strings.Join(st.ArmedSlots, ", "))
	fmt.Fprintln(out)
}

func (c *Console) cmdCreds(out io.Writer, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: creds <ssid> [password]")
		return
	}
	password := strings.Join(args[1:], " ")
	report(out, c.router.Deliver(args[0], password), "Credentials sent")
}

func (c *Console) cmdAdvance(out io.Writer, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: advance <duration>")
		fmt.Fprintln(out, "  Example: advance 300s")
		return
	}
	d, err := time.ParseDuration(args[0])
	if err != nil || d <= 0 {
		fmt.Fprintf(out, "Invalid duration: %s\n", args[0])
		return
	}
	report(out, c.router.Advance(d), "Clock advanced "+d.String())
}

func (c *Console) cmdEvents(out io.Writer, args []string) {
	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			fmt.Fprintf(out, "Invalid count: %s\n", args[0])
			return
		}
		n = v
	}

	recent := events.RecentEvents(n)
	if len(recent) == 0 {
		fmt.Fprintln(out, "No events")
		return
	}
	for _, e := range recent {
		fmt.Fprintln(out, FormatEvent(e))
	}
}

// FormatEvent renders an event as one short line.
func FormatEvent(e events.Event) string {
	var b strings.Builder
	ts := e.Timestamp
	if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		ts = t.Local().Format("15:04:05.000")
	}
	fmt.Fprintf(&b, "%s %-5s %s", ts, e.Level, e.Name)
	if e.Message != "" {
		fmt.Fprintf(&b, " %q", e.Message)
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	return b.String()
}
