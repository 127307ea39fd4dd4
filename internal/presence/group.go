package presence

import (
	"errors"
	"fmt"

	"github.com/AaronLay10/napt-router/internal/events"
)

// Service is one presence service.
type Service interface {
	Name() string
	Enable() error
	Disable()
}

// Group gates a set of services together.
type Group struct {
	services []Service
	enabled  bool
}

// NewGroup creates a group over services. Nil entries are skipped.
func NewGroup(services ...Service) *Group {
	g := &Group{}
	for _, s := range services {
		if s != nil {
			g.services = append(g.services, s)
		}
	}
	return g
}

// Services returns the member services.
func (g *Group) Services() []Service { return g.services }

// Enabled reports whether the group is enabled.
func (g *Group) Enabled() bool { return g.enabled }

// Enable enables every service. A failing service does not stop the others;
// the failures are joined into the returned error.
func (g *Group) Enable() error {
	if g.enabled {
		return nil
	}
	g.enabled = true

	var errs []error
	var names []string
	for _, s := range g.services {
		if err := s.Enable(); err != nil {
			events.Emit("warn", "presence.error", "service failed to start", map[string]interface{}{
				"service": s.Name(),
				"error":   err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		names = append(names, s.Name())
	}
	events.Emit("info", "presence.enabled", "", map[string]interface{}{
		"services": names,
	})
	return errors.Join(errs...)
}

// Disable disables every service in reverse order. It is idempotent.
func (g *Group) Disable() {
	if !g.enabled {
		return
	}
	g.enabled = false
	for i := len(g.services) - 1; i >= 0; i-- {
		g.services[i].Disable()
	}
	events.Emit("info", "presence.disabled", "", nil)
}
