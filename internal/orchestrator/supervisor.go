package orchestrator

import (
	"github.com/AaronLay10/napt-router/internal/events"
)

// tick is the connection supervisor. It reacts only to the connectivity flag
// and never retries on its own: a lost connection means a full reset.
func (o *Orchestrator) tick() {
	events.Emit("info", "watchdog.tick", "", map[string]interface{}{
		"connected": o.connected,
	})
	if o.connected {
		return
	}

	o.counters.WatchdogResets++
	events.Emit("warn", "watchdog.expired", "no upstream connectivity", map[string]interface{}{
		"station_ip": addrString(o.stationAddr),
	})
	o.Disable()
}
