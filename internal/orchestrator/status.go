package orchestrator

import (
	"time"

	"github.com/AaronLay10/napt-router/internal/timer"
)

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	State             State     `json:"state"`
	Since             time.Time `json:"since"`
	ProvisioningPhase string    `json:"provisioning_phase"`
	Attempt           int       `json:"provisioning_attempt"`
	Connected         bool      `json:"connected"`
	StationAddress    string    `json:"station_address,omitempty"`
	ArmedSlots        []string  `json:"armed_slots"`
	PortmapsLoaded    int       `json:"portmaps_loaded"`
	LED               string    `json:"led"`
	PresenceEnabled   bool      `json:"presence_enabled"`
	Counters          Counters  `json:"counters"`
}

// Status builds a snapshot. Like every other method it must run on the loop.
func (o *Orchestrator) Status() Status {
	slots := timer.ArmedSlots(o.timers)
	names := make([]string, 0, len(slots))
	for _, s := range slots {
		names = append(names, s.String())
	}

	return Status{
		State:             o.state,
		Since:             o.since,
		ProvisioningPhase: o.session.Phase().String(),
		Attempt:           o.session.Attempt(),
		Connected:         o.connected,
		StationAddress:    addrString(o.stationAddr),
		ArmedSlots:        names,
		PortmapsLoaded:    o.portmaps,
		LED:               o.led.Pattern().String(),
		PresenceEnabled:   o.presenceOn,
		Counters:          o.counters,
	}
}
