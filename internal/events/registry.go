package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// router lifecycle
	"router.enabled":        {},
	"router.disabled":       {},
	"router.state_changed":  {},
	"router.active":         {},
	"router.bringup":        {},
	"router.bringup_failed": {},

	// provisioning session
	"provisioning.started":     {},
	"provisioning.status":      {},
	"provisioning.credentials": {},
	"provisioning.timeout":     {},
	"provisioning.retry":       {},
	"provisioning.succeeded":   {},
	"provisioning.failed":      {},
	"provisioning.stopped":     {},

	// connection supervisor
	"watchdog.armed":   {},
	"watchdog.tick":    {},
	"watchdog.expired": {},

	// station interface
	"station.connected":        {},
	"station.disconnected":     {},
	"station.authmode_changed": {},
	"station.got_ip":           {},

	// soft access point
	"softap.configured":    {},
	"softap.client_joined": {},
	"softap.client_left":   {},

	// portmap
	"portmap.loaded":  {},
	"portmap.failed":  {},
	"portmap.updated": {},

	// presence
	"presence.enabled":  {},
	"presence.disabled": {},
	"presence.request":  {},
	"presence.beacon":   {},
	"presence.error":    {},

	// peers seen on the broker
	"peer.online":  {},
	"peer.offline": {},
	"peer.invalid": {},

	// indicator
	"indicator.changed":  {},
	"indicator.degraded": {},

	// trigger
	"trigger.pressed": {},
	"trigger.ignored": {},
	"trigger.armed":   {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
