// Package provisioning runs the credential provisioning session: it waits for
// a companion app to hand over WiFi credentials, points the station interface
// at the received network and retries on phase timeouts up to a fixed limit.
package provisioning

import (
	"fmt"

	"github.com/AaronLay10/napt-router/internal/fabric"
)

// Status is a progress report from the provisioning mechanism.
type Status int

const (
	// StatusWait: mechanism started, waiting for the companion app.
	StatusWait Status = iota
	// StatusFindChannel: scanning channels for the companion app.
	StatusFindChannel
	// StatusGettingCredentials: receiving SSID and password.
	StatusGettingCredentials
	// StatusLink: credentials received; carries them.
	StatusLink
	// StatusLinkOver: the link is established and the exchange is finished.
	StatusLinkOver
)

func (s Status) String() string {
	switch s {
	case StatusWait:
		return "wait"
	case StatusFindChannel:
		return "find_channel"
	case StatusGettingCredentials:
		return "getting_credentials"
	case StatusLink:
		return "link"
	case StatusLinkOver:
		return "link_over"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Credentials are the upstream network details received from the companion app.
type Credentials struct {
	SSID     string
	Password string
}

// Mechanism is the out-of-band credential exchange. Status callbacks must be
// delivered on the run loop, never from inside Start or Stop.
type Mechanism interface {
	Start(onStatus func(Status, *Credentials)) error
	Stop()
}

// Station is the part of the network fabric the session drives.
type Station interface {
	SetMode(fabric.Mode) error
	Disconnect() error
	SetStationConfig(ssid, password string) error
	Connect() error
}
