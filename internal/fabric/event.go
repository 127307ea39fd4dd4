package fabric

import (
	"fmt"
	"net"
	"net/netip"
)

// EventKind identifies a network event.
type EventKind int

const (
	StationConnected EventKind = iota + 1
	StationDisconnected
	StationAuthModeChanged
	StationGotIP
	APClientJoined
	APClientLeft
)

func (k EventKind) String() string {
	switch k {
	case StationConnected:
		return "station_connected"
	case StationDisconnected:
		return "station_disconnected"
	case StationAuthModeChanged:
		return "station_authmode_changed"
	case StationGotIP:
		return "station_got_ip"
	case APClientJoined:
		return "ap_client_joined"
	case APClientLeft:
		return "ap_client_left"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a network notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// StationConnected, StationDisconnected
	SSID    string
	Channel int
	Reason  int

	// StationAuthModeChanged
	OldAuthMode int
	NewAuthMode int

	// StationGotIP
	Address netip.Addr
	Netmask netip.Addr
	Gateway netip.Addr

	// APClientJoined, APClientLeft
	ClientMAC net.HardwareAddr
	AID       int
}

// Fields flattens the event for structured logging.
func (e Event) Fields() map[string]interface{} {
	f := map[string]interface{}{"kind": e.Kind.String()}
	switch e.Kind {
	case StationConnected:
		f["ssid"] = e.SSID
		f["channel"] = e.Channel
	case StationDisconnected:
		f["ssid"] = e.SSID
		f["reason"] = e.Reason
	case StationAuthModeChanged:
		f["old_mode"] = e.OldAuthMode
		f["new_mode"] = e.NewAuthMode
	case StationGotIP:
		f["ip"] = e.Address.String()
		f["netmask"] = e.Netmask.String()
		f["gateway"] = e.Gateway.String()
	case APClientJoined, APClientLeft:
		f["mac"] = e.ClientMAC.String()
		f["aid"] = e.AID
	}
	return f
}
