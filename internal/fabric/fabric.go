// Package fabric defines the network fabric the router drives: the radio
// modes, station association, soft access point, DHCP, NAT and DNS.
package fabric

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/AaronLay10/napt-router/internal/portmap"
)

// Mode is the radio operating mode.
type Mode int

const (
	ModeNull Mode = iota
	ModeStation
	ModeSoftAP
	ModeStationAP
)

func (m Mode) String() string {
	switch m {
	case ModeNull:
		return "null"
	case ModeStation:
		return "station"
	case ModeSoftAP:
		return "softap"
	case ModeStationAP:
		return "station+softap"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// HasStation reports whether the station interface is up in this mode.
func (m Mode) HasStation() bool {
	return m == ModeStation || m == ModeStationAP
}

// HasAP reports whether the soft access point is up in this mode.
func (m Mode) HasAP() bool {
	return m == ModeSoftAP || m == ModeStationAP
}

// APConfig configures the soft access point.
type APConfig struct {
	SSID       string
	Password   string
	Open       bool
	MaxClients int
	Hidden     bool
}

// IPConfig is an interface address assignment.
type IPConfig struct {
	Address netip.Addr
	Netmask netip.Addr
	Gateway netip.Addr
}

// Prefix returns the network the address belongs to.
func (c IPConfig) Prefix() (netip.Prefix, error) {
	if !c.Address.Is4() || !c.Netmask.Is4() {
		return netip.Prefix{}, fmt.Errorf("invalid ip config %s/%s", c.Address, c.Netmask)
	}
	m := c.Netmask.As4()
	ones, bits := net.IPMask(m[:]).Size()
	if bits == 0 {
		return netip.Prefix{}, fmt.Errorf("non-contiguous netmask %s", c.Netmask)
	}
	return c.Address.Prefix(ones)
}

// Fabric is everything the orchestrator needs from the network stack. Calls
// are made from the run loop and must not block. Outcomes of Connect arrive
// later through the event handler.
type Fabric interface {
	SetMode(Mode) error
	Connect() error
	Disconnect() error
	SetStationConfig(ssid, password string) error

	// SetEventHandler registers the single event callback. nil clears it.
	SetEventHandler(func(Event))

	APMAC() (net.HardwareAddr, error)
	ConfigureAccessPoint(APConfig) error
	SetIPConfig(IPConfig) error

	// SetDHCPLeaseRange stops the DHCP server, applies the range and starts
	// it again.
	SetDHCPLeaseRange(start, end netip.Addr) error
	EnableNAT(gateway netip.Addr) error
	SetDNSServer(netip.Addr) error

	AddPortMapping(portmap.Mapping) error
	UpdatePortMappingAddress(netip.Addr) error

	// StationInfo returns the station MAC and its current address, which is
	// invalid until an address was acquired.
	StationInfo() (net.HardwareAddr, netip.Addr)
}
