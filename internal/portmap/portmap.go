// Package portmap holds the pre-defined port forwarding entries and the NAT
// portmap table they are loaded into.
package portmap

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// MaxEntries is the number of portmap slots in the NAT table.
const MaxEntries = 8

// Protocol is an IP protocol number.
type Protocol uint8

const (
	TCP Protocol = 6
	UDP Protocol = 17
)

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// ParseProtocol accepts "tcp", "udp" or a decimal protocol number.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return TCP, nil
	case "udp":
		return UDP, nil
	case "", "0":
		return 0, nil
	}
	var n uint8
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid protocol %q", s)
	}
	return Protocol(n), nil
}

// Direction selects which side may initiate a mapped connection.
type Direction uint8

const (
	// StationToAP maps traffic from the upstream network into the AP subnet.
	StationToAP Direction = 1
	// APToStation maps traffic from the AP subnet out to the upstream network.
	APToStation Direction = 2
)

func (d Direction) String() string {
	switch d {
	case StationToAP:
		return "station_to_ap"
	case APToStation:
		return "ap_to_station"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Entry is one configured portmap record.
type Entry struct {
	Enabled      bool
	Protocol     Protocol
	ExternalPort uint16
	Address      netip.Addr
	Port         uint16
	Direction    Direction
}

// Complete reports whether every field of the entry is set. Entries with any
// zero field are never loaded, even when enabled.
func (e Entry) Complete() bool {
	return e.Protocol != 0 &&
		e.ExternalPort != 0 &&
		e.Address.IsValid() && !e.Address.IsUnspecified() &&
		e.Port != 0 &&
		e.Direction != 0
}

// Mapping is a loaded NAT table entry. MappingAddress follows the station
// interface address and starts out unspecified.
type Mapping struct {
	Protocol       Protocol
	MappingAddress netip.Addr
	ExternalPort   uint16
	Address        netip.Addr
	Port           uint16
	Direction      Direction
}

// Mapping converts a configured entry into the record handed to the NAT table.
func (e Entry) Mapping() Mapping {
	return Mapping{
		Protocol:       e.Protocol,
		MappingAddress: netip.IPv4Unspecified(),
		ExternalPort:   e.ExternalPort,
		Address:        e.Address,
		Port:           e.Port,
		Direction:      e.Direction,
	}
}

func (m Mapping) String() string {
	return fmt.Sprintf("%s %s:%d -> %s:%d (%s)",
		m.Protocol, m.MappingAddress, m.ExternalPort, m.Address, m.Port, m.Direction)
}

// Adder installs a mapping into the NAT table.
type Adder interface {
	AddPortMapping(Mapping) error
}

// Load installs every enabled, complete entry. Entries are independent: a
// failing entry is reported in the joined error and the rest still load.
// The returned count is the number of entries installed.
func Load(a Adder, entries []Entry) (int, error) {
	var (
		loaded int
		errs   []error
	)
	for i, e := range entries {
		if i >= MaxEntries {
			errs = append(errs, fmt.Errorf("entry %d: %w", i+1, ErrTableFull))
			continue
		}
		if !e.Enabled || !e.Complete() {
			continue
		}
		if err := a.AddPortMapping(e.Mapping()); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i+1, err))
			continue
		}
		loaded++
	}
	return loaded, errors.Join(errs...)
}
