// Package presence announces the router on the networks it joins: a UDP
// metadata responder, a periodic vital-sign broadcast, an mDNS service and an
// optional MQTT heartbeat.
package presence

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Defaults for the UDP presence protocol.
const (
	ComPort           = 49152
	VitalSignPort     = 49153
	VitalSignInterval = 300 * time.Second
	RequestString     = "DEVICE_INFO\n"
	DefaultPurpose    = "WiFi NAPT Router"
)

// Identity supplies the address the router is currently known by.
type Identity interface {
	StationInfo() (net.HardwareAddr, netip.Addr)
}

// MetadataResponse formats the reply to a metadata request as a CSV line:
// purpose,mac,ip.
func MetadataResponse(purpose string, mac net.HardwareAddr, ip netip.Addr) string {
	return fmt.Sprintf("%s,%s,%s\n", purpose, mac, addrOrZero(ip))
}

// VitalSignLine formats a vital sign as a CSV line: mac,uptime in microseconds.
func VitalSignLine(mac net.HardwareAddr, uptime time.Duration) string {
	return fmt.Sprintf("%s,%d\n", mac, uptime.Microseconds())
}

// DirectedBroadcast returns the broadcast address of the IPv4 network that
// addr belongs to.
func DirectedBroadcast(addr netip.Addr, bits int) (netip.Addr, error) {
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("directed broadcast needs an IPv4 address, got %q", addr)
	}
	if bits < 0 || bits > 32 {
		return netip.Addr{}, fmt.Errorf("invalid prefix length %d", bits)
	}
	a := addr.As4()
	v := uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
	v |= ^uint32(0) >> uint(bits)
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}), nil
}

func addrOrZero(a netip.Addr) string {
	if !a.IsValid() {
		return "0.0.0.0"
	}
	return a.String()
}

// VitalSign is the CBOR heartbeat published over MQTT.
type VitalSign struct {
	MAC      string `cbor:"1,keyasint"`
	UptimeUS int64  `cbor:"2,keyasint"`
	IP       string `cbor:"3,keyasint,omitempty"`
	BootID   string `cbor:"4,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes the vital sign.
func (v VitalSign) Marshal() ([]byte, error) {
	return encMode.Marshal(v)
}

// DecodeVitalSign decodes a CBOR vital sign.
func DecodeVitalSign(data []byte) (VitalSign, error) {
	var v VitalSign
	if err := decMode.Unmarshal(data, &v); err != nil {
		return VitalSign{}, fmt.Errorf("decode vital sign: %w", err)
	}
	return v, nil
}
