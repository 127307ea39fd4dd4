package fabric

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/AaronLay10/napt-router/internal/portmap"
)

// Sim errors.
var (
	ErrWrongMode      = errors.New("wrong radio mode")
	ErrNoStationConf  = errors.New("no station config")
	ErrNoAPIPConfig   = errors.New("access point ip config not set")
	ErrLeaseOutOfNet  = errors.New("dhcp lease range outside access point network")
	ErrLeaseTooLarge  = errors.New("dhcp lease range exceeds 100 addresses")
	ErrInvalidAddress = errors.New("invalid address")
)

// Lease is the upstream address the simulated access point hands out.
type Lease struct {
	Address netip.Addr
	Netmask netip.Addr
	Gateway netip.Addr
}

// SimState is a snapshot of everything the Sim has been told.
type SimState struct {
	Mode          Mode
	StationSSID   string
	Associated    bool
	StationAddr   netip.Addr
	AP            APConfig
	APConfigured  bool
	APIP          IPConfig
	DHCPStart     netip.Addr
	DHCPEnd       netip.Addr
	NATGateway    netip.Addr
	DNS           netip.Addr
	HandlerActive bool
}

// Sim is an in-memory Fabric. Events are queued and delivered either through
// the dispatcher set with SetDispatcher or explicitly with Flush, never from
// inside the call that caused them.
type Sim struct {
	mu sync.Mutex

	stationMAC net.HardwareAddr
	apMAC      net.HardwareAddr
	upstream   Lease
	known      map[string]string

	state   SimState
	table   *portmap.Table
	handler func(Event)
	pending []Event
	post    func(func()) bool

	failures map[string]error
	calls    []string
}

// NewSim creates a Sim whose station accepts any credentials and is offered
// the given upstream lease.
func NewSim(stationMAC, apMAC net.HardwareAddr, upstream Lease) *Sim {
	return &Sim{
		stationMAC: stationMAC,
		apMAC:      apMAC,
		upstream:   upstream,
		table:      portmap.NewTable(),
		failures:   make(map[string]error),
	}
}

// DefaultLease is the upstream lease used by the console and --sim mode.
func DefaultLease() Lease {
	return Lease{
		Address: netip.MustParseAddr("10.0.0.42"),
		Netmask: netip.MustParseAddr("255.255.255.0"),
		Gateway: netip.MustParseAddr("10.0.0.1"),
	}
}

// SetDispatcher makes the Sim post each event through post as soon as it is
// raised. Without a dispatcher events wait for Flush.
func (s *Sim) SetDispatcher(post func(func()) bool) {
	s.mu.Lock()
	s.post = post
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ev := range pending {
		s.dispatch(ev)
	}
}

// RequireCredentials restricts association to the given networks.
func (s *Sim) RequireCredentials(known map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = known
}

// Fail makes every subsequent call to method return err until cleared with a
// nil err.
func (s *Sim) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Sim) enter(method string, args ...interface{}) error {
	call := method
	if len(args) > 0 {
		call = fmt.Sprintf("%s%v", method, args)
	}
	s.calls = append(s.calls, call)
	return s.failures[method]
}

// Calls returns the recorded method calls in order.
func (s *Sim) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// ResetCalls clears the call log.
func (s *Sim) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// State returns a snapshot of the simulated fabric.
func (s *Sim) State() SimState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Table exposes the simulated NAT portmap table.
func (s *Sim) Table() *portmap.Table {
	return s.table
}

// SetMode implements Fabric.
func (s *Sim) SetMode(m Mode) error {
	s.mu.Lock()
	if err := s.enter("SetMode", m); err != nil {
		s.mu.Unlock()
		return err
	}
	wasAssociated := s.state.Associated
	s.state.Mode = m
	if !m.HasStation() && wasAssociated {
		s.state.Associated = false
		s.state.StationAddr = netip.Addr{}
	}
	if !m.HasAP() {
		s.state.APConfigured = false
	}
	ssid := s.state.StationSSID
	s.mu.Unlock()

	if !m.HasStation() && wasAssociated {
		s.raise(Event{Kind: StationDisconnected, SSID: ssid, Reason: 8})
	}
	return nil
}

// SetStationConfig implements Fabric.
func (s *Sim) SetStationConfig(ssid, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetStationConfig", ssid); err != nil {
		return err
	}
	if !s.state.Mode.HasStation() {
		return ErrWrongMode
	}
	if ssid == "" {
		return ErrNoStationConf
	}
	if s.known != nil {
		if want, ok := s.known[ssid]; !ok || want != password {
			return fmt.Errorf("station config %q rejected", ssid)
		}
	}
	s.state.StationSSID = ssid
	return nil
}

// Connect implements Fabric. A successful association is followed by a
// StationConnected and a StationGotIP event.
func (s *Sim) Connect() error {
	s.mu.Lock()
	if err := s.enter("Connect"); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.state.Mode.HasStation() {
		s.mu.Unlock()
		return ErrWrongMode
	}
	if s.state.StationSSID == "" {
		s.mu.Unlock()
		return ErrNoStationConf
	}
	s.state.Associated = true
	lease := s.upstream
	ssid := s.state.StationSSID
	if lease.Address.IsValid() {
		s.state.StationAddr = lease.Address
	}
	s.mu.Unlock()

	s.raise(Event{Kind: StationConnected, SSID: ssid, Channel: 6})
	if lease.Address.IsValid() {
		s.raise(Event{
			Kind:    StationGotIP,
			Address: lease.Address,
			Netmask: lease.Netmask,
			Gateway: lease.Gateway,
		})
	}
	return nil
}

// Disconnect implements Fabric.
func (s *Sim) Disconnect() error {
	s.mu.Lock()
	if err := s.enter("Disconnect"); err != nil {
		s.mu.Unlock()
		return err
	}
	wasAssociated := s.state.Associated
	ssid := s.state.StationSSID
	s.state.Associated = false
	s.state.StationAddr = netip.Addr{}
	s.mu.Unlock()

	if wasAssociated {
		s.raise(Event{Kind: StationDisconnected, SSID: ssid, Reason: 8})
	}
	return nil
}

// SetEventHandler implements Fabric.
func (s *Sim) SetEventHandler(h func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enter("SetEventHandler")
	s.handler = h
	s.state.HandlerActive = h != nil
}

// APMAC implements Fabric.
func (s *Sim) APMAC() (net.HardwareAddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("APMAC"); err != nil {
		return nil, err
	}
	return s.apMAC, nil
}

// ConfigureAccessPoint implements Fabric.
func (s *Sim) ConfigureAccessPoint(c APConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ConfigureAccessPoint", c.SSID); err != nil {
		return err
	}
	if !s.state.Mode.HasAP() {
		return ErrWrongMode
	}
	s.state.AP = c
	s.state.APConfigured = true
	return nil
}

// SetIPConfig implements Fabric.
func (s *Sim) SetIPConfig(c IPConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetIPConfig", c.Address); err != nil {
		return err
	}
	if _, err := c.Prefix(); err != nil {
		return err
	}
	s.state.APIP = c
	return nil
}

// SetDHCPLeaseRange implements Fabric.
func (s *Sim) SetDHCPLeaseRange(start, end netip.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetDHCPLeaseRange", start, end); err != nil {
		return err
	}
	if !s.state.APIP.Address.IsValid() {
		return ErrNoAPIPConfig
	}
	if err := CheckLeaseRange(s.state.APIP, start, end); err != nil {
		return err
	}
	s.state.DHCPStart = start
	s.state.DHCPEnd = end
	return nil
}

// EnableNAT implements Fabric.
func (s *Sim) EnableNAT(gw netip.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("EnableNAT", gw); err != nil {
		return err
	}
	if !gw.IsValid() {
		return ErrInvalidAddress
	}
	s.state.NATGateway = gw
	return nil
}

// SetDNSServer implements Fabric.
func (s *Sim) SetDNSServer(addr netip.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetDNSServer", addr); err != nil {
		return err
	}
	if !addr.IsValid() {
		return ErrInvalidAddress
	}
	s.state.DNS = addr
	return nil
}

// AddPortMapping implements Fabric.
func (s *Sim) AddPortMapping(m portmap.Mapping) error {
	s.mu.Lock()
	err := s.enter("AddPortMapping", m.ExternalPort)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.table.AddPortMapping(m)
}

// UpdatePortMappingAddress implements Fabric.
func (s *Sim) UpdatePortMappingAddress(addr netip.Addr) error {
	s.mu.Lock()
	err := s.enter("UpdatePortMappingAddress", addr)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.table.UpdateAddress(addr)
	return nil
}

// StationInfo implements Fabric.
func (s *Sim) StationInfo() (net.HardwareAddr, netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stationMAC, s.state.StationAddr
}

// Emit raises an arbitrary event, as if it came from the radio.
func (s *Sim) Emit(ev Event) {
	s.mu.Lock()
	switch ev.Kind {
	case StationDisconnected:
		s.state.Associated = false
		s.state.StationAddr = netip.Addr{}
	case StationGotIP:
		s.state.StationAddr = ev.Address
	}
	s.mu.Unlock()
	s.raise(ev)
}

func (s *Sim) raise(ev Event) {
	s.mu.Lock()
	if s.post == nil {
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.dispatch(ev)
}

func (s *Sim) dispatch(ev Event) {
	s.mu.Lock()
	post := s.post
	s.mu.Unlock()
	post(func() { s.deliver(ev) })
}

// deliver hands ev to the handler registered at delivery time. Events raised
// while no handler is registered are dropped, as on the radio.
func (s *Sim) deliver(ev Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Flush delivers queued events on the calling goroutine, including events
// raised by handlers while flushing. It returns the number delivered.
func (s *Sim) Flush() int {
	n := 0
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return n
		}
		ev := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.deliver(ev)
		n++
	}
}

// Pending returns the number of queued events.
func (s *Sim) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// CheckLeaseRange validates a DHCP lease range against the access point
// network: both ends inside the subnet, ordered, and at most 100 apart.
func CheckLeaseRange(ap IPConfig, start, end netip.Addr) error {
	prefix, err := ap.Prefix()
	if err != nil {
		return err
	}
	if !prefix.Contains(start) || !prefix.Contains(end) {
		return ErrLeaseOutOfNet
	}
	s4, e4 := start.As4(), end.As4()
	lo := uint32(s4[0])<<24 | uint32(s4[1])<<16 | uint32(s4[2])<<8 | uint32(s4[3])
	hi := uint32(e4[0])<<24 | uint32(e4[1])<<16 | uint32(e4[2])<<8 | uint32(e4[3])
	if hi < lo {
		return fmt.Errorf("dhcp lease range %s-%s is reversed", start, end)
	}
	if hi-lo > 100 {
		return ErrLeaseTooLarge
	}
	return nil
}
