package orchestrator

import (
	"fmt"
	"net/netip"

	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/fabric"
	"github.com/AaronLay10/napt-router/internal/portmap"
)

// DefaultDNS is used when no DNS server is configured.
var DefaultDNS = netip.AddrFrom4([4]byte{8, 8, 8, 8})

// RouterConfig describes the soft access point and its network.
type RouterConfig struct {
	SSIDPrefix string
	Password   string
	Open       bool
	MaxClients int
	Hidden     bool

	Address netip.Addr
	Netmask netip.Addr
	Gateway netip.Addr

	DHCPStart netip.Addr
	DHCPEnd   netip.Addr
	DNS       netip.Addr

	Portmaps []portmap.Entry
}

// DefaultRouterConfig returns the stock access point settings.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		SSIDPrefix: "ESP_ROUTER",
		MaxClients: 8,
		Address:    netip.MustParseAddr("192.168.13.1"),
		Netmask:    netip.MustParseAddr("255.255.255.0"),
		Gateway:    netip.MustParseAddr("192.168.13.1"),
		DHCPStart:  netip.MustParseAddr("192.168.13.2"),
		DHCPEnd:    netip.MustParseAddr("192.168.13.64"),
	}
}

// RouterAddress is the configured address with the host part forced to .1.
func (c RouterConfig) RouterAddress() netip.Addr {
	if !c.Address.Is4() {
		return c.Address
	}
	a := c.Address.As4()
	a[3] = 1
	return netip.AddrFrom4(a)
}

// DNSServer returns the configured DNS server or DefaultDNS.
func (c RouterConfig) DNSServer() netip.Addr {
	if c.DNS.IsValid() && !c.DNS.IsUnspecified() {
		return c.DNS
	}
	return DefaultDNS
}

// SSID builds the access point name from the prefix and the AP MAC.
func (c RouterConfig) SSID(apMAC []byte) string {
	return fmt.Sprintf("%s_%02x:%02x:%02x:%02x:%02x:%02x", c.SSIDPrefix,
		at(apMAC, 0), at(apMAC, 1), at(apMAC, 2), at(apMAC, 3), at(apMAC, 4), at(apMAC, 5))
}

func at(b []byte, i int) byte {
	if i < len(b) {
		return b[i]
	}
	return 0
}

// initRouter clears connectivity, takes over the fabric's event handler and
// loads the portmap entries. Portmap failures are logged only.
func (o *Orchestrator) initRouter() {
	o.connected = false
	o.stationAddr = netip.Addr{}
	o.bringupDone = false
	o.radioOwned = true

	o.fabric.SetEventHandler(o.handleEvent)

	n, err := portmap.Load(o.fabric, o.cfg.Router.Portmaps)
	o.portmaps = n
	if err != nil {
		events.Emit("warn", "portmap.failed", "some portmap entries were not loaded", map[string]interface{}{
			"loaded": n,
			"error":  err.Error(),
		})
	}
	events.Emit("info", "portmap.loaded", "", map[string]interface{}{
		"loaded": n,
	})
}

// handleEvent is the fabric's event callback. A station disconnect only
// clears the connectivity flag; teardown is left to the next watchdog tick.
func (o *Orchestrator) handleEvent(ev fabric.Event) {
	switch ev.Kind {
	case fabric.StationConnected:
		events.Emit("info", "station.connected", "", ev.Fields())

	case fabric.StationDisconnected:
		o.connected = false
		events.Emit("warn", "station.disconnected", "", ev.Fields())

	case fabric.StationAuthModeChanged:
		events.Emit("info", "station.authmode_changed", "", ev.Fields())

	case fabric.StationGotIP:
		o.stationAddr = ev.Address
		events.Emit("info", "station.got_ip", "", ev.Fields())
		o.bringUp(ev.Address)

	case fabric.APClientJoined:
		events.Emit("info", "softap.client_joined", "", ev.Fields())

	case fabric.APClientLeft:
		events.Emit("info", "softap.client_left", "", ev.Fields())
	}
}

// bringUp configures the access point, DHCP, NAT and DNS for a freshly
// acquired station address. Connectivity is set only when every step
// succeeds; otherwise it stays false and the watchdog resets the router.
func (o *Orchestrator) bringUp(addr netip.Addr) {
	o.connected = false
	cfg := o.cfg.Router

	if err := o.fabric.UpdatePortMappingAddress(addr); err != nil {
		events.Emit("warn", "portmap.failed", "mapping address not updated", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		events.Emit("info", "portmap.updated", "", map[string]interface{}{
			"mapping_address": addr.String(),
		})
	}

	step, err := o.configureAP(cfg)
	if err != nil {
		o.counters.BringupFailures++
		events.Emit("error", "router.bringup_failed", "", map[string]interface{}{
			"step":  step,
			"error": err.Error(),
		})
		return
	}

	o.connected = true
	o.bringupDone = true
	o.counters.Bringups++
	events.Emit("info", "router.bringup", "", map[string]interface{}{
		"station_ip": addr.String(),
		"router_ip":  cfg.RouterAddress().String(),
		"dns":        cfg.DNSServer().String(),
	})
}

// configureAP runs the bring-up sequence and names the step that failed.
func (o *Orchestrator) configureAP(cfg RouterConfig) (string, error) {
	if err := o.fabric.SetMode(fabric.ModeStationAP); err != nil {
		return "set_mode", err
	}

	mac, err := o.fabric.APMAC()
	if err != nil {
		return "ap_mac", err
	}
	ap := fabric.APConfig{
		SSID:       cfg.SSID(mac),
		Open:       cfg.Open,
		MaxClients: cfg.MaxClients,
		Hidden:     cfg.Hidden,
	}
	if !cfg.Open {
		ap.Password = cfg.Password
	}
	if err := o.fabric.ConfigureAccessPoint(ap); err != nil {
		return "configure_ap", err
	}
	events.Emit("info", "softap.configured", "", map[string]interface{}{
		"ssid":        ap.SSID,
		"open":        ap.Open,
		"max_clients": ap.MaxClients,
		"hidden":      ap.Hidden,
	})

	ip := fabric.IPConfig{
		Address: cfg.RouterAddress(),
		Netmask: cfg.Netmask,
		Gateway: cfg.Gateway,
	}
	if err := o.fabric.SetIPConfig(ip); err != nil {
		return "ip_config", err
	}
	if err := o.fabric.SetDHCPLeaseRange(cfg.DHCPStart, cfg.DHCPEnd); err != nil {
		return "dhcp_range", err
	}
	if err := o.fabric.EnableNAT(ip.Address); err != nil {
		return "nat", err
	}
	if err := o.fabric.SetDNSServer(cfg.DNSServer()); err != nil {
		return "dns", err
	}
	return "", nil
}
