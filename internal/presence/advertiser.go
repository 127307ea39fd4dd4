package presence

import (
	"fmt"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service parameters.
const (
	ServiceType = "_napt-router._udp"
	Domain      = "local."

	maxInstanceNameLen = 63
)

type shutdowner interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string) (shutdowner, error)

func zeroconfRegister(instance, service, domain string, port int, text []string) (shutdowner, error) {
	server, err := zeroconf.Register(instance, service, domain, port, text, nil)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// AdvertiserConfig describes the advertised service.
type AdvertiserConfig struct {
	Prefix  string
	Purpose string
	BootID  string
	Port    int
}

// Advertiser publishes the router as an mDNS service.
type Advertiser struct {
	id       Identity
	cfg      AdvertiserConfig
	register registerFunc

	mu     sync.Mutex
	server shutdowner
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(id Identity, cfg AdvertiserConfig) *Advertiser {
	if cfg.Prefix == "" {
		cfg.Prefix = "napt-router"
	}
	if cfg.Purpose == "" {
		cfg.Purpose = DefaultPurpose
	}
	if cfg.Port == 0 {
		cfg.Port = ComPort
	}
	return &Advertiser{id: id, cfg: cfg, register: zeroconfRegister}
}

// Name implements Service.
func (a *Advertiser) Name() string { return "mdns" }

// InstanceName is "<prefix>-<mac without colons>".
func (a *Advertiser) InstanceName() string {
	mac, _ := a.id.StationInfo()
	name := fmt.Sprintf("%s-%s", a.cfg.Prefix, strings.ReplaceAll(mac.String(), ":", ""))
	if len(name) > maxInstanceNameLen {
		name = name[:maxInstanceNameLen]
	}
	return name
}

// TXT returns the TXT records.
func (a *Advertiser) TXT() []string {
	mac, _ := a.id.StationInfo()
	txt := []string{
		"purpose=" + a.cfg.Purpose,
		"mac=" + mac.String(),
	}
	if a.cfg.BootID != "" {
		txt = append(txt, "boot="+a.cfg.BootID)
	}
	return txt
}

// Enable registers the service on all interfaces.
func (a *Advertiser) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}
	server, err := a.register(a.InstanceName(), ServiceType, Domain, a.cfg.Port, a.TXT())
	if err != nil {
		return fmt.Errorf("failed to register mdns service: %w", err)
	}
	a.server = server
	return nil
}

// Disable withdraws the service.
func (a *Advertiser) Disable() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
