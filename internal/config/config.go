// Package config loads device.yaml. Every field has a compiled-in default,
// so an empty file (or none at all) yields the stock router.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/napt-router/internal/fabric"
	"github.com/AaronLay10/napt-router/internal/orchestrator"
	"github.com/AaronLay10/napt-router/internal/portmap"
	"github.com/AaronLay10/napt-router/internal/presence"
	"github.com/AaronLay10/napt-router/internal/provisioning"
)

const (
	// MaxClients is the most stations the access point accepts.
	MaxClients = 8

	DefaultAPPassword = "S20_SmartSocket-WiFi_NAPT_Router"
)

type DeviceConfig struct {
	Version int `yaml:"version"`

	Device struct {
		Purpose    string `yaml:"purpose"`
		MDNSPrefix string `yaml:"mdns_prefix"`
	} `yaml:"device"`

	AccessPoint struct {
		SSIDPrefix string `yaml:"ssid_prefix"`
		Password   string `yaml:"password"`
		Open       bool   `yaml:"open"`
		MaxClients int    `yaml:"max_clients"`
		Hidden     bool   `yaml:"hidden"`
		Address    string `yaml:"address"`
		Netmask    string `yaml:"netmask"`
		Gateway    string `yaml:"gateway"`
		DHCPStart  string `yaml:"dhcp_start"`
		DHCPEnd    string `yaml:"dhcp_end"`
		DNS        string `yaml:"dns"`
	} `yaml:"access_point"`

	Portmaps []PortmapConfig `yaml:"portmaps"`

	Timing struct {
		PollInterval     time.Duration `yaml:"poll_interval"`
		WatchdogInterval time.Duration `yaml:"watchdog_interval"`
		BlinkInterval    time.Duration `yaml:"blink_interval"`
	} `yaml:"timing"`

	Provisioning struct {
		AttemptsLimit     int           `yaml:"attempts_limit"`
		ConfigTimeout     time.Duration `yaml:"config_timeout"`
		RecvTimeout       time.Duration `yaml:"recv_timeout"`
		ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	} `yaml:"provisioning"`

	Presence struct {
		ComPort           int           `yaml:"com_port"`
		VitalSignPort     int           `yaml:"vital_sign_port"`
		VitalSignInterval time.Duration `yaml:"vital_sign_interval"`
		BroadcastPrefix   int           `yaml:"broadcast_prefix"`
		MDNS              bool          `yaml:"mdns"`
	} `yaml:"presence"`

	MQTT struct {
		BrokerURL   string `yaml:"broker_url"`
		Username    string `yaml:"username"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`

	Hardware struct {
		Chip           string        `yaml:"chip"`
		ButtonLine     int           `yaml:"button_line"`
		ButtonPullUp   bool          `yaml:"button_pull_up"`
		ButtonDebounce time.Duration `yaml:"button_debounce"`
		LEDLine        int           `yaml:"led_line"`
		LEDActiveLow   bool          `yaml:"led_active_low"`
	} `yaml:"hardware"`

	API struct {
		Listen  string `yaml:"listen"`
		TLSCert string `yaml:"tls_cert"`
		TLSKey  string `yaml:"tls_key"`
	} `yaml:"api"`

	Storage struct {
		Postgres  bool          `yaml:"postgres"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"storage"`
}

// PortmapConfig is one portmap entry as written in device.yaml.
type PortmapConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Protocol     string `yaml:"protocol"`
	ExternalPort uint16 `yaml:"external_port"`
	Address      string `yaml:"address"`
	Port         uint16 `yaml:"port"`
	Direction    uint8  `yaml:"direction"`
}

// Default returns the stock configuration.
func Default() *DeviceConfig {
	var c DeviceConfig
	c.Version = 1

	c.Device.Purpose = presence.DefaultPurpose
	c.Device.MDNSPrefix = "napt-router"

	c.AccessPoint.SSIDPrefix = "ESP_ROUTER"
	c.AccessPoint.Password = DefaultAPPassword
	c.AccessPoint.MaxClients = MaxClients
	c.AccessPoint.Address = "192.168.13.1"
	c.AccessPoint.Netmask = "255.255.255.0"
	c.AccessPoint.Gateway = "192.168.13.1"
	c.AccessPoint.DHCPStart = "192.168.13.2"
	c.AccessPoint.DHCPEnd = "192.168.13.64"
	c.AccessPoint.DNS = "8.8.8.8"

	c.Portmaps = []PortmapConfig{{
		Enabled:      true,
		Protocol:     "tcp",
		ExternalPort: 8883,
		Address:      "192.168.13.37",
		Port:         8883,
		Direction:    uint8(portmap.APToStation),
	}}

	c.Timing.PollInterval = 500 * time.Millisecond
	c.Timing.WatchdogInterval = 300 * time.Second
	c.Timing.BlinkInterval = 2 * time.Second

	p := provisioning.DefaultConfig()
	c.Provisioning.AttemptsLimit = p.AttemptsLimit
	c.Provisioning.ConfigTimeout = p.ConfigTimeout
	c.Provisioning.RecvTimeout = p.RecvTimeout
	c.Provisioning.ConnectionTimeout = p.ConnectionTimeout

	c.Presence.ComPort = presence.ComPort
	c.Presence.VitalSignPort = presence.VitalSignPort
	c.Presence.VitalSignInterval = presence.VitalSignInterval
	c.Presence.BroadcastPrefix = 24
	c.Presence.MDNS = true

	c.MQTT.TopicPrefix = "napt"

	c.API.Listen = ":8080"

	c.Storage.Retention = 7 * 24 * time.Hour
	return &c
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*DeviceConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a device.yaml document over the defaults.
func Parse(b []byte) (*DeviceConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported device.yaml version: %d", cfg.Version)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks limits and addressing.
func (c *DeviceConfig) Validate() error {
	var errs []error

	if c.AccessPoint.MaxClients < 1 || c.AccessPoint.MaxClients > MaxClients {
		errs = append(errs, fmt.Errorf("access_point.max_clients must be 1..%d, got %d", MaxClients, c.AccessPoint.MaxClients))
	}
	if !c.AccessPoint.Open && len(c.AccessPoint.Password) < 8 {
		errs = append(errs, fmt.Errorf("access_point.password must be at least 8 characters unless open"))
	}
	if len(c.Portmaps) > portmap.MaxEntries {
		errs = append(errs, fmt.Errorf("at most %d portmaps, got %d", portmap.MaxEntries, len(c.Portmaps)))
	}
	if _, err := c.Router(); err != nil {
		errs = append(errs, err)
	}
	if c.Timing.WatchdogInterval <= 0 || c.Timing.PollInterval <= 0 || c.Timing.BlinkInterval <= 0 {
		errs = append(errs, fmt.Errorf("timing intervals must be positive"))
	}
	if c.Provisioning.AttemptsLimit < 1 {
		errs = append(errs, fmt.Errorf("provisioning.attempts_limit must be at least 1"))
	}
	if c.Presence.BroadcastPrefix < 0 || c.Presence.BroadcastPrefix > 32 {
		errs = append(errs, fmt.Errorf("presence.broadcast_prefix must be 0..32"))
	}
	if c.Storage.Retention < 0 {
		errs = append(errs, fmt.Errorf("storage.retention must not be negative"))
	}
	if (c.API.TLSCert == "") != (c.API.TLSKey == "") {
		errs = append(errs, fmt.Errorf("api.tls_cert and api.tls_key must be set together"))
	}
	return errors.Join(errs...)
}

// Router converts the access point section and portmaps.
func (c *DeviceConfig) Router() (orchestrator.RouterConfig, error) {
	ap := c.AccessPoint
	r := orchestrator.RouterConfig{
		SSIDPrefix: ap.SSIDPrefix,
		Password:   ap.Password,
		Open:       ap.Open,
		MaxClients: ap.MaxClients,
		Hidden:     ap.Hidden,
	}

	var err error
	fields := []struct {
		name string
		in   string
		out  *netip.Addr
	}{
		{"address", ap.Address, &r.Address},
		{"netmask", ap.Netmask, &r.Netmask},
		{"gateway", ap.Gateway, &r.Gateway},
		{"dhcp_start", ap.DHCPStart, &r.DHCPStart},
		{"dhcp_end", ap.DHCPEnd, &r.DHCPEnd},
	}
	for _, f := range fields {
		if *f.out, err = parseIPv4(f.in); err != nil {
			return r, fmt.Errorf("access_point.%s: %w", f.name, err)
		}
	}
	if ap.DNS != "" {
		if r.DNS, err = parseIPv4(ap.DNS); err != nil {
			return r, fmt.Errorf("access_point.dns: %w", err)
		}
	}

	apIP := fabric.IPConfig{Address: r.RouterAddress(), Netmask: r.Netmask, Gateway: r.Gateway}
	if err := fabric.CheckLeaseRange(apIP, r.DHCPStart, r.DHCPEnd); err != nil {
		return r, fmt.Errorf("access_point dhcp range %s-%s: %w", r.DHCPStart, r.DHCPEnd, err)
	}

	for i, p := range c.Portmaps {
		e, err := p.Entry()
		if err != nil {
			return r, fmt.Errorf("portmaps[%d]: %w", i, err)
		}
		r.Portmaps = append(r.Portmaps, e)
	}
	return r, nil
}

// Entry converts the yaml form.
func (p PortmapConfig) Entry() (portmap.Entry, error) {
	proto, err := portmap.ParseProtocol(p.Protocol)
	if err != nil {
		return portmap.Entry{}, err
	}
	e := portmap.Entry{
		Enabled:      p.Enabled,
		Protocol:     proto,
		ExternalPort: p.ExternalPort,
		Port:         p.Port,
		Direction:    portmap.Direction(p.Direction),
	}
	if p.Address != "" {
		if e.Address, err = parseIPv4(p.Address); err != nil {
			return portmap.Entry{}, err
		}
	}
	if p.Direction > uint8(portmap.APToStation) {
		return portmap.Entry{}, fmt.Errorf("invalid direction %d", p.Direction)
	}
	return e, nil
}

// Orchestrator builds the lifecycle config.
func (c *DeviceConfig) Orchestrator() (orchestrator.Config, error) {
	r, err := c.Router()
	if err != nil {
		return orchestrator.Config{}, err
	}
	return orchestrator.Config{
		PollInterval:     c.Timing.PollInterval,
		WatchdogInterval: c.Timing.WatchdogInterval,
		BlinkInterval:    c.Timing.BlinkInterval,
		Router:           r,
	}, nil
}

// Session builds the provisioning session config.
func (c *DeviceConfig) Session() provisioning.Config {
	return provisioning.Config{
		AttemptsLimit:     c.Provisioning.AttemptsLimit,
		ConfigTimeout:     c.Provisioning.ConfigTimeout,
		RecvTimeout:       c.Provisioning.RecvTimeout,
		ConnectionTimeout: c.Provisioning.ConnectionTimeout,
	}
}

// HasHardware reports whether a GPIO chip is configured.
func (c *DeviceConfig) HasHardware() bool {
	return c.Hardware.Chip != ""
}

func parseIPv4(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !a.Is4() {
		return netip.Addr{}, fmt.Errorf("%s is not an IPv4 address", s)
	}
	return a, nil
}
