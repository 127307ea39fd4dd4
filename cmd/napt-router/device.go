package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AaronLay10/napt-router/internal/config"
	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/fabric"
	"github.com/AaronLay10/napt-router/internal/gpio"
	"github.com/AaronLay10/napt-router/internal/indicator"
	"github.com/AaronLay10/napt-router/internal/mqtt"
	"github.com/AaronLay10/napt-router/internal/orchestrator"
	"github.com/AaronLay10/napt-router/internal/presence"
	"github.com/AaronLay10/napt-router/internal/provisioning"
	"github.com/AaronLay10/napt-router/internal/runloop"
	"github.com/AaronLay10/napt-router/internal/timer"
	"github.com/AaronLay10/napt-router/internal/version"
)

// deviceOptions selects the parts that differ between run and console.
type deviceOptions struct {
	stationMAC net.HardwareAddr
	apMAC      net.HardwareAddr
	timers     func(post func(func()) bool) timer.Scheduler
	// script replaces the API-fed mechanism with a replayed exchange.
	script []provisioning.Step
	// presence builds the presence services; nil uses the configured set.
	presence func(d *device) []presence.Service
	hardware bool
}

// device is one fully wired router.
type device struct {
	cfg     *config.DeviceConfig
	secrets config.Secrets
	bootID  string
	boot    time.Time

	loop     *runloop.Loop
	timers   timer.Scheduler
	fabric   *fabric.Sim
	inbox    *provisioning.Inbox
	scripted *provisioning.Scripted
	session  *provisioning.Session
	led      *indicator.Indicator
	presence *presence.Group
	orch     *orchestrator.Orchestrator

	mqttClient *mqtt.Client
	button     *gpio.Button
	closers    []func() error
	stopLoop   context.CancelFunc
}

func loadConfig() (*config.DeviceConfig, config.Secrets, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, config.Secrets{}, fmt.Errorf("load %s: %w", configPath, err)
		}
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		return nil, config.Secrets{}, err
	}
	if err := cfg.Apply(secrets); err != nil {
		return nil, config.Secrets{}, err
	}
	return cfg, secrets, nil
}

func newDevice(cfg *config.DeviceConfig, secrets config.Secrets, opts deviceOptions) (*device, error) {
	d := &device{
		cfg:     cfg,
		secrets: secrets,
		bootID:  uuid.NewString(),
		boot:    time.Now(),
		loop:    runloop.New(256),
	}
	events.SetSessionID(d.bootID)

	d.timers = opts.timers(d.loop.Post)

	d.fabric = fabric.NewSim(opts.stationMAC, opts.apMAC, fabric.DefaultLease())
	d.fabric.SetDispatcher(d.loop.Post)

	var mech provisioning.Mechanism
	if opts.script != nil {
		d.scripted = provisioning.NewScripted()
		d.scripted.Play(d.loop.Post, opts.script)
		mech = d.scripted
	} else {
		d.inbox = provisioning.NewInbox(d.loop.Post)
		mech = d.inbox
	}
	d.session = provisioning.NewSession(cfg.Session(), mech, d.fabric, d.timers)

	orchCfg, err := cfg.Orchestrator()
	if err != nil {
		return nil, err
	}

	var led indicator.LED = &indicator.LogLED{}
	var trigger orchestrator.Trigger = &orchestrator.SoftTrigger{}
	if opts.hardware && cfg.HasHardware() {
		hw := cfg.Hardware
		gled, err := gpio.OpenLED(gpio.LEDConfig{Chip: hw.Chip, Line: hw.LEDLine, ActiveLow: hw.LEDActiveLow})
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, gled.Close)
		led = gled

		d.button, err = gpio.OpenButton(gpio.ButtonConfig{
			Chip:     hw.Chip,
			Line:     hw.ButtonLine,
			PullUp:   hw.ButtonPullUp,
			Debounce: hw.ButtonDebounce,
		}, d.loop.Post, func() { d.orch.OnTrigger() })
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, d.button.Close)
		trigger = d.button
	}
	d.led = indicator.New(led, d.timers)

	build := opts.presence
	if build == nil {
		build = configuredPresence
	}
	d.presence = presence.NewGroup(build(d)...)

	d.orch = orchestrator.New(orchCfg, d.fabric, d.session, d.timers, d.led, d.presence, trigger)
	return d, nil
}

// configuredPresence builds the presence services named in device.yaml.
func configuredPresence(d *device) []presence.Service {
	cfg := d.cfg
	services := []presence.Service{
		presence.NewResponder(d.fabric, cfg.Device.Purpose, cfg.Presence.ComPort),
		presence.NewBeacon(d.fabric, presence.BeaconConfig{
			Port:       cfg.Presence.VitalSignPort,
			Interval:   cfg.Presence.VitalSignInterval,
			PrefixBits: cfg.Presence.BroadcastPrefix,
			Boot:       d.boot,
		}),
	}
	if cfg.Presence.MDNS {
		services = append(services, presence.NewAdvertiser(d.fabric, presence.AdvertiserConfig{
			Prefix:  cfg.Device.MDNSPrefix,
			Purpose: cfg.Device.Purpose,
			BootID:  d.bootID,
			Port:    cfg.Presence.ComPort,
		}))
	}
	if cfg.MQTT.BrokerURL != "" {
		services = append(services, d.heartbeat())
	}
	return services
}

func (d *device) deviceID() string {
	mac, _ := d.fabric.StationInfo()
	return mqtt.DeviceID(mac.String())
}

func (d *device) heartbeat() *presence.Heartbeat {
	cfg := d.cfg
	topics := mqtt.DeviceTopics(cfg.MQTT.TopicPrefix, d.deviceID())
	d.mqttClient = mqtt.NewClient(mqtt.Options{
		BrokerURL:   cfg.MQTT.BrokerURL,
		ClientID:    "napt-" + d.deviceID(),
		Username:    cfg.MQTT.Username,
		Password:    d.secrets.MQTTPassword,
		WillTopic:   topics.Availability,
		WillPayload: mqtt.Offline,
	})
	hb := presence.NewHeartbeat(d.mqttClient, d.fabric, presence.HeartbeatConfig{
		Topics:   topics,
		Purpose:  cfg.Device.Purpose,
		Firmware: version.Version,
		BootID:   d.bootID,
		Interval: cfg.Presence.VitalSignInterval,
		Boot:     d.boot,
		Network:  d.networkInfo,
	})
	// Give the offline announcement a chance to reach the broker on exit.
	d.closers = append(d.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hb.Wait(ctx)
	})
	return hb
}

func (d *device) networkInfo() mqtt.NetworkInfo {
	st := d.fabric.State()
	info := mqtt.NetworkInfo{Portmaps: d.fabric.Table().Len()}
	if st.StationAddr.IsValid() {
		info.StationIP = st.StationAddr.String()
	}
	if st.APConfigured {
		info.APSSID = st.AP.SSID
		info.APAddress = st.APIP.Address.String()
	}
	return info
}

// start runs the loop and boots the orchestrator. The loop outlives ctx so
// stop can still tear the router down on it.
func (d *device) start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	d.stopLoop = cancel
	go func() {
		if err := d.loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("run loop stopped: %v", err)
		}
	}()

	var bootErr error
	if err := d.loop.Do(ctx, func() { bootErr = d.orch.Boot() }); err != nil {
		return err
	}
	return bootErr
}

// do runs fn on the loop.
func (d *device) do(ctx context.Context, fn func()) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return d.loop.Do(ctx, fn)
}

// stop tears the router down on the loop, stops it and releases hardware.
func (d *device) stop() {
	if err := d.do(context.Background(), d.orch.Disable); err != nil {
		log.Printf("teardown skipped: %v", err)
	}
	if s, ok := d.timers.(interface{ Close() }); ok {
		s.Close()
	}
	if d.stopLoop != nil {
		d.stopLoop()
		<-d.loop.Done()
	}
	d.Close()
}

// Close releases hardware lines.
func (d *device) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
	d.closers = nil
}

func parseMAC(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("%s is not an EUI-48 address", s)
	}
	return mac, nil
}
