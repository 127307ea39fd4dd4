package presence

import (
	"context"
	"sync"
	"time"

	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/mqtt"
)

// Broker is the subset of the MQTT client the heartbeat uses.
type Broker interface {
	Connect() error
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Disconnect()
}

// HeartbeatConfig configures the MQTT heartbeat.
type HeartbeatConfig struct {
	Topics   mqtt.Topics
	Purpose  string
	Firmware string
	BootID   string
	Interval time.Duration
	Boot     time.Time
	// Network reports the current addressing for the announcement.
	Network func() mqtt.NetworkInfo
}

// Heartbeat keeps a retained announcement and availability on the broker
// and publishes a vital sign on every interval.
type Heartbeat struct {
	broker Broker
	id     Identity
	cfg    HeartbeatConfig

	mu      sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
	running bool
}

// NewHeartbeat creates a heartbeat publishing through broker.
func NewHeartbeat(broker Broker, id Identity, cfg HeartbeatConfig) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = VitalSignInterval
	}
	if cfg.Purpose == "" {
		cfg.Purpose = DefaultPurpose
	}
	if cfg.Boot.IsZero() {
		cfg.Boot = time.Now()
	}
	return &Heartbeat{broker: broker, id: id, cfg: cfg}
}

// Name implements Service.
func (h *Heartbeat) Name() string { return "mqtt" }

// Enable starts the publisher goroutine. The broker connection is made off
// the caller's goroutine; failures are reported as presence.error events and
// retried on the next interval. A publisher still winding down from an
// earlier Disable finishes before the new one connects.
func (h *Heartbeat) Enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return nil
	}
	h.running = true
	prev := h.done
	h.stopCh = make(chan struct{})
	h.done = make(chan struct{})
	go h.run(prev, h.stopCh, h.done)
	return nil
}

// Disable signals the publisher to mark the device offline and disconnect.
// It does not wait for the broker.
func (h *Heartbeat) Disable() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
}

// Wait blocks until the last publisher has exited or ctx is done.
func (h *Heartbeat) Wait(ctx context.Context) error {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Heartbeat) run(prev, stopCh, done chan struct{}) {
	defer close(done)

	if prev != nil {
		select {
		case <-prev:
		case <-stopCh:
			return
		}
	}

	online := h.start()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			if online {
				if err := h.broker.Publish(h.cfg.Topics.Availability, []byte(mqtt.Offline), true); err != nil {
					h.fail("offline publish failed", err)
				}
				h.broker.Disconnect()
			}
			return
		case <-ticker.C:
			if !online {
				online = h.start()
				continue
			}
			if err := h.publishVital(); err != nil {
				h.fail("vital sign publish failed", err)
			}
		}
	}
}

// start connects, announces, marks the device online and subscribes to
// info requests.
func (h *Heartbeat) start() bool {
	if err := h.broker.Connect(); err != nil {
		h.fail("broker connect failed", err)
		return false
	}
	if err := h.announce(); err != nil {
		h.fail("announcement publish failed", err)
		h.broker.Disconnect()
		return false
	}
	if err := h.broker.Publish(h.cfg.Topics.Availability, []byte(mqtt.Online), true); err != nil {
		h.fail("online publish failed", err)
		h.broker.Disconnect()
		return false
	}
	if err := h.broker.Subscribe(h.cfg.Topics.Request, h.onRequest); err != nil {
		h.fail("request subscribe failed", err)
	}
	return true
}

func (h *Heartbeat) onRequest(topic string, _ []byte) {
	if err := h.announce(); err != nil {
		h.fail("announcement reply failed", err)
		return
	}
	events.Emit("info", "presence.request", "", map[string]interface{}{
		"topic": topic,
	})
}

// Announcement builds the current announcement.
func (h *Heartbeat) Announcement() *mqtt.Announcement {
	mac, ip := h.id.StationInfo()
	var network mqtt.NetworkInfo
	if h.cfg.Network != nil {
		network = h.cfg.Network()
	}
	if network.StationIP == "" {
		network.StationIP = addrOrZero(ip)
	}
	return &mqtt.Announcement{
		Version: 1,
		Device: mqtt.DeviceInfo{
			ID:           mqtt.DeviceID(mac.String()),
			MAC:          mac.String(),
			Purpose:      h.cfg.Purpose,
			Firmware:     h.cfg.Firmware,
			BootID:       h.cfg.BootID,
			UptimeMS:     time.Since(h.cfg.Boot).Milliseconds(),
			HeartbeatSec: int(h.cfg.Interval.Seconds()),
		},
		Network: network,
		Topics:  h.cfg.Topics,
	}
}

func (h *Heartbeat) announce() error {
	payload, err := h.Announcement().Marshal()
	if err != nil {
		return err
	}
	return h.broker.Publish(h.cfg.Topics.Announce, payload, true)
}

func (h *Heartbeat) publishVital() error {
	mac, ip := h.id.StationInfo()
	v := VitalSign{
		MAC:      mac.String(),
		UptimeUS: time.Since(h.cfg.Boot).Microseconds(),
		BootID:   h.cfg.BootID,
	}
	if ip.IsValid() {
		v.IP = ip.String()
	}
	payload, err := v.Marshal()
	if err != nil {
		return err
	}
	return h.broker.Publish(h.cfg.Topics.Vital, payload, false)
}

func (h *Heartbeat) fail(msg string, err error) {
	events.Emit("warn", "presence.error", msg, map[string]interface{}{
		"service": h.Name(),
		"error":   err.Error(),
	})
}
