package presence

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/AaronLay10/napt-router/internal/events"
)

// BeaconConfig configures the vital-sign broadcast.
type BeaconConfig struct {
	Port     int
	Interval time.Duration
	// PrefixBits is the station network prefix used for the directed broadcast.
	PrefixBits int
	Boot       time.Time
}

// Beacon periodically broadcasts a vital sign to the station network.
type Beacon struct {
	id  Identity
	cfg BeaconConfig

	mu      sync.Mutex
	conn    *net.UDPConn
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewBeacon creates a beacon. Zero config fields take the defaults.
func NewBeacon(id Identity, cfg BeaconConfig) *Beacon {
	if cfg.Port == 0 {
		cfg.Port = VitalSignPort
	}
	if cfg.Interval <= 0 {
		cfg.Interval = VitalSignInterval
	}
	if cfg.PrefixBits == 0 {
		cfg.PrefixBits = 24
	}
	if cfg.Boot.IsZero() {
		cfg.Boot = time.Now()
	}
	return &Beacon{id: id, cfg: cfg}
}

// Name implements Service.
func (b *Beacon) Name() string { return "beacon" }

// Enable opens the sending socket and starts the broadcast ticker.
func (b *Beacon) Enable() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return fmt.Errorf("open beacon socket: %w", err)
	}
	b.conn = conn
	b.stopCh = make(chan struct{})
	b.running = true

	b.wg.Add(1)
	go b.loop(b.stopCh)
	return nil
}

// Disable stops the ticker and closes the socket.
func (b *Beacon) Disable() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	b.conn.Close()
	b.conn = nil
	b.mu.Unlock()
}

func (b *Beacon) loop(stopCh chan struct{}) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := b.Send(); err != nil {
				events.Emit("warn", "presence.error", "vital sign broadcast failed", map[string]interface{}{
					"service": b.Name(),
					"error":   err.Error(),
				})
			}
		}
	}
}

// Send broadcasts one vital sign now.
func (b *Beacon) Send() error {
	mac, ip := b.id.StationInfo()
	if !ip.IsValid() {
		return fmt.Errorf("no station address")
	}
	dst, err := DirectedBroadcast(ip, b.cfg.PrefixBits)
	if err != nil {
		return err
	}

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("beacon disabled")
	}

	line := VitalSignLine(mac, time.Since(b.cfg.Boot))
	to := net.UDPAddrFromAddrPort(netip.AddrPortFrom(dst, uint16(b.cfg.Port)))
	if _, err := conn.WriteToUDP([]byte(line), to); err != nil {
		return fmt.Errorf("send vital sign to %s: %w", to, err)
	}
	events.Emit("info", "presence.beacon", "", map[string]interface{}{
		"to": to.String(),
	})
	return nil
}
