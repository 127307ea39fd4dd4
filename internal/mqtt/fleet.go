package mqtt

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AaronLay10/napt-router/internal/events"
)

// Peer is what the broker has told us about one router.
type Peer struct {
	ID           string
	MAC          string
	Purpose      string
	Firmware     string
	BootID       string
	StationIP    string
	Portmaps     int
	HeartbeatSec int
	LastSeen     time.Time
	Online       bool
}

// Fleet tracks the routers announcing under a topic prefix and marks them
// offline when their vitals stop arriving.
type Fleet struct {
	mu        sync.RWMutex
	prefix    string
	peers     map[string]*Peer
	tolerance float64 // multiplier for the heartbeat interval
	now       func() time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewFleet creates a fleet for routers under prefix. tolerance is the
// multiplier for a peer's heartbeat interval before it counts as lost.
func NewFleet(prefix string, tolerance float64) *Fleet {
	if tolerance <= 1.0 {
		tolerance = 2.0 // miss one heartbeat
	}
	return &Fleet{
		prefix:    strings.TrimSuffix(prefix, "/"),
		peers:     make(map[string]*Peer),
		tolerance: tolerance,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Subscribe wires the fleet to the announce, availability and vital topics
// of every router under the prefix.
func (f *Fleet) Subscribe(c *Client) error {
	for _, suffix := range []string{"announce", "availability", "vital"} {
		if err := c.Subscribe(f.prefix+"/+/"+suffix, f.HandleMessage); err != nil {
			return err
		}
	}
	return nil
}

// HandleMessage applies one broker message to the fleet.
func (f *Fleet) HandleMessage(topic string, payload []byte) {
	id, kind, ok := f.split(topic)
	if !ok {
		return
	}

	switch kind {
	case "announce":
		a, err := ParseAnnouncement(payload)
		if err != nil {
			events.Emit("warn", "peer.invalid", "announcement rejected", map[string]interface{}{
				"topic": topic,
				"error": err.Error(),
			})
			return
		}
		f.announce(a)
	case "availability":
		f.setOnline(id, string(payload) == Online)
	case "vital":
		f.touch(id)
	}
}

func (f *Fleet) split(topic string) (id, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, f.prefix+"/")
	if !found {
		return "", "", false
	}
	id, kind, ok = strings.Cut(rest, "/")
	if !ok || id == "" || strings.Contains(kind, "/") {
		return "", "", false
	}
	return id, kind, true
}

func (f *Fleet) announce(a *Announcement) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, known := f.peers[a.Device.ID]
	if !known {
		p = &Peer{ID: a.Device.ID}
		f.peers[a.Device.ID] = p
	}
	rebooted := known && p.BootID != "" && p.BootID != a.Device.BootID
	wasOnline := p.Online

	p.MAC = a.Device.MAC
	p.Purpose = a.Device.Purpose
	p.Firmware = a.Device.Firmware
	p.BootID = a.Device.BootID
	p.HeartbeatSec = a.Device.HeartbeatSec
	p.StationIP = a.Network.StationIP
	p.Portmaps = a.Network.Portmaps
	p.LastSeen = f.now()
	p.Online = true

	if !wasOnline || rebooted {
		events.Emit("info", "peer.online", "", map[string]interface{}{
			"peer_id":    p.ID,
			"station_ip": p.StationIP,
			"rebooted":   rebooted,
		})
	}
}

func (f *Fleet) setOnline(id string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.peers[id]
	if !ok {
		if !online {
			return
		}
		p = &Peer{ID: id}
		f.peers[id] = p
	}
	if online {
		p.LastSeen = f.now()
	}
	if p.Online == online {
		return
	}
	p.Online = online
	if online {
		events.Emit("info", "peer.online", "", map[string]interface{}{"peer_id": id})
	} else {
		events.Emit("warn", "peer.offline", "availability offline", map[string]interface{}{"peer_id": id})
	}
}

func (f *Fleet) touch(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.peers[id]; ok {
		p.LastSeen = f.now()
	}
}

// Start begins the background health check loop.
func (f *Fleet) Start(checkInterval time.Duration) {
	f.wg.Add(1)
	go f.healthCheckLoop(checkInterval)
}

// Stop stops the background health check loop.
func (f *Fleet) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}

func (f *Fleet) healthCheckLoop(interval time.Duration) {
	defer f.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.checkHealth()
		}
	}
}

func (f *Fleet) checkHealth() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	for id, p := range f.peers {
		if !p.Online || p.HeartbeatSec <= 0 {
			continue
		}

		timeout := time.Duration(float64(p.HeartbeatSec)*f.tolerance) * time.Second
		if now.Sub(p.LastSeen) > timeout {
			p.Online = false
			events.Emit("warn", "peer.offline", "heartbeat timeout", map[string]interface{}{
				"peer_id":     id,
				"last_seen":   p.LastSeen.Format(time.RFC3339),
				"timeout_sec": timeout.Seconds(),
			})
		}
	}
}

// Get returns a copy of a peer, or nil if unknown.
func (f *Fleet) Get(id string) *Peer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if p, ok := f.peers[id]; ok {
		cpy := *p
		return &cpy
	}
	return nil
}

// All returns copies of every known peer ordered by id.
func (f *Fleet) All() []Peer {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]Peer, 0, len(f.peers))
	for _, p := range f.peers {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Online returns the ids of peers currently online.
func (f *Fleet) Online() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var ids []string
	for id, p := range f.peers {
		if p.Online {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
