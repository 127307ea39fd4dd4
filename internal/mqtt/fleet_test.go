package mqtt

import (
	"testing"
	"time"

	"github.com/AaronLay10/napt-router/internal/events"
)

func announcement(id, bootID string, heartbeat int) []byte {
	a := Announcement{
		Version: 1,
		Device: DeviceInfo{
			ID:           id,
			MAC:          "5c:cf:7f:00:00:01",
			Purpose:      "WiFi NAPT Router",
			Firmware:     "0.3.0",
			BootID:       bootID,
			HeartbeatSec: heartbeat,
		},
		Network: NetworkInfo{StationIP: "10.0.0.42", Portmaps: 1},
		Topics:  DeviceTopics("napt", id),
	}
	b, _ := a.Marshal()
	return b
}

func countEvents(name string) int {
	n := 0
	for _, e := range events.Snapshot() {
		if e.Name == name {
			n++
		}
	}
	return n
}

func TestFleet_Announce(t *testing.T) {
	events.SetOutput(nil)
	events.Clear()
	f := NewFleet("napt/", 2.0)

	f.HandleMessage("napt/5ccf7f000001/announce", announcement("5ccf7f000001", "boot-a", 300))

	p := f.Get("5ccf7f000001")
	if p == nil {
		t.Fatal("expected peer, got nil")
	}
	if !p.Online {
		t.Error("expected peer online")
	}
	if p.StationIP != "10.0.0.42" || p.Portmaps != 1 || p.HeartbeatSec != 300 {
		t.Errorf("unexpected peer %+v", p)
	}
	if got := countEvents("peer.online"); got != 1 {
		t.Errorf("expected 1 peer.online, got %d", got)
	}

	// A repeat announcement from the same boot is not a new arrival.
	f.HandleMessage("napt/5ccf7f000001/announce", announcement("5ccf7f000001", "boot-a", 300))
	if got := countEvents("peer.online"); got != 1 {
		t.Errorf("expected 1 peer.online after repeat, got %d", got)
	}

	// A new boot id is reported.
	f.HandleMessage("napt/5ccf7f000001/announce", announcement("5ccf7f000001", "boot-b", 300))
	if got := countEvents("peer.online"); got != 2 {
		t.Errorf("expected 2 peer.online after reboot, got %d", got)
	}
}

func TestFleet_InvalidAnnouncement(t *testing.T) {
	events.SetOutput(nil)
	events.Clear()
	f := NewFleet("napt", 2.0)

	f.HandleMessage("napt/5ccf7f000001/announce", []byte(`{"version": 2}`))

	if len(f.All()) != 0 {
		t.Error("expected no peers")
	}
	if got := countEvents("peer.invalid"); got != 1 {
		t.Errorf("expected 1 peer.invalid, got %d", got)
	}
}

func TestFleet_Availability(t *testing.T) {
	events.SetOutput(nil)
	f := NewFleet("napt", 2.0)

	// Offline for an unknown peer is ignored.
	f.HandleMessage("napt/aa/availability", []byte(Offline))
	if f.Get("aa") != nil {
		t.Error("expected unknown peer to stay unknown")
	}

	f.HandleMessage("napt/aa/availability", []byte(Online))
	if p := f.Get("aa"); p == nil || !p.Online {
		t.Fatal("expected peer online")
	}

	f.HandleMessage("napt/aa/availability", []byte(Offline))
	if p := f.Get("aa"); p.Online {
		t.Error("expected peer offline")
	}
}

func TestFleet_IgnoresForeignTopics(t *testing.T) {
	f := NewFleet("napt", 2.0)

	f.HandleMessage("other/aa/availability", []byte(Online))
	f.HandleMessage("napt/aa/info/get", []byte("x"))
	f.HandleMessage("napt//availability", []byte(Online))

	if n := len(f.All()); n != 0 {
		t.Errorf("expected no peers, got %d", n)
	}
}

func TestFleet_HealthCheckTimeout(t *testing.T) {
	events.SetOutput(nil)
	events.Clear()
	f := NewFleet("napt", 2.0)
	now := time.Now()
	f.now = func() time.Time { return now }

	f.HandleMessage("napt/aa/announce", announcement("aa", "boot", 10))

	// Vitals keep the peer alive.
	now = now.Add(15 * time.Second)
	f.HandleMessage("napt/aa/vital", []byte{0xa0})
	now = now.Add(15 * time.Second)
	f.checkHealth()
	if p := f.Get("aa"); !p.Online {
		t.Fatal("expected peer online within tolerance")
	}

	now = now.Add(10 * time.Second)
	f.checkHealth()
	if p := f.Get("aa"); p.Online {
		t.Error("expected peer offline after timeout")
	}
	if got := countEvents("peer.offline"); got != 1 {
		t.Errorf("expected 1 peer.offline, got %d", got)
	}

	// Already offline peers are not reported again.
	f.checkHealth()
	if got := countEvents("peer.offline"); got != 1 {
		t.Errorf("expected 1 peer.offline, got %d", got)
	}
}

func TestFleet_OnlineAndAll(t *testing.T) {
	events.SetOutput(nil)
	f := NewFleet("napt", 0)

	if f.tolerance != 2.0 {
		t.Errorf("expected default tolerance 2.0, got %v", f.tolerance)
	}

	f.HandleMessage("napt/bb/availability", []byte(Online))
	f.HandleMessage("napt/aa/availability", []byte(Online))
	f.HandleMessage("napt/cc/availability", []byte(Online))
	f.HandleMessage("napt/cc/availability", []byte(Offline))

	online := f.Online()
	if len(online) != 2 || online[0] != "aa" || online[1] != "bb" {
		t.Errorf("unexpected online peers %v", online)
	}

	all := f.All()
	if len(all) != 3 || all[0].ID != "aa" || all[2].ID != "cc" {
		t.Errorf("unexpected peers %+v", all)
	}
}

func TestFleet_StartStop(t *testing.T) {
	f := NewFleet("napt", 2.0)
	f.Start(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	f.Stop()
}
