package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Availability payloads published on the availability topic.
const (
	Online  = "online"
	Offline = "offline"
)

// Topics are the per-device MQTT topics.
type Topics struct {
	Announce     string `json:"announce"`
	Availability string `json:"availability"`
	Vital        string `json:"vital"`
	Request      string `json:"request"`
}

// DeviceTopics builds the topic set for a device under prefix.
func DeviceTopics(prefix, deviceID string) Topics {
	base := strings.TrimSuffix(prefix, "/") + "/" + deviceID
	return Topics{
		Announce:     base + "/announce",
		Availability: base + "/availability",
		Vital:        base + "/vital",
		Request:      base + "/info/get",
	}
}

// Announcement is the retained v1 device announcement.
type Announcement struct {
	Version int         `json:"version"`
	Device  DeviceInfo  `json:"device"`
	Network NetworkInfo `json:"network"`
	Topics  Topics      `json:"topics"`
}

// DeviceInfo contains device metadata.
type DeviceInfo struct {
	ID           string `json:"id"`
	MAC          string `json:"mac"`
	Purpose      string `json:"purpose"`
	Firmware     string `json:"firmware"`
	BootID       string `json:"boot_id"`
	UptimeMS     int64  `json:"uptime_ms"`
	HeartbeatSec int    `json:"heartbeat_sec"`
}

// NetworkInfo describes where the device can be reached.
type NetworkInfo struct {
	StationIP string `json:"station_ip"`
	APSSID    string `json:"ap_ssid,omitempty"`
	APAddress string `json:"ap_address,omitempty"`
	Portmaps  int    `json:"portmaps"`
}

// Marshal encodes the announcement.
func (a *Announcement) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// ParseAnnouncement parses an announcement payload from JSON bytes.
func ParseAnnouncement(data []byte) (*Announcement, error) {
	var payload Announcement
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid announcement JSON: %w", err)
	}

	if payload.Version != 1 {
		return nil, fmt.Errorf("unsupported announcement version: %d", payload.Version)
	}

	if payload.Device.ID == "" {
		return nil, fmt.Errorf("device.id is required")
	}

	return &payload, nil
}

// DeviceID derives a topic-safe id from a MAC address.
func DeviceID(mac string) string {
	return strings.ToLower(strings.ReplaceAll(mac, ":", ""))
}
