package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/orchestrator"
	"github.com/AaronLay10/napt-router/internal/version"
)

var metricsState = &MetricsState{startTime: time.Now()}

// MetricsState holds process-level metric inputs.
type MetricsState struct {
	mu        sync.RWMutex
	startTime time.Time
	deviceID  string
}

// InitMetrics records the process start and the device label.
func InitMetrics(deviceID string) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
	metricsState.deviceID = deviceID
}

var lifecycleStates = []orchestrator.State{
	orchestrator.StateIdle,
	orchestrator.StateProvisioning,
	orchestrator.StateAwaitingResult,
	orchestrator.StateRouterActive,
}

// metricsHandler returns Prometheus-compatible metrics in text format.
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	metricsState.mu.RLock()
	startTime := metricsState.startTime
	deviceID := metricsState.deviceID
	metricsState.mu.RUnlock()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	labels := fmt.Sprintf(`device="%s",instance="%s",version="%s"`, deviceID, hostname, version.Version)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric(w, "napt_uptime_seconds", "gauge",
		"Seconds since the process started", time.Since(startTime).Seconds(), labels)
	writeMetric(w, "napt_events_total", "counter",
		"Total number of events emitted since startup", events.TotalCount(), labels)
	writeMetric(w, "napt_ws_clients", "gauge",
		"Number of active WebSocket client connections", events.SubscriberCount(), labels)
	writeMetric(w, "napt_events_dropped_total", "counter",
		"Events dropped for slow stream subscribers", events.DroppedTotal(), labels)

	if controller == nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	st, err := controller.Status(ctx)
	if err != nil {
		return
	}
	writeStatusMetrics(w, st, labels)
}

func writeStatusMetrics(w io.Writer, st orchestrator.Status, labels string) {
	fmt.Fprintf(w, "# HELP napt_router_state Current lifecycle state (1 for the active state)\n")
	fmt.Fprintf(w, "# TYPE napt_router_state gauge\n")
	for _, s := range lifecycleStates {
		fmt.Fprintf(w, "napt_router_state{%s,state=\"%s\"} %d\n", labels, s, boolValue(st.State == s))
	}

	writeMetric(w, "napt_router_connected", "gauge",
		"Whether the upstream link and router bring-up are complete (1) or not (0)", boolValue(st.Connected), labels)
	writeMetric(w, "napt_portmaps_loaded", "gauge",
		"Portmap entries loaded at the last enable", st.PortmapsLoaded, labels)
	writeMetric(w, "napt_provisioning_attempt", "gauge",
		"Current provisioning attempt", st.Attempt, labels)
	writeMetric(w, "napt_presence_enabled", "gauge",
		"Whether presence services are running (1) or not (0)", boolValue(st.PresenceEnabled), labels)

	c := st.Counters
	writeMetric(w, "napt_enables_total", "counter", "Router enables", c.Enables, labels)
	writeMetric(w, "napt_disables_total", "counter", "Router teardowns", c.Disables, labels)
	writeMetric(w, "napt_provisioning_failures_total", "counter", "Provisioning sessions that ended without credentials", c.ProvisioningFailures, labels)
	writeMetric(w, "napt_watchdog_resets_total", "counter", "Teardowns started by the connection watchdog", c.WatchdogResets, labels)
	writeMetric(w, "napt_bringups_total", "counter", "Completed router bring-ups", c.Bringups, labels)
	writeMetric(w, "napt_bringup_failures_total", "counter", "Router bring-ups that failed part way", c.BringupFailures, labels)
	writeMetric(w, "napt_triggers_ignored_total", "counter", "Trigger presses ignored while active", c.TriggersIgnored, labels)
}

func writeMetric(w io.Writer, name, mtype, help string, value interface{}, labels string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
	if labels != "" {
		fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
	} else {
		fmt.Fprintf(w, "%s %v\n", name, value)
	}
}

func boolValue(b bool) int {
	if b {
		return 1
	}
	return 0
}
