package api

import (
	"net/http"
	"strings"
	"sync"
)

// readiness tracks the run loop and the optional backends.
var readiness = &readinessState{}

type readinessState struct {
	mu                sync.RWMutex
	orchestratorReady bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

// Check is one readiness check.
type Check struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

// ReadinessResponse is the /ready body.
type ReadinessResponse struct {
	Ready       bool             `json:"ready"`
	Checks      map[string]Check `json:"checks"`
	NotReadyMsg string           `json:"message,omitempty"`
}

// SetOrchestratorReady marks the run loop as serving.
func SetOrchestratorReady(ready bool) {
	readiness.mu.Lock()
	defer readiness.mu.Unlock()
	readiness.orchestratorReady = ready
}

// SetMQTTState records the broker connection. Optional backends never make
// the router unready.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	defer readiness.mu.Unlock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
}

// SetPostgresState records the event store connection.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	defer readiness.mu.Unlock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
}

func dependencyCheck(connected, optional bool) (Check, bool) {
	switch {
	case connected:
		return Check{Status: "ok", Optional: optional}, true
	case optional:
		return Check{Status: "unavailable", Optional: true}, true
	default:
		return Check{Status: "not_ready"}, false
	}
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	loopReady := readiness.orchestratorReady
	mqttConnected, mqttOptional := readiness.mqttConnected, readiness.mqttOptional
	pgConnected, pgOptional := readiness.postgresConnected, readiness.postgresOptional
	readiness.mu.RUnlock()

	resp := ReadinessResponse{Ready: true, Checks: map[string]Check{}}
	var reasons []string

	if loopReady {
		resp.Checks["orchestrator"] = Check{Status: "ok"}
	} else {
		resp.Checks["orchestrator"] = Check{Status: "not_ready"}
		reasons = append(reasons, "run loop not started")
	}

	var ok bool
	if resp.Checks["mqtt"], ok = dependencyCheck(mqttConnected, mqttOptional); !ok {
		reasons = append(reasons, "mqtt not connected")
	}
	if resp.Checks["postgres"], ok = dependencyCheck(pgConnected, pgOptional); !ok {
		reasons = append(reasons, "postgres not connected")
	}

	code := http.StatusOK
	if len(reasons) > 0 {
		resp.Ready = false
		resp.NotReadyMsg = strings.Join(reasons, "; ")
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
