package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/orchestrator"
	"github.com/AaronLay10/napt-router/internal/provisioning"
	"github.com/AaronLay10/napt-router/internal/storage/postgres"
)

// requestTimeout bounds how long a handler waits for the run loop.
const requestTimeout = 5 * time.Second

// Controller runs lifecycle operations on the run loop.
type Controller interface {
	Status(ctx context.Context) (orchestrator.Status, error)
	Trigger(ctx context.Context) error
	Disable(ctx context.Context) error
	Provision(ctx context.Context, c provisioning.Credentials) error
}

// EventHistory serves persisted events.
type EventHistory interface {
	Query(ctx context.Context, f postgres.Filter) ([]postgres.EventRow, error)
}

var (
	controller Controller
	history    EventHistory
)

// SetController sets the lifecycle controller used by the control endpoints.
func SetController(c Controller) {
	controller = c
}

// SetEventHistory enables /events?source=db.
func SetEventHistory(h EventHistory) {
	history = h
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "napt-router",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	writeJSON(w, http.StatusOK, resp)
}

// ControlResponse is returned by the control endpoints.
type ControlResponse struct {
	OK     bool                 `json:"ok"`
	Error  string               `json:"error,omitempty"`
	Status *orchestrator.Status `json:"status,omitempty"`
}

func statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, ControlResponse{Error: "method not allowed"})
		return
	}
	if controller == nil {
		writeJSON(w, http.StatusServiceUnavailable, ControlResponse{Error: "router not running"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	st, err := controller.Status(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ControlResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// eventsHandler serves buffered events, or the Postgres history with
// ?source=db. ?limit=N and ?prefix=router. apply to both; ?boot=<id> only to
// the history.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ControlResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}
	prefix := q.Get("prefix")

	if q.Get("source") == "db" {
		if history == nil {
			writeJSON(w, http.StatusNotFound, ControlResponse{Error: "event store not configured"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		rows, err := history.Query(ctx, postgres.Filter{
			Limit:  limit,
			Prefix: prefix,
			BootID: q.Get("boot"),
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ControlResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}

	var prefixes []string
	if prefix != "" {
		prefixes = []string{prefix}
	}
	writeJSON(w, http.StatusOK, events.RecentEvents(limit, prefixes...))
}

// control wraps a mutation so it only accepts POST, runs with a timeout
// and answers with the resulting status.
func control(op func(ctx context.Context, r *http.Request) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, ControlResponse{Error: "method not allowed"})
			return
		}
		if controller == nil {
			writeJSON(w, http.StatusServiceUnavailable, ControlResponse{Error: "router not running"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		if code, err := op(ctx, r); err != nil {
			writeJSON(w, code, ControlResponse{Error: err.Error()})
			return
		}

		resp := ControlResponse{OK: true}
		if st, err := controller.Status(ctx); err == nil {
			resp.Status = &st
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

var triggerHandler = control(func(ctx context.Context, _ *http.Request) (int, error) {
	return http.StatusServiceUnavailable, controller.Trigger(ctx)
})

var disableHandler = control(func(ctx context.Context, _ *http.Request) (int, error) {
	return http.StatusServiceUnavailable, controller.Disable(ctx)
})

// ProvisionRequest carries credentials for the API-fed provisioning mechanism.
type ProvisionRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

var provisionHandler = control(func(ctx context.Context, r *http.Request) (int, error) {
	var req ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return http.StatusBadRequest, errors.New("invalid JSON")
	}
	if req.SSID == "" {
		return http.StatusBadRequest, errors.New("ssid required")
	}

	err := controller.Provision(ctx, provisioning.Credentials{SSID: req.SSID, Password: req.Password})
	if errors.Is(err, provisioning.ErrNotListening) {
		return http.StatusConflict, err
	}
	return http.StatusServiceUnavailable, err
})

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NewMux builds the API routes. Health and readiness stay open; everything
// else requires credentials when auth is enabled.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.HandleFunc("/status", RequireAuth(statusHandler))
	mux.HandleFunc("/events", RequireAuth(eventsHandler))
	mux.HandleFunc("/ws/events", RequireAuth(wsEventsHandler))
	mux.HandleFunc("/metrics", RequireAuth(metricsHandler))
	mux.HandleFunc("/trigger", RequireAuth(triggerHandler))
	mux.HandleFunc("/disable", RequireAuth(disableHandler))
	mux.HandleFunc("/provision", RequireAuth(provisionHandler))
	return mux
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if IsTLSEnabled() {
			tlsCfg, err := LoadTLSConfig()
			if err != nil {
				errCh <- err
				return
			}
			srv.TLSConfig = tlsCfg
			log.Printf("API listening on %s (tls)\n", addr)
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		log.Printf("API listening on %s\n", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		events.CloseAllSubscribers()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
