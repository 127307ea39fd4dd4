package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/napt-router/internal/api"
	"github.com/AaronLay10/napt-router/internal/events"
	"github.com/AaronLay10/napt-router/internal/provisioning"
	"github.com/AaronLay10/napt-router/internal/storage/postgres"
	"github.com/AaronLay10/napt-router/internal/timer"
	"github.com/AaronLay10/napt-router/internal/version"
)

var (
	fabricName      string
	stationMACFlag  string
	apMACFlag       string
	provisionScript string
	listenAddr      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the router with the local control API",
	RunE:  runRouter,
}

func init() {
	addDeviceFlags(runCmd)
	runCmd.Flags().StringVar(&fabricName, "fabric", "sim", "network fabric backend (sim)")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "API listen address (overrides api.listen)")
	rootCmd.AddCommand(runCmd)
}

// addDeviceFlags registers the flags shared by run and console.
func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&stationMACFlag, "station-mac", "5c:cf:7f:00:00:01", "station interface MAC")
	cmd.Flags().StringVar(&apMACFlag, "ap-mac", "5e:cf:7f:00:00:01", "access point interface MAC")
	cmd.Flags().StringVar(&provisionScript, "provision-script", "", "replay a successful exchange for ssid:password instead of waiting on the API")
}

func deviceOptionsFromFlags() (deviceOptions, error) {
	var opts deviceOptions
	var err error
	if opts.stationMAC, err = parseMAC(stationMACFlag); err != nil {
		return opts, fmt.Errorf("--station-mac: %w", err)
	}
	if opts.apMAC, err = parseMAC(apMACFlag); err != nil {
		return opts, fmt.Errorf("--ap-mac: %w", err)
	}
	if provisionScript != "" {
		ssid, password, ok := strings.Cut(provisionScript, ":")
		if !ok || ssid == "" {
			return opts, fmt.Errorf("--provision-script: want ssid:password")
		}
		opts.script = provisioning.SuccessScript(ssid, password)
	}
	return opts, nil
}

func runRouter(cmd *cobra.Command, _ []string) error {
	if fabricName != "sim" {
		return fmt.Errorf("unsupported fabric %q", fabricName)
	}

	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := deviceOptionsFromFlags()
	if err != nil {
		return err
	}
	opts.hardware = true
	opts.timers = func(post func(func()) bool) timer.Scheduler { return timer.NewService(post) }

	d, err := newDevice(cfg, secrets, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *postgres.Client
	if cfg.Storage.Postgres {
		var perr error
		store, perr = postgres.New("", d.deviceID())
		if perr != nil {
			log.Printf("postgres unavailable, continuing without persistence: %v", perr)
			api.SetPostgresState(false, true)
		} else {
			events.SetStore(store)
			api.SetEventHistory(store)
			api.SetPostgresState(true, true)
			if cfg.Storage.Retention > 0 {
				go pruneEvents(ctx, store, cfg.Storage.Retention)
			}
		}
	}

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "napt-router starting", map[string]interface{}{
		"service":  "napt-router",
		"version":  version.Version,
		"hostname": hostname,
		"pid":      os.Getpid(),
		"boot_id":  d.bootID,
		"fabric":   fabricName,
	})

	if err := d.start(ctx); err != nil {
		d.stop()
		return fmt.Errorf("boot: %w", err)
	}

	api.InitAuth(secrets)
	api.InitTLS(cfg.API.TLSCert, cfg.API.TLSKey)
	api.InitMetrics(d.deviceID())
	api.SetController(controller{d: d})
	api.SetOrchestratorReady(true)
	if d.mqttClient != nil {
		go watchMQTT(ctx, d)
	}

	addr := cfg.API.Listen
	if listenAddr != "" {
		addr = listenAddr
	}
	apiErr := make(chan error, 1)
	go func() { apiErr <- api.ListenAndServe(ctx, addr) }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-apiErr:
		if runErr != nil {
			events.Emit("error", "system.error", "api server failed", map[string]interface{}{
				"error": runErr.Error(),
			})
		}
	}

	api.SetOrchestratorReady(false)
	d.stop()
	events.Emit("info", "system.shutdown", "napt-router stopped", map[string]interface{}{
		"boot_id": d.bootID,
	})
	if store != nil {
		events.SetStore(nil)
		store.Close()
	}
	return runErr
}

// watchMQTT mirrors the broker connection into the readiness check.
func watchMQTT(ctx context.Context, d *device) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		api.SetMQTTState(d.mqttClient.IsConnected(), true)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pruneEvents drops stored events older than retention, hourly.
func pruneEvents(ctx context.Context, store *postgres.Client, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		n, err := store.Prune(pctx, time.Now().Add(-retention))
		cancel()
		if err != nil {
			log.Printf("postgres prune failed: %v", err)
		} else if n > 0 {
			log.Printf("postgres: pruned %d events older than %s", n, retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
