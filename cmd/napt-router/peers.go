package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AaronLay10/napt-router/internal/mqtt"
)

var peersWatch time.Duration

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List routers announcing on the MQTT broker",
	RunE:  runPeers,
}

func init() {
	peersCmd.Flags().DurationVar(&peersWatch, "watch", 0, "keep listening and reprint at this interval")
	rootCmd.AddCommand(peersCmd)
}

func runPeers(cmd *cobra.Command, _ []string) error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is not configured")
	}

	client := mqtt.NewClient(mqtt.Options{
		BrokerURL: cfg.MQTT.BrokerURL,
		ClientID:  "napt-peers-" + uuid.NewString()[:8],
		Username:  cfg.MQTT.Username,
		Password:  secrets.MQTTPassword,
	})
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.MQTT.BrokerURL, err)
	}
	defer client.Disconnect()

	fleet := mqtt.NewFleet(cfg.MQTT.TopicPrefix, 2.0)
	if err := fleet.Subscribe(client); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if peersWatch <= 0 {
		// Retained announcements arrive right after subscribing.
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
		printPeers(cmd, fleet)
		return nil
	}

	fleet.Start(peersWatch)
	defer fleet.Stop()
	return watchPeers(ctx, cmd, fleet)
}

func watchPeers(ctx context.Context, cmd *cobra.Command, fleet *mqtt.Fleet) error {
	ticker := time.NewTicker(peersWatch)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			printPeers(cmd, fleet)
		}
	}
}

func printPeers(cmd *cobra.Command, fleet *mqtt.Fleet) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTATION IP\tPORTMAPS\tFIRMWARE\tLAST SEEN")
	for _, p := range fleet.All() {
		status := "offline"
		if p.Online {
			status = "online"
		}
		seen := "-"
		if !p.LastSeen.IsZero() {
			seen = time.Since(p.LastSeen).Truncate(time.Second).String() + " ago"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", p.ID, status, p.StationIP, p.Portmaps, p.Firmware, seen)
	}
	w.Flush()
}
