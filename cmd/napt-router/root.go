package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/napt-router/internal/version"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "napt-router",
	Short:   "Self-provisioning WiFi NAT router",
	Long: `napt-router waits for a button press, receives upstream WiFi credentials
from a companion app, joins the upstream network and then serves its own
access point with address and port translation until connectivity is lost.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to device.yaml (defaults are used when empty)")
}
