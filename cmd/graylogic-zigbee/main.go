// Gray Logic Zigbee - Zigbee protocol bridge for Gray Logic Core
//
// This is the main entry point for the Zigbee bridge. The bridge drives a
// Z-Stack coordinator dongle, discovers and binds Zigbee devices, and
// exposes them to Gray Logic Core over MQTT.
//
// Usage:
//
//	graylogic-zigbee run [--config path]
//	graylogic-zigbee pair [--time 120]
//	graylogic-zigbee version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root command without a
// subcommand starts the bridge.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "graylogic-zigbee",
		Short: "Gray Logic Zigbee bridge",
		Long: `Zigbee protocol bridge for Gray Logic Core.

The bridge connects to a Z-Stack coordinator over serial or TCP, discovers
devices as they join, binds their On/Off, Metering and IAS Zone clusters and
publishes them to Core over MQTT.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(),
		"Path to config.yaml (env: GRAYLOGIC_CONFIG)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newPairCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge",
		Example: `  # Start with the default config
  graylogic-zigbee run

  # Start against a network-attached coordinator
  GRAYLOGIC_ZIGBEE_DEVICE=tcp://10.0.0.5:6638 graylogic-zigbee run -c /etc/graylogic/zigbee.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *configPath)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graylogic-zigbee %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
