// ============================================================================
// Knock-Server CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra based command line for the coordinator, the simulated fleet
//          and the admin tooling
//
// Command Structure:
//   knock                          # Root command
//   ├── serve                      # Start the coordinator (HTTP + gRPC)
//   ├── agent                      # Run simulated devices against a coordinator
//   │   ├── --devices, -n         # Number of devices
//   │   └── --transport           # http | grpc
//   ├── submit                     # Queue knocks
//   │   ├── --target, -t          # Force a specific device
//   │   ├── --count               # Number of knocks
//   │   └── --file, -f            # YAML batch file
//   ├── status                     # Render devices, queue and event log
//   │   └── --show-config         # Print the effective config and exit
//   ├── --config, -c               # Config file (default: configs/default.yaml)
//   └── --version
//
// Configuration Management:
//   Viper loads the YAML file, KNOCK_* environment overrides and defaults
//   (see internal/config). A missing file means defaults.
//
// serve Command:
//   1. Load config and install the JSON logger
//   2. Initialise tracing (if enabled)
//   3. Build registry, job queue, event log and dispatcher
//   4. Start HTTP API, gRPC service, metrics server and retention sweeper
//   5. Watch the config file (liveness threshold and log level hot-reload)
//   6. On SIGINT / SIGTERM shut every listener down
//
// Signal Handling:
//   serve and agent stop gracefully on SIGINT (Ctrl+C) and SIGTERM.
//
// ============================================================================

package cli

import (
	"github.com/spf13/cobra"
)

// Version of the knock binary.
var Version = "1.0.0"

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "knock",
		Short: "Knock-Server: a poll-based job dispatcher for knock devices",
		Long: `Knock-Server hands "knock" jobs to devices that poll for work:
- FIFO queue with optional per-device targeting
- At-most-once assignment, heartbeat based liveness
- HTTP and gRPC device APIs
- Prometheus metrics and OpenTelemetry tracing`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildAgentCommand())
	rootCmd.AddCommand(buildSubmitCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}
