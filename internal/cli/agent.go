package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/knock-server/internal/agent"
	"github.com/ChuLiYu/knock-server/internal/config"
	"github.com/ChuLiYu/knock-server/internal/server"
)

type agentOptions struct {
	devices   int
	transport string
	server    string
	prefix    string
}

func buildAgentCommand() *cobra.Command {
	var opts agentOptions

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run simulated knock devices",
		Long:  "Start a fleet of simulated devices that poll the coordinator over HTTP or gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.devices, "devices", "n", 0, "number of devices (default from config)")
	cmd.Flags().StringVar(&opts.transport, "transport", "", "http or grpc (default from config)")
	cmd.Flags().StringVar(&opts.server, "server", "", "coordinator URL (http) or address (grpc)")
	cmd.Flags().StringVar(&opts.prefix, "id-prefix", "", "device id prefix instead of generated MAC addresses")

	return cmd
}

// mergeAgentOptions fills unset flags from the agent config section.
func mergeAgentOptions(opts agentOptions, cfg config.AgentConfig) agentOptions {
	if opts.devices <= 0 {
		opts.devices = cfg.Devices
	}
	if opts.transport == "" {
		opts.transport = cfg.Transport
	}
	if opts.server == "" {
		opts.server = cfg.ServerFor(opts.transport)
	}
	return opts
}

func runAgent(ctx context.Context, opts agentOptions) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	opts = mergeAgentOptions(opts, cfg.Agent)

	level := new(slog.LevelVar)
	level.Set(cfg.Log.SlogLevel())
	logger := newLogger(os.Stderr, "text", level)

	var source agent.JobSource
	switch opts.transport {
	case "http":
		source = agent.NewHTTPSource(opts.server, nil)
	case "grpc":
		conn, err := server.Dial(opts.server)
		if err != nil {
			return err
		}
		defer conn.Close()
		source = agent.NewGrpcSource(server.NewClient(conn))
	default:
		return fmt.Errorf("unknown transport %q (want http or grpc)", opts.transport)
	}

	pool := agent.NewPool(agent.Config{
		PollInterval:  cfg.Agent.PollInterval,
		KnockDuration: cfg.Agent.KnockDuration,
		IDPrefix:      opts.prefix,
		Logger:        logger,
	})

	logger.Info("Connecting devices", "server", opts.server, "transport", opts.transport, "devices", opts.devices)
	if err := pool.Start(ctx, opts.devices, source); err != nil {
		return fmt.Errorf("failed to start agent pool: %w", err)
	}

	<-ctx.Done()
	logger.Info("Stopping devices")
	pool.Stop()

	stats := pool.Stats()
	logger.Info("Agent stopped", "polls", stats.Polls, "knocks", stats.Knocks, "errors", stats.Errors)
	return nil
}
