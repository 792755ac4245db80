package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/knock-server/internal/config"
	"github.com/ChuLiYu/knock-server/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func buildServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the knock coordinator",
		Long:  "Start the HTTP API, the gRPC service, the metrics endpoint and the retention sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configFile)
		},
	}
	return cmd
}

func runServe(ctx context.Context, path string) error {
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Log.SlogLevel())
	logger := newLogger(os.Stderr, "json", level)
	slog.SetDefault(logger)

	logger.Info("Starting knock coordinator",
		"config", loader.File(),
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"liveness_threshold", cfg.Dispatch.LivenessThreshold)

	shutdownTracing := tracing.Noop()
	if cfg.Tracing.Enabled {
		if shutdownTracing, err = tracing.Init(cfg.Tracing.ServiceName); err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	coord := NewCoordinator(cfg, nil, logger)

	if loader.Watch(logger, func(next *config.Config) {
		coord.Apply(next)
		level.Set(next.Log.SlogLevel())
	}) {
		logger.Info("Watching config for changes", "file", loader.File())
	}

	sweeper, err := coord.Sweeper()
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}
	sweeper.Start()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		sweeper.Stop(sctx)
	}()

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	errCh := make(chan error, 3)

	// Metrics
	if cfg.Metrics.Enabled {
		go func() {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := coord.Metrics.StartServer(ctx, cfg.Metrics.Addr); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// gRPC
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
		}
		go func() {
			if err := coord.GRPC().Serve(ctx, lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	// HTTP
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           coord.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal, stopping gracefully")
	case runErr = <-errCh:
		logger.Error("Server failed", "error", runErr)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		logger.Warn("HTTP shutdown failed", "error", err)
	}

	logger.Info("Coordinator stopped", "jobs", coord.Dispatcher.Stats().Total())
	return runErr
}
