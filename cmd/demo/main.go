package main

// ============================================================================
// Knock-Server Demo
// ============================================================================
//
// 在同一個行程內啟動協調器（HTTP API 於隨機埠）與三台模擬設備，
// 依序示範：
//   1. 一般敲擊：任一台設備取走並回報
//   2. 指定設備敲擊：只有目標設備會取走
//   3. 裝置離線：停止輪詢後超過存活門檻即顯示 offline
//
// 用法：
//   go run ./cmd/demo
//
// ============================================================================

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/knock-server/internal/agent"
	"github.com/ChuLiYu/knock-server/internal/cli"
	"github.com/ChuLiYu/knock-server/internal/config"
	"github.com/ChuLiYu/knock-server/pkg/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	cfg := config.Default()
	cfg.Dispatch.LivenessThreshold = 2 * time.Second
	coord := cli.NewCoordinator(cfg, prometheus.NewRegistry(), logger)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	srv := &http.Server{Handler: coord.Router(), ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(lis) }()
	defer srv.Close()

	baseURL := "http://" + lis.Addr().String()
	fmt.Printf("✓ Coordinator listening on %s\n", baseURL)

	pool := agent.NewPool(agent.Config{
		PollInterval:  200 * time.Millisecond,
		KnockDuration: 300 * time.Millisecond,
		Logger:        logger,
		OnKnock: func(deviceID string, jobID types.JobID) {
			fmt.Printf("  🔨 %s knocked (job %s)\n", deviceID, jobID)
		},
	})
	if err := pool.Start(ctx, 3, agent.NewHTTPSource(baseURL, nil)); err != nil {
		log.Fatalf("Failed to start devices: %v", err)
	}
	fmt.Printf("✓ %d devices polling every 200ms\n\n", pool.DeviceCount())

	// 1. 一般敲擊
	fmt.Println("1) Queue a knock for any device")
	id := coord.Dispatcher.SubmitJob(ctx, "")
	if st, ok := waitFor(ctx, coord, id); ok {
		fmt.Printf("   job %s → %s by %s\n\n", id, st.State, *st.Worker)
	}

	// 2. 指定設備
	target := agent.DeviceID("", 2)
	fmt.Printf("2) Force a knock on %s\n", target)
	id = coord.Dispatcher.SubmitJob(ctx, target)
	if st, ok := waitFor(ctx, coord, id); ok {
		fmt.Printf("   job %s → %s by %s\n\n", id, st.State, *st.Worker)
	}

	// 3. 離線
	fmt.Println("3) Stop all devices and wait past the liveness threshold")
	pool.Stop()
	select {
	case <-ctx.Done():
		return
	case <-time.After(cfg.Dispatch.LivenessThreshold + 500*time.Millisecond):
	}

	fmt.Println()
	fmt.Println("📊 Devices:")
	for _, d := range coord.Dispatcher.RegistrySnapshot(ctx) {
		state := "offline"
		if d.Online {
			state = "online"
		}
		fmt.Printf("  %s  %-7s  %2ds ago  %d knocks\n", d.ID, state, d.SecondsAgo, d.CompletedCount)
	}

	fmt.Println()
	fmt.Println("📜 Event log:")
	for _, line := range coord.Events.Entries() {
		fmt.Println("  " + line)
	}
}

func waitFor(ctx context.Context, coord *cli.Coordinator, id types.JobID) (types.JobStatus, bool) {
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		st, _ := coord.Dispatcher.GetJobStatus(ctx, id)
		if st.State == string(types.StateCompleted) {
			return st, true
		}
		select {
		case <-ctx.Done():
			return st, false
		case <-deadline:
			fmt.Printf("   job %s still %s after 10s\n", id, st.State)
			return st, false
		case <-tick.C:
		}
	}
}
