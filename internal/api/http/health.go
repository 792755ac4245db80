package http

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ChuLiYu/knock-server/pkg/types"
)

type SystemStats struct {
	// Process specific
	NumGoroutine int    `json:"num_goroutine"`
	Alloc        uint64 `json:"alloc_bytes"`
	NumGC        uint32 `json:"num_gc"`

	// Host wide, zero when the host cannot be read
	TotalRAM        uint64    `json:"total_ram"`
	UsedRAMPercent  float64   `json:"used_ram_percent"`
	TotalCPUCores   int       `json:"total_cpu_cores"`
	CPUUsagePercent []float64 `json:"cpu_usage_percent"`
}

type HealthStatus struct {
	Status        string           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Uptime        string           `json:"uptime"`
	Devices       int              `json:"devices"`
	OnlineDevices int              `json:"online_devices"`
	Queue         types.QueueStats `json:"queue"`
	System        SystemStats      `json:"system"`
}

// HealthService reports coordinator and host state.
type HealthService struct {
	dispatcher Dispatcher
	started    time.Time
}

func NewHealthService(d Dispatcher) *HealthService {
	return &HealthService{dispatcher: d, started: time.Now()}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sys := SystemStats{
		NumGoroutine:    runtime.NumGoroutine(),
		Alloc:           memStats.Alloc,
		NumGC:           memStats.NumGC,
		TotalCPUCores:   runtime.NumCPU(),
		CPUUsagePercent: []float64{},
	}
	if vMem, err := mem.VirtualMemoryWithContext(ctx); err == nil && vMem != nil {
		sys.TotalRAM = vMem.Total
		sys.UsedRAMPercent = vMem.UsedPercent
	}
	// interval 0 compares against the previous call, never blocks
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil {
		sys.CPUUsagePercent = pct
	}

	return HealthStatus{
		Status:        "ok",
		Timestamp:     time.Now(),
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Devices:       len(s.dispatcher.RegistrySnapshot(ctx)),
		OnlineDevices: s.dispatcher.OnlineCount(ctx),
		Queue:         s.dispatcher.Stats(),
		System:        sys,
	}
}
