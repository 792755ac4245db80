// ============================================================================
// Knock-Server Agent Pool - 模擬設備群
// ============================================================================
//
// Package: internal/agent
// 文件: pool.go
// 功能: 管理多個模擬設備 goroutine 的生命週期
//
// 生命週期:
//   1. NewPool(cfg) - 建立 Pool
//   2. Start(ctx, n, source) - 啟動 n 個設備，各自輪詢 source
//   3. Stop() - 取消所有設備，等待 goroutine 結束
//
// 並發控制:
//   - context.CancelFunc: 通知所有設備停止
//   - WaitGroup: 追蹤所有設備，確保優雅關閉
//   - Mutex: 保護 started/stopped 狀態
//
// ============================================================================

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolStarted Pool 已啟動
	ErrPoolStarted = errors.New("agent pool already started")
	// ErrNoSource 未提供任務來源
	ErrNoSource = errors.New("agent pool needs a job source")
)

// ============================================================================
// 設定
// ============================================================================

// Config 設備群設定
type Config struct {
	PollInterval  time.Duration
	KnockDuration time.Duration
	// IDPrefix 非空時設備 ID 為 "<prefix>-NN"，否則使用本地管理的 MAC 位址
	IDPrefix string
	OnKnock  KnockFunc
	Logger   *slog.Logger
}

// DefaultConfig 預設設定
func DefaultConfig() Config {
	return Config{
		PollInterval:  2 * time.Second,
		KnockDuration: time.Second,
	}
}

// DeviceID 第 i 個設備的識別碼
func DeviceID(prefix string, i int) string {
	if prefix != "" {
		return fmt.Sprintf("%s-%02d", prefix, i+1)
	}
	n := i + 1
	return fmt.Sprintf("02:4B:4E:00:%02X:%02X", (n>>8)&0xff, n&0xff)
}

// ============================================================================
// 資料結構定義
// ============================================================================

// Pool 模擬設備群
type Pool struct {
	cfg     Config
	logger  *slog.Logger
	devices []*Device
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
	mu      sync.Mutex
}

// NewPool 建立設備群
func NewPool(cfg Config) *Pool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:    cfg,
		logger: logger.With("component", "agent"),
	}
}

// Start 啟動 n 個設備
func (p *Pool) Start(ctx context.Context, n int, source JobSource) error {
	if source == nil {
		return ErrNoSource
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < n; i++ {
		dev := newDevice(DeviceID(p.cfg.IDPrefix, i), source, p.cfg, p.logger)
		p.devices = append(p.devices, dev)

		p.wg.Add(1)
		go func(d *Device) {
			defer p.wg.Done()
			d.Run(runCtx)
		}(dev)
	}

	p.started = true
	p.logger.Info("Agent pool started", "devices", n, "poll_interval", p.cfg.PollInterval)
	return nil
}

// Stop 停止所有設備並等待結束
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("Agent pool stopped", "knocks", p.Stats().Knocks)
}

// Wait 阻塞直到所有設備結束（ctx 取消或 Stop）
func (p *Pool) Wait() {
	p.wg.Wait()
}

// DeviceCount 設備數
func (p *Pool) DeviceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.devices)
}

// Devices 設備列表
func (p *Pool) Devices() []*Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Device(nil), p.devices...)
}

// IsStarted 是否已啟動
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Stats 所有設備的計數總和
func (p *Pool) Stats() DeviceStats {
	var total DeviceStats
	for _, d := range p.Devices() {
		s := d.Stats()
		total.Polls += s.Polls
		total.Knocks += s.Knocks
		total.Errors += s.Errors
	}
	return total
}
