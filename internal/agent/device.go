// ============================================================================
// Knock-Server Agent - 模擬設備
// ============================================================================
//
// 每個 Device 是一個獨立的 goroutine，持續執行以下循環:
//   1. 每 PollInterval 呼叫一次 source.Poll（同時也是心跳）
//   2. 收到 KNOCK → 模擬敲擊 KnockDuration → source.Confirm
//   3. 收到 SLEEP → 等下一次輪詢
//   4. 直到 ctx 被取消
//
// 錯誤處理:
//   輪詢或回報失敗只記錄並計數，下一輪自然重試。
//   回報失敗時任務在協調器端會停在 assigned。
//
// ============================================================================

package agent

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/knock-server/pkg/types"
)

// KnockFunc 敲擊完成後的回呼（可選，demo 用）
type KnockFunc func(deviceID string, jobID types.JobID)

// DeviceStats 單一設備的計數
type DeviceStats struct {
	Polls  int64 `json:"polls"`
	Knocks int64 `json:"knocks"`
	Errors int64 `json:"errors"`
}

// Device 模擬設備
type Device struct {
	id            string
	source        JobSource
	pollInterval  time.Duration
	knockDuration time.Duration
	onKnock       KnockFunc
	logger        *slog.Logger

	polls  atomic.Int64
	knocks atomic.Int64
	errors atomic.Int64
}

func newDevice(id string, source JobSource, cfg Config, logger *slog.Logger) *Device {
	return &Device{
		id:            id,
		source:        source,
		pollInterval:  cfg.PollInterval,
		knockDuration: cfg.KnockDuration,
		onKnock:       cfg.OnKnock,
		logger:        logger.With("deviceID", id),
	}
}

// ID 設備識別碼
func (d *Device) ID() string { return d.id }

// Stats 目前的計數快照
func (d *Device) Stats() DeviceStats {
	return DeviceStats{
		Polls:  d.polls.Load(),
		Knocks: d.knocks.Load(),
		Errors: d.errors.Load(),
	}
}

// Run 設備主循環；第一次輪詢立即進行
func (d *Device) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		d.step(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// step 一次輪詢，必要時敲擊並回報
func (d *Device) step(ctx context.Context) {
	resp, err := d.source.Poll(ctx, d.id)
	d.polls.Add(1)
	if err != nil {
		if ctx.Err() == nil {
			d.errors.Add(1)
			d.logger.Warn("Poll failed", "error", err)
		}
		return
	}

	if resp.Command != types.CommandKnock {
		return
	}

	d.logger.Info("Knock received", "jobID", resp.JobID)
	if !d.knock(ctx) {
		return
	}

	if err := d.source.Confirm(ctx, resp.JobID, d.id); err != nil {
		d.errors.Add(1)
		d.logger.Warn("Confirm failed", "jobID", resp.JobID, "error", err)
		return
	}
	d.knocks.Add(1)
	if d.onKnock != nil {
		d.onKnock(d.id, resp.JobID)
	}
}

// knock 模擬敲擊動作；ctx 取消時回傳 false
func (d *Device) knock(ctx context.Context) bool {
	if d.knockDuration <= 0 {
		return true
	}
	timer := time.NewTimer(d.knockDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
