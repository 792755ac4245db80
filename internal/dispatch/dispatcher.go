// ============================================================================
// Knock-Server 派送核心 - 系統核心協調器
// ============================================================================
//
// Package: internal/dispatch
// 文件: dispatcher.go
// 功能: 協調設備登錄表與任務佇列，實現輪詢式派送的狀態機
//
// 架構設計:
//   - Registry: 設備心跳與完成次數（存活只用於顯示）
//   - Queue: pending FIFO + 任務歷史
//   - EventSink: 給人看的事件紀錄（儀表板）
//   - Recorder: Prometheus 指標
//   以上皆在建構時注入，不使用全域狀態
//
// 公開操作:
//   SubmitJob        → Queue.Submit
//   GetJobStatus     → Queue.Lookup，查無時回傳 unknown，不是錯誤
//   Poll             → Registry.Heartbeat → Queue.Claim → KNOCK / SLEEP
//   ReportCompletion → Queue.MarkCompleted → Registry.IncrementCompleted，總是成功
//
// 錯誤風格 (soft-fail):
//   唯一會回傳錯誤的是缺少設備 ID 的輪詢 (ErrMissingWorkerID)。
//   未知任務、未知設備、重複回報都被吸收為 no-op，設備無法處理拒絕，
//   下次輪詢自然會重試。
//
// 並發安全:
//   - 一把 sync.RWMutex 涵蓋複合操作（心跳+取任務+分派、完成+計數）
//   - 查詢操作使用 RLock，看到的是一致的時間點
//   - 每個操作都是短的臨界區，不阻塞、不等待
//
// ============================================================================

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/knock-server/internal/jobqueue"
	"github.com/ChuLiYu/knock-server/internal/registry"
	"github.com/ChuLiYu/knock-server/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

// ErrMissingWorkerID 輪詢時未提供設備 ID
var ErrMissingWorkerID = errors.New("missing worker id")

// Classify 將核心錯誤對應到邊界層的結果代碼
func Classify(err error) types.ResultCode {
	switch {
	case err == nil:
		return types.ResultOK
	case errors.Is(err, ErrMissingWorkerID):
		return types.ResultInvalid
	case errors.Is(err, jobqueue.ErrJobNotFound):
		return types.ResultNotFound
	default:
		return types.ResultInvalid
	}
}

// ============================================================================
// 協作者介面
// ============================================================================

// EventSink 接收給人看的事件訊息
type EventSink interface {
	Record(message string)
}

// Recorder 指標紀錄器，由 metrics.Collector 實作
type Recorder interface {
	RecordSubmit(targeted bool)
	RecordPoll(cmd types.Command)
	RecordCompleted(known bool, latencySeconds float64)
	UpdateQueueStats(stats types.QueueStats)
}

type nopSink struct{}

func (nopSink) Record(string) {}

type nopRecorder struct{}

func (nopRecorder) RecordSubmit(bool)                 {}
func (nopRecorder) RecordPoll(types.Command)          {}
func (nopRecorder) RecordCompleted(bool, float64)     {}
func (nopRecorder) UpdateQueueStats(types.QueueStats) {}

// ============================================================================
// 資料結構定義
// ============================================================================

// Dispatcher 派送核心
type Dispatcher struct {
	mu       sync.RWMutex
	registry *registry.Registry
	queue    *jobqueue.Queue
	events   EventSink
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option 派送核心選項
type Option func(*Dispatcher)

// WithLogger 設定 logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock 替換時鐘（測試用）
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithEvents 設定事件紀錄
func WithEvents(sink EventSink) Option {
	return func(d *Dispatcher) {
		if sink != nil {
			d.events = sink
		}
	}
}

// WithRecorder 設定指標紀錄器
func WithRecorder(rec Recorder) Option {
	return func(d *Dispatcher) {
		if rec != nil {
			d.recorder = rec
		}
	}
}

// New 建立派送核心
//
// 參數：
//   - reg: 設備登錄表
//   - queue: 任務佇列與歷史
func New(reg *registry.Registry, queue *jobqueue.Queue, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		queue:    queue,
		events:   nopSink{},
		recorder: nopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatch")
	return d
}

// ============================================================================
// 公開方法
// ============================================================================

// SubmitJob 提交一個敲擊任務；target 為空代表任何設備
func (d *Dispatcher) SubmitJob(ctx context.Context, target string) types.JobID {
	d.mu.Lock()
	id := d.queue.Submit(target, d.now())
	stats := d.queue.Stats()
	d.mu.Unlock()

	d.recorder.RecordSubmit(target != "")
	d.recorder.UpdateQueueStats(stats)

	if target != "" {
		d.events.Record("Admin queued FORCE knock for " + target)
	} else {
		d.events.Record("User queued knock (Job " + string(id) + ")")
	}
	d.logger.InfoContext(ctx, "Job queued", "jobID", id, "target", target)
	return id
}

// GetJobStatus 查詢任務狀態
//
// 返回值：
//   - types.JobStatus: 任務狀態；查無時為 unknown
//   - types.ResultCode: ResultOK 或 ResultNotFound
func (d *Dispatcher) GetJobStatus(ctx context.Context, id types.JobID) (types.JobStatus, types.ResultCode) {
	d.mu.RLock()
	job, ok := d.queue.Lookup(id)
	d.mu.RUnlock()

	if !ok {
		return types.UnknownStatus(), types.ResultNotFound
	}
	return types.StatusOf(job), types.ResultOK
}

// Poll 處理設備輪詢：更新心跳，並嘗試取走第一個可執行的任務
//
// 錯誤處理：
//   - ErrMissingWorkerID: 未提供設備 ID
func (d *Dispatcher) Poll(ctx context.Context, workerID string) (types.PollResponse, error) {
	if workerID == "" {
		return types.PollResponse{}, ErrMissingWorkerID
	}

	// 時鐘在鎖內讀取，同一設備的並發輪詢不會以較舊的時間覆寫心跳
	d.mu.Lock()
	now := d.now()
	created := d.registry.Heartbeat(workerID, now)
	job, claimed := d.queue.Claim(workerID, now)
	var stats types.QueueStats
	if claimed {
		stats = d.queue.Stats()
	}
	d.mu.Unlock()

	if created {
		d.events.Record("New Device Joined: " + workerID)
		d.logger.InfoContext(ctx, "New device joined", "workerID", workerID)
	}

	if !claimed {
		d.recorder.RecordPoll(types.CommandSleep)
		return types.PollResponse{Command: types.CommandSleep}, nil
	}

	d.recorder.RecordPoll(types.CommandKnock)
	d.recorder.UpdateQueueStats(stats)
	d.events.Record("Dispatching Job " + string(job.ID) + " to " + workerID)
	d.logger.InfoContext(ctx, "Job dispatched", "jobID", job.ID, "workerID", workerID, "targeted", job.Targeted())

	return types.PollResponse{Command: types.CommandKnock, JobID: job.ID}, nil
}

// ReportCompletion 處理完成回報，總是成功
//
// 行為：
//   - 未知任務：不做任何事（仍回報成功）
//   - 回報者覆寫原本記錄的分派設備
//   - 重複回報會再次累加設備計數（不去重）
//   - 未登錄的設備不計數
func (d *Dispatcher) ReportCompletion(ctx context.Context, id types.JobID, workerID string) {
	d.mu.Lock()
	now := d.now()
	before, known := d.queue.Lookup(id)
	if known {
		d.queue.MarkCompleted(id, workerID, now)
		d.registry.IncrementCompleted(workerID)
	}
	stats := d.queue.Stats()
	d.mu.Unlock()

	if !known {
		d.recorder.RecordCompleted(false, 0)
		d.logger.DebugContext(ctx, "Completion for unknown job ignored", "jobID", id, "workerID", workerID)
		return
	}

	d.recorder.RecordCompleted(true, now.Sub(before.CreatedAt).Seconds())
	d.recorder.UpdateQueueStats(stats)
	d.events.Record("Knock executed by " + workerID)

	if before.Worker != "" && before.Worker != workerID {
		d.logger.WarnContext(ctx, "Completion reported by a different worker than assigned",
			"jobID", id, "assigned", before.Worker, "reporter", workerID)
	}
	d.logger.InfoContext(ctx, "Job completed", "jobID", id, "workerID", workerID)
}

// RegistrySnapshot 所有設備的狀態快照
func (d *Dispatcher) RegistrySnapshot(ctx context.Context) []types.WorkerSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.registry.Snapshot(d.now())
}

// OnlineCount 在線設備數
func (d *Dispatcher) OnlineCount(ctx context.Context) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.registry.OnlineCount(d.now())
}

// Stats 佇列統計
func (d *Dispatcher) Stats() types.QueueStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.queue.Stats()
}

// PruneHistory 刪除完成超過 ttl 的任務紀錄；ttl <= 0 時不刪除
func (d *Dispatcher) PruneHistory(ctx context.Context, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}

	d.mu.Lock()
	removed := d.queue.Prune(d.now().Add(-ttl))
	d.mu.Unlock()

	if removed > 0 {
		d.logger.InfoContext(ctx, "Pruned completed jobs", "removed", removed, "ttl", ttl)
	}
	return removed
}

// SetLivenessThreshold 調整存活門檻
func (d *Dispatcher) SetLivenessThreshold(threshold time.Duration) {
	d.registry.SetThreshold(threshold)
}
