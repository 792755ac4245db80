// ============================================================================
// Knock-Server 設備登錄表 - 心跳與存活狀態
// ============================================================================
//
// Package: internal/registry
// 文件: registry.go
// 功能: 記錄每台設備最後一次心跳時間與已完成敲擊次數
//
// 存活判定:
//   online = (now - last_heartbeat) < threshold
//   - 預設門檻 10 秒
//   - 剛好等於門檻時視為離線
//   - 只用於顯示，不會觸發任何重新排隊或驅逐
//
// 生命週期:
//   - 第一次輪詢即建立（completed_count = 0）
//   - 永不刪除
//   - 每次輪詢更新 last_heartbeat，每次完成回報累加計數
//
// 並發安全:
//   - sync.RWMutex，寫操作 Lock，Snapshot/OnlineCount 使用 RLock
//   - Snapshot 回傳複本，不會出現單筆資料的撕裂讀取
//
// ============================================================================

package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/knock-server/pkg/types"
)

// DefaultLivenessThreshold 超過此時間未心跳即視為離線
const DefaultLivenessThreshold = 10 * time.Second

// worker 登錄表內部紀錄
type worker struct {
	lastHeartbeat  time.Time
	completedCount int
}

// Registry 設備登錄表
type Registry struct {
	mu        sync.RWMutex
	workers   map[string]*worker
	threshold time.Duration
}

// New 建立設備登錄表；threshold <= 0 時使用預設值
func New(threshold time.Duration) *Registry {
	if threshold <= 0 {
		threshold = DefaultLivenessThreshold
	}
	return &Registry{
		workers:   make(map[string]*worker),
		threshold: threshold,
	}
}

// Heartbeat 冪等 upsert：未見過的設備會被建立，並總是更新 last_heartbeat
//
// 返回值：
//   - bool: 是否為第一次看到此設備（用於發出「新設備加入」事件）
func (r *Registry) Heartbeat(workerID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.workers[workerID]
	if !exists {
		w = &worker{}
		r.workers[workerID] = w
	}
	w.lastHeartbeat = now
	return !exists
}

// IncrementCompleted 累加設備完成次數；未知設備直接忽略
func (r *Registry) IncrementCompleted(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[workerID]; ok {
		w.completedCount++
	}
}

// Known 設備是否已登錄
func (r *Registry) Known(workerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.workers[workerID]
	return ok
}

// Snapshot 產生所有設備的狀態快照，依 ID 排序
func (r *Registry) Snapshot(now time.Time) []types.WorkerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.WorkerSnapshot, 0, len(r.workers))
	for id, w := range r.workers {
		age := now.Sub(w.lastHeartbeat)
		out = append(out, types.WorkerSnapshot{
			ID:             id,
			LastHeartbeat:  w.lastHeartbeat,
			SecondsAgo:     int64(age / time.Second),
			Online:         r.online(age),
			CompletedCount: w.completedCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnlineCount 目前在線設備數量
func (r *Registry) OnlineCount(now time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, w := range r.workers {
		if r.online(now.Sub(w.lastHeartbeat)) {
			count++
		}
	}
	return count
}

// Len 已登錄設備總數
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Threshold 目前的存活門檻
func (r *Registry) Threshold() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.threshold
}

// SetThreshold 調整存活門檻（設定熱更新時使用）；非正值忽略
func (r *Registry) SetThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.threshold = d
	r.mu.Unlock()
}

// online 呼叫端須持有鎖
func (r *Registry) online(age time.Duration) bool {
	return age < r.threshold
}
