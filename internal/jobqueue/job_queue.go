// ============================================================================
// Knock-Server 任務佇列與歷史 - 任務狀態機實現
// ============================================================================
//
// Package: internal/jobqueue
// 文件: job_queue.go
// 功能: 管理敲擊任務的 pending 佇列與完整生命週期紀錄
//
// 設計理念:
//   1. history map - 所有任務的統一存儲 (Single Source of Truth)
//   2. pending []JobID - 尚未被取走的任務，保證 FIFO
//   3. counts - 各狀態計數，每次狀態轉換時更新，Stats() 為 O(1)
//   三者共用同一把鎖，佇列中的每個 ID 在 history 裡都是 queued 狀態
//
// 任務狀態轉換 (State Machine):
//   Queued (已排隊)
//      ↓ TryClaim() + MarkAssigned()   （或一次完成的 Claim()）
//   Assigned (已分派)
//      ↓ MarkCompleted()
//   Completed (已完成)
//
// 狀態轉換規則:
//   - 只能向前，Completed 之後不再變化
//   - 沒有取消、沒有逾時重新排隊（設備取走後當機，任務就永遠停在 Assigned）
//   - MarkCompleted 以回報者為準，覆寫 Worker 欄位
//
// 選取策略 (First-Match FIFO):
//   從佇列頭掃到尾，第一個「未指定設備」或「指定的就是此設備」的任務被取走，
//   其餘任務保持原本的相對順序。O(n) 掃描，佇列深度預期很小。
//
// 並發安全:
//   - sync.RWMutex 保護 history 與 pending
//   - TryClaim 的掃描與移除在同一個臨界區內，同一個任務只會被取走一次
//
// ============================================================================

package jobqueue

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/knock-server/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 任務不存在
	ErrJobNotFound = errors.New("job not found")
	// 任務不在 queued 狀態
	ErrNotQueued = errors.New("job not in queued state")
)

// IDLength 任務 ID 長度（取 UUID 的前 8 個字元）
const IDLength = 8

// IDGenerator 產生任務 ID
type IDGenerator func() types.JobID

// NewShortID 取隨機 UUID 的前 8 個十六進位字元
func NewShortID() types.JobID {
	return types.JobID(strings.ReplaceAll(uuid.NewString(), "-", "")[:IDLength])
}

// Queue 任務佇列與歷史
type Queue struct {
	mu      sync.RWMutex
	history map[types.JobID]*types.Job // 所有任務，永不因狀態轉換而刪除
	pending []types.JobID              // 待取走佇列（FIFO）
	counts  types.QueueStats           // 各狀態計數，隨狀態轉換維護，Stats() 不掃描 history
	newID   IDGenerator
}

// Option 佇列選項
type Option func(*Queue)

// WithIDGenerator 替換任務 ID 產生器（測試用）
func WithIDGenerator(gen IDGenerator) Option {
	return func(q *Queue) {
		if gen != nil {
			q.newID = gen
		}
	}
}

// New 建立新的任務佇列
func New(opts ...Option) *Queue {
	q := &Queue{
		history: make(map[types.JobID]*types.Job),
		pending: make([]types.JobID, 0),
		newID:   NewShortID,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit 建立新任務並加入佇列尾端，總是成功
//
// 參數：
//   - target: 指定設備 ID；空字串代表任何設備
//   - now: 建立時間
//
// 返回值：
//   - types.JobID: 新任務 ID
func (q *Queue) Submit(target string, now time.Time) types.JobID {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.newID()
	// 碰撞機率極低，但 ID 必須唯一
	for {
		if _, exists := q.history[id]; !exists {
			break
		}
		id = q.newID()
	}

	q.history[id] = &types.Job{
		ID:        id,
		Target:    target,
		State:     types.StateQueued,
		CreatedAt: now,
	}
	q.pending = append(q.pending, id)
	q.counts.Pending++
	return id
}

// Lookup 查詢任務紀錄，回傳複本
func (q *Queue) Lookup(id types.JobID) (types.Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.history[id]
	if !ok {
		return types.Job{}, false
	}
	return *job, true
}

// TryClaim 取走佇列中第一個此設備可以執行的任務
//
// 注意：只從佇列移除，狀態仍為 queued，需接著呼叫 MarkAssigned。
// 需要兩者原子完成時請使用 Claim。
func (q *Queue) TryClaim(workerID string) (types.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.claimLocked(workerID)
	if job == nil {
		return types.Job{}, false
	}
	return *job, true
}

// MarkAssigned 將任務標記為已分派
//
// 錯誤處理：
//   - ErrJobNotFound: 任務不存在
//   - ErrNotQueued: 任務已分派或已完成（狀態不可倒退）
func (q *Queue) MarkAssigned(id types.JobID, workerID string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.history[id]
	if !ok {
		return ErrJobNotFound
	}
	return q.assignLocked(job, workerID, now)
}

// Claim 在同一個臨界區內完成 TryClaim + MarkAssigned
func (q *Queue) Claim(workerID string, now time.Time) (types.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.claimLocked(workerID)
	if job == nil {
		return types.Job{}, false
	}
	// claimLocked 只會回傳 queued 的任務，這裡不會失敗
	_ = q.assignLocked(job, workerID, now)
	return *job, true
}

// MarkCompleted 將任務標記為已完成，並以回報者覆寫 Worker
//
// 返回值：
//   - bool: 任務是否存在；不存在時不做任何事
func (q *Queue) MarkCompleted(id types.JobID, workerID string, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.history[id]
	if !ok {
		return false
	}

	// 尚在佇列中的任務被直接回報完成：移出佇列，避免之後被取走而倒退回 assigned
	switch job.State {
	case types.StateQueued:
		q.removePendingLocked(id)
		q.counts.Pending--
		q.counts.Completed++
	case types.StateAssigned:
		q.counts.Assigned--
		q.counts.Completed++
	}

	job.State = types.StateCompleted
	job.Worker = workerID
	job.CompletedAt = now
	return true
}

// Prune 刪除在 before 之前完成的任務紀錄，回傳刪除數量
func (q *Queue) Prune(before time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, job := range q.history {
		if job.State == types.StateCompleted && job.CompletedAt.Before(before) {
			delete(q.history, id)
			removed++
		}
	}
	q.counts.Completed -= removed
	return removed
}

// Pending 回傳佇列中任務的複本（依 FIFO 順序）
func (q *Queue) Pending() []types.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]types.Job, 0, len(q.pending))
	for _, id := range q.pending {
		out = append(out, *q.history[id])
	}
	return out
}

// Stats 各狀態任務數量，O(1)
func (q *Queue) Stats() types.QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.counts
}

// ============================================================================
// 內部方法（呼叫端須持有寫鎖）
// ============================================================================

func (q *Queue) claimLocked(workerID string) *types.Job {
	for i, id := range q.pending {
		job := q.history[id]
		if !job.EligibleFor(workerID) {
			continue
		}
		q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
		return job
	}
	return nil
}

func (q *Queue) removePendingLocked(id types.JobID) {
	for i, pid := range q.pending {
		if pid == id {
			q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) assignLocked(job *types.Job, workerID string, now time.Time) error {
	if job.State != types.StateQueued {
		return ErrNotQueued
	}
	q.counts.Pending--
	q.counts.Assigned++
	job.State = types.StateAssigned
	job.Worker = workerID
	job.AssignedAt = now
	return nil
}
