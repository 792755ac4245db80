// Package types 定義了 knock-server 系統中使用的核心領域模型
package types

import (
	"time"
)

// JobID 任務唯一識別碼（8 字元短 ID）
type JobID string

// JobState 任務狀態
type JobState string

// 定義任務狀態常數（只能向前轉換：queued → assigned → completed）
const (
	StateQueued    JobState = "queued"    // 已排隊：任務在 pending 佇列中等待設備輪詢
	StateAssigned  JobState = "assigned"  // 已分派：某台設備輪詢時取走了任務
	StateCompleted JobState = "completed" // 已完成：設備回報敲擊已執行
)

// StatusUnknown 查詢不存在的任務時回傳的狀態字串
const StatusUnknown = "unknown"

// Rank 回傳狀態在生命週期中的順序，用於檢查狀態不可倒退
func (s JobState) Rank() int {
	switch s {
	case StateQueued:
		return 1
	case StateAssigned:
		return 2
	case StateCompleted:
		return 3
	default:
		return 0
	}
}

// Job 任務結構，代表一次「敲擊」請求
type Job struct {
	// 識別與目標
	ID     JobID  `json:"id"`               // 任務唯一識別碼
	Target string `json:"target,omitempty"` // 指定設備；空字串代表任何設備皆可

	// 狀態追蹤
	State  JobState `json:"status"`           // 任務當前狀態
	Worker string   `json:"worker,omitempty"` // 取走或回報此任務的設備 ID

	// 時間戳
	CreatedAt   time.Time `json:"created_at"`
	AssignedAt  time.Time `json:"assigned_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Targeted 任務是否指定了特定設備
func (j Job) Targeted() bool {
	return j.Target != ""
}

// EligibleFor 判斷設備是否可以取走此任務
func (j Job) EligibleFor(workerID string) bool {
	return j.Target == "" || j.Target == workerID
}

// JobStatus 對外回報的任務狀態；Worker 為 nil 表示尚未分派
type JobStatus struct {
	State  string  `json:"status"`
	Worker *string `json:"worker"`
}

// UnknownStatus 不存在任務的查詢結果
func UnknownStatus() JobStatus {
	return JobStatus{State: StatusUnknown}
}

// StatusOf 由任務紀錄產生對外狀態
func StatusOf(job Job) JobStatus {
	st := JobStatus{State: string(job.State)}
	if job.Worker != "" {
		w := job.Worker
		st.Worker = &w
	}
	return st
}

// Command 輪詢回應中給設備的指令
type Command string

const (
	CommandKnock Command = "KNOCK"
	CommandSleep Command = "SLEEP"
)

// PollResponse 設備輪詢的回應
type PollResponse struct {
	Command Command `json:"command"`
	JobID   JobID   `json:"job_id,omitempty"`
}

// WorkerSnapshot 設備在某時間點的狀態（供儀表板使用）
type WorkerSnapshot struct {
	ID             string    `json:"id"`
	LastHeartbeat  time.Time `json:"last_seen"`
	SecondsAgo     int64     `json:"seconds_ago"`
	Online         bool      `json:"is_online"`
	CompletedCount int       `json:"knocks"`
}

// ResultCode 邊界層的結果分類
type ResultCode int

const (
	ResultOK       ResultCode = iota // 正常
	ResultNotFound                   // 查無此任務
	ResultInvalid                    // 請求不合法（例如缺少設備 ID）
)

func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "ok"
	case ResultNotFound:
		return "not_found"
	case ResultInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// QueueStats 各狀態任務數量
type QueueStats struct {
	Pending   int `json:"pending"`
	Assigned  int `json:"assigned"`
	Completed int `json:"completed"`
}

// Total 歷史中的任務總數
func (s QueueStats) Total() int {
	return s.Pending + s.Assigned + s.Completed
}
