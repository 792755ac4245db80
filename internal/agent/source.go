// ============================================================================
// Knock-Server Agent - 設備端任務來源介面
// ============================================================================
//
// Package: internal/agent
// 文件: source.go
// 功能: 將模擬設備與協調器之間的傳輸方式抽象化
//
//   - HTTPSource: 對 gin API 進行輪詢 (GET /api/poll, POST /api/confirm-knock)
//   - GrpcSource: 透過 knock.v1.Dispatch 服務
//
// ============================================================================

package agent

import (
	"context"

	"github.com/ChuLiYu/knock-server/pkg/types"
)

// JobSource 設備端的協調器連線
type JobSource interface {
	// Poll 回報心跳並詢問是否有任務；沒有任務時回傳 SLEEP
	Poll(ctx context.Context, deviceID string) (types.PollResponse, error)

	// Confirm 回報已執行完敲擊
	Confirm(ctx context.Context, jobID types.JobID, deviceID string) error
}
