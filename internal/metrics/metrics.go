// ============================================================================
// Knock-Server Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露派送核心的運行指標
//
// 指標分類:
//
//   1. 計數器 (Counter)：
//      - knock_jobs_submitted_total{targeted}: 提交任務總數
//      - knock_jobs_dispatched_total: 分派給設備的任務總數
//      - knock_jobs_completed_total{known}: 完成回報總數（含未知任務 ID）
//      - knock_polls_total{command}: 設備輪詢次數，依回應指令分類
//      - knock_http_requests_total{path,method,code}: HTTP 請求總數
//
//   2. 分佈 (Histogram)：
//      - knock_job_latency_seconds: 提交到完成回報的時間
//        設備輪詢間隔通常是數秒，桶從 0.5s 開始
//
//   3. 狀態 (Gauge)：
//      - knock_jobs_pending / knock_jobs_assigned: 目前佇列狀態
//      - knock_workers_online: 目前在線設備數
//
// Prometheus 查詢示例:
//
//   # 每分鐘派送數
//   rate(knock_jobs_dispatched_total[1m])
//
//   # 取走後遲遲沒回報的任務（卡在 assigned）
//   knock_jobs_assigned
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/knock-server/pkg/types"
)

// Collector Prometheus 指標收集器
type Collector struct {
	// 任務相關指標
	jobsSubmitted  *prometheus.CounterVec
	jobsDispatched prometheus.Counter
	jobsCompleted  *prometheus.CounterVec
	polls          *prometheus.CounterVec

	// 效能指標
	jobLatency prometheus.Histogram

	// 狀態指標
	jobsPending   prometheus.Gauge
	jobsAssigned  prometheus.Gauge
	workersOnline prometheus.Gauge

	// 傳輸層
	httpRequests *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewCollector 創建指標收集器並註冊到 reg；reg 為 nil 時使用預設 registry
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "knock_jobs_submitted_total",
			Help: "Total number of knock jobs submitted",
		}, []string{"targeted"}),
		jobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "knock_jobs_dispatched_total",
			Help: "Total number of jobs handed to polling devices",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "knock_jobs_completed_total",
			Help: "Total number of completion reports",
		}, []string{"known"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "knock_polls_total",
			Help: "Total number of device polls by returned command",
		}, []string{"command"}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "knock_job_latency_seconds",
			Help:    "Time from submission to completion report in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "knock_jobs_pending",
			Help: "Current number of queued jobs",
		}),
		jobsAssigned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "knock_jobs_assigned",
			Help: "Current number of assigned, unreported jobs",
		}),
		workersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "knock_workers_online",
			Help: "Current number of devices within the liveness threshold",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "knock_http_requests_total",
			Help: "Total number of http requests handled by the coordinator",
		}, []string{"path", "method", "code"}),
		gatherer: prometheus.DefaultGatherer,
	}

	reg.MustRegister(
		c.jobsSubmitted,
		c.jobsDispatched,
		c.jobsCompleted,
		c.polls,
		c.jobLatency,
		c.jobsPending,
		c.jobsAssigned,
		c.workersOnline,
		c.httpRequests,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c
}

// RecordSubmit 記錄任務提交
func (c *Collector) RecordSubmit(targeted bool) {
	c.jobsSubmitted.WithLabelValues(strconv.FormatBool(targeted)).Inc()
}

// RecordPoll 記錄設備輪詢；KNOCK 同時計為一次派送
func (c *Collector) RecordPoll(cmd types.Command) {
	c.polls.WithLabelValues(string(cmd)).Inc()
	if cmd == types.CommandKnock {
		c.jobsDispatched.Inc()
	}
}

// RecordCompleted 記錄完成回報；只有已知任務才有延遲
func (c *Collector) RecordCompleted(known bool, latencySeconds float64) {
	c.jobsCompleted.WithLabelValues(strconv.FormatBool(known)).Inc()
	if known {
		c.jobLatency.Observe(latencySeconds)
	}
}

// UpdateQueueStats 更新佇列狀態統計
func (c *Collector) UpdateQueueStats(stats types.QueueStats) {
	c.jobsPending.Set(float64(stats.Pending))
	c.jobsAssigned.Set(float64(stats.Assigned))
}

// SetWorkersOnline 更新在線設備數
func (c *Collector) SetWorkersOnline(n int) {
	c.workersOnline.Set(float64(n))
}

// ObserveHTTP 記錄一次 HTTP 請求
func (c *Collector) ObserveHTTP(path, method string, code int) {
	c.httpRequests.WithLabelValues(path, method, strconv.Itoa(code)).Inc()
}

// HTTPRequests exposes the request counter vector for inspection.
func (c *Collector) HTTPRequests() *prometheus.CounterVec {
	return c.httpRequests
}

// Handler 回傳此收集器所屬 registry 的 /metrics handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// StartServer 啟動獨立的 Prometheus metrics HTTP 伺服器，ctx 取消時關閉
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
