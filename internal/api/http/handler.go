// internal/api/http/handler.go
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ChuLiYu/knock-server/internal/dispatch"
	"github.com/ChuLiYu/knock-server/internal/tracing"
	"github.com/ChuLiYu/knock-server/pkg/types"
)

// Dispatcher is the coordinator surface the HTTP layer needs.
type Dispatcher interface {
	SubmitJob(ctx context.Context, target string) types.JobID
	GetJobStatus(ctx context.Context, id types.JobID) (types.JobStatus, types.ResultCode)
	Poll(ctx context.Context, workerID string) (types.PollResponse, error)
	ReportCompletion(ctx context.Context, id types.JobID, workerID string)
	RegistrySnapshot(ctx context.Context) []types.WorkerSnapshot
	OnlineCount(ctx context.Context) int
	Stats() types.QueueStats
}

// EventLog exposes the dashboard messages, newest first.
type EventLog interface {
	Entries() []string
}

// RequestObserver counts HTTP requests; metrics.Collector satisfies it.
type RequestObserver interface {
	ObserveHTTP(path, method string, code int)
}

// Handler serves the device, user and admin endpoints.
type Handler struct {
	dispatcher Dispatcher
	events     EventLog
	observer   RequestObserver
	health     *HealthService
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewHandler wires the handler. events and observer may be nil.
func NewHandler(d Dispatcher, events EventLog, observer RequestObserver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dispatcher: d,
		events:     events,
		observer:   observer,
		health:     NewHealthService(d),
		logger:     logger.With("component", "http-api"),
		tracer:     tracing.Tracer("knock-server-api"),
	}
}

// confirmRequest is the body of POST /api/confirm-knock.
type confirmRequest struct {
	JobID    string `json:"job_id"`
	DeviceID string `json:"device_id"`
}

// summaryResponse replaces the landing page counter.
type summaryResponse struct {
	OnlineCount int              `json:"online_count"`
	Queue       types.QueueStats `json:"queue"`
}

// NewRouter builds a gin engine with recovery, instrumentation and all routes.
func (h *Handler) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.instrument())
	h.SetupRoutes(router)
	return router
}

// SetupRoutes registers the API routes.
func (h *Handler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api")

	// user / admin
	api.POST("/queue-knock", h.queueKnock)
	api.GET("/job-status/:id", h.jobStatus)

	// devices
	api.GET("/poll", h.poll)
	api.POST("/confirm-knock", h.confirmKnock)

	// dashboard
	api.GET("/devices", h.devices)
	api.GET("/logs", h.logs)
	api.GET("/summary", h.summary)
	api.GET("/health", h.healthCheck)
}

// instrument opens a span per request and counts it by route template.
func (h *Handler) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		ctx, span := h.tracer.Start(c.Request.Context(), "HTTP "+c.Request.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.target", c.Request.URL.Path),
		))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		if h.observer != nil {
			h.observer.ObserveHTTP(path, c.Request.Method, status)
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	}
}

// queueKnock handles POST /api/queue-knock?target=
func (h *Handler) queueKnock(c *gin.Context) {
	target := strings.TrimSpace(c.Query("target"))
	id := h.dispatcher.SubmitJob(c.Request.Context(), target)

	c.JSON(http.StatusOK, gin.H{
		"status": "queued",
		"job_id": id,
	})
}

// jobStatus handles GET /api/job-status/:id
func (h *Handler) jobStatus(c *gin.Context) {
	status, code := h.dispatcher.GetJobStatus(c.Request.Context(), types.JobID(c.Param("id")))
	if code != types.ResultOK {
		c.JSON(http.StatusOK, gin.H{"status": types.StatusUnknown})
		return
	}
	c.JSON(http.StatusOK, status)
}

// poll handles GET /api/poll?id=
func (h *Handler) poll(c *gin.Context) {
	resp, err := h.dispatcher.Poll(c.Request.Context(), c.Query("id"))
	if err != nil {
		if dispatch.Classify(err) == types.ResultInvalid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_id"})
			return
		}
		h.logger.Error("Poll failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// confirmKnock handles POST /api/confirm-knock. Always answers ok.
func (h *Handler) confirmKnock(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Malformed completion report", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	h.dispatcher.ReportCompletion(c.Request.Context(), types.JobID(req.JobID), req.DeviceID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// devices handles GET /api/devices
func (h *Handler) devices(c *gin.Context) {
	snapshot := h.dispatcher.RegistrySnapshot(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"count":   len(snapshot),
		"devices": snapshot,
	})
}

// logs handles GET /api/logs
func (h *Handler) logs(c *gin.Context) {
	entries := []string{}
	if h.events != nil {
		entries = h.events.Entries()
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}

// summary handles GET /api/summary
func (h *Handler) summary(c *gin.Context) {
	c.JSON(http.StatusOK, summaryResponse{
		OnlineCount: h.dispatcher.OnlineCount(c.Request.Context()),
		Queue:       h.dispatcher.Stats(),
	})
}

// healthCheck handles GET /api/health
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.Check(c.Request.Context()))
}
