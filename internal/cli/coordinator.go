package cli

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	httpapi "github.com/ChuLiYu/knock-server/internal/api/http"
	"github.com/ChuLiYu/knock-server/internal/config"
	"github.com/ChuLiYu/knock-server/internal/dispatch"
	"github.com/ChuLiYu/knock-server/internal/eventlog"
	"github.com/ChuLiYu/knock-server/internal/jobqueue"
	"github.com/ChuLiYu/knock-server/internal/metrics"
	"github.com/ChuLiYu/knock-server/internal/registry"
	"github.com/ChuLiYu/knock-server/internal/retention"
	"github.com/ChuLiYu/knock-server/internal/server"
)

// Coordinator bundles one in-memory coordinator and its boundaries.
type Coordinator struct {
	Events     *eventlog.Log
	Registry   *registry.Registry
	Queue      *jobqueue.Queue
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Collector

	cfg    *config.Config
	logger *slog.Logger
}

// NewCoordinator wires the core from cfg. reg nil means the default prometheus registerer.
func NewCoordinator(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	events := eventlog.New(cfg.Dispatch.EventLogSize)
	collector := metrics.NewCollector(reg)
	workers := registry.New(cfg.Dispatch.LivenessThreshold)
	queue := jobqueue.New()

	d := dispatch.New(workers, queue,
		dispatch.WithLogger(logger),
		dispatch.WithEvents(events),
		dispatch.WithRecorder(collector),
	)

	return &Coordinator{
		Events:     events,
		Registry:   workers,
		Queue:      queue,
		Dispatcher: d,
		Metrics:    collector,
		cfg:        cfg,
		logger:     logger,
	}
}

// Router returns the gin engine serving the HTTP API.
func (c *Coordinator) Router() *gin.Engine {
	return httpapi.NewHandler(c.Dispatcher, c.Events, c.Metrics, c.logger).NewRouter()
}

// GRPC returns the knock.v1.Dispatch service.
func (c *Coordinator) GRPC() *server.Server {
	return server.NewServer(c.Dispatcher, c.logger)
}

// Sweeper returns the retention sweeper configured from the dispatch section.
func (c *Coordinator) Sweeper() (*retention.Sweeper, error) {
	rc := retention.DefaultConfig()
	rc.HistoryTTL = c.cfg.Dispatch.HistoryTTL
	rc.PruneSchedule = c.cfg.Dispatch.SweepSchedule
	return retention.New(c.Dispatcher, c.Metrics, rc, c.logger)
}

// Apply pushes hot-reloadable settings into the running core.
func (c *Coordinator) Apply(cfg *config.Config) {
	c.Dispatcher.SetLivenessThreshold(cfg.Dispatch.LivenessThreshold)
}
