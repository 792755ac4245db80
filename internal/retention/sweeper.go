// Package retention runs the coordinator's periodic maintenance: pruning
// completed job history and refreshing the liveness / queue gauges.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ChuLiYu/knock-server/pkg/types"
)

// Target is the subset of the dispatcher the sweeper drives.
type Target interface {
	PruneHistory(ctx context.Context, ttl time.Duration) int
	OnlineCount(ctx context.Context) int
	Stats() types.QueueStats
}

// Gauges receives refreshed values; metrics.Collector satisfies it.
type Gauges interface {
	SetWorkersOnline(n int)
	UpdateQueueStats(stats types.QueueStats)
}

// Config controls the sweeper schedules.
type Config struct {
	HistoryTTL     time.Duration // 0 keeps history forever
	PruneSchedule  string        // cron spec, seconds field enabled
	GaugesSchedule string
}

// DefaultConfig prunes every minute and refreshes gauges every 5 seconds.
func DefaultConfig() Config {
	return Config{
		HistoryTTL:     24 * time.Hour,
		PruneSchedule:  "@every 1m",
		GaugesSchedule: "@every 5s",
	}
}

// Sweeper wraps a cron scheduler bound to one dispatcher.
type Sweeper struct {
	cron   *cron.Cron
	target Target
	gauges Gauges
	cfg    Config
	logger *slog.Logger
}

// New registers the maintenance jobs. gauges may be nil.
func New(target Target, gauges Gauges, cfg Config, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:   cron.New(cron.WithSeconds()),
		target: target,
		gauges: gauges,
		cfg:    cfg,
		logger: logger.With("component", "retention"),
	}

	if cfg.HistoryTTL > 0 && cfg.PruneSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.PruneSchedule, s.Prune); err != nil {
			return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSchedule, err)
		}
	}
	if gauges != nil && cfg.GaugesSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.GaugesSchedule, s.RefreshGauges); err != nil {
			return nil, fmt.Errorf("invalid gauges schedule %q: %w", cfg.GaugesSchedule, err)
		}
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Sweeper) Start() {
	s.logger.Info("Retention sweeper started",
		"history_ttl", s.cfg.HistoryTTL,
		"jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Retention sweeper stop timed out")
	}
}

// Prune removes completed jobs older than the TTL.
func (s *Sweeper) Prune() {
	removed := s.target.PruneHistory(context.Background(), s.cfg.HistoryTTL)
	s.logger.Debug("History sweep finished", "removed", removed)
}

// RefreshGauges pushes online-worker and queue counts to the gauges.
func (s *Sweeper) RefreshGauges() {
	if s.gauges == nil {
		return
	}
	s.gauges.SetWorkersOnline(s.target.OnlineCount(context.Background()))
	s.gauges.UpdateQueueStats(s.target.Stats())
}

// Entries reports how many jobs are scheduled.
func (s *Sweeper) Entries() int {
	return len(s.cron.Entries())
}
