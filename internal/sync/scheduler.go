package sync

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/config"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/logger"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/upstream"
)

// Scheduler runs the defensive periodic pass: drain the queue in case a
// reconnect event was missed, and refresh whatever snapshots have gone stale.
type Scheduler struct {
	cfg        config.SchedulerConfig
	manager    *Manager
	prefetcher *Prefetcher
	scope      upstream.Scope
	cron       *cron.Cron
	entryID    cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, manager *Manager, prefetcher *Prefetcher, scope upstream.Scope) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		manager:    manager,
		prefetcher: prefetcher,
		scope:      scope,
		cron:       cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.tick()
	})
	if err != nil {
		logger.Log.Error("Failed to schedule sync job", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	result := s.manager.Drain(ctx)
	if result.Skipped {
		logger.Log.Debug("Scheduled drain skipped")
	}

	// Non-forced: only collections past their TTL hit the network.
	s.prefetcher.Refresh(ctx, PrefetchOptions{Scope: s.scope})
}
