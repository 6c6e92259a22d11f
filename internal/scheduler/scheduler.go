// Package scheduler runs the service's housekeeping: startup recovery of
// unscored submissions and periodic reaping of stale run workspaces.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/hackscore/internal/config"
	"github.com/mattjoyce/hackscore/internal/events"
)

// Scheduler drives housekeeping on a fixed interval.
type Scheduler struct {
	cfg       *config.Config
	recoverer Recoverer
	reaper    WorkspaceReaper
	events    events.Publisher
	logger    *slog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a new Scheduler instance. recoverer may be nil when startup
// recovery is disabled; hub may be nil.
func New(cfg *config.Config, recoverer Recoverer, reaper WorkspaceReaper, hub events.Publisher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		recoverer: recoverer,
		reaper:    reaper,
		events:    hub,
		logger:    logger.With("component", "scheduler"),
		stopCh:    make(chan struct{}),
	}
}

// Start performs startup recovery and begins the housekeeping loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "interval", s.cfg.Service.HousekeepingInterval)

	if s.cfg.Scoring.RecoverUnscored {
		if err := s.recoverUnscored(ctx); err != nil {
			return fmt.Errorf("scheduler startup recovery failed: %w", err)
		}
	}

	s.wg.Add(1)
	go s.tickLoop(ctx)
	return nil
}

// Stop gracefully stops the scheduler. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping scheduler")
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx)

	interval := s.cfg.Service.HousekeepingInterval
	if interval <= 0 {
		interval = config.Defaults().Service.HousekeepingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Debug("Scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick performs a single housekeeping pass.
func (s *Scheduler) tick(ctx context.Context) {
	s.logger.Debug("Scheduler tick")
	s.publish(events.SchedulerTick, map[string]any{"at": time.Now().UTC()})

	retention := s.cfg.State.WorkspaceRetention
	if retention <= 0 || s.reaper == nil {
		return
	}

	report, err := s.reaper.Cleanup(ctx, retention)
	if err != nil {
		s.logger.Error("Failed to reap run workspaces", "error", err)
		return
	}
	if report.DeletedDirs > 0 {
		s.logger.Info("Reaped stale run workspaces", "deleted", report.DeletedDirs, "retention", retention)
		s.publish(events.WorkspacesReaped, map[string]any{"deleted": report.DeletedDirs})
	}
}

// recoverUnscored re-enqueues work lost by a restart.
func (s *Scheduler) recoverUnscored(ctx context.Context) error {
	if s.recoverer == nil {
		return nil
	}
	s.logger.Info("Recovering unscored submissions")

	n, err := s.recoverer.RecoverUnscored(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover unscored submissions: %w", err)
	}
	if n == 0 {
		s.logger.Info("No unscored submissions found")
		return nil
	}
	s.logger.Warn("Re-enqueued unscored submissions", "count", n)
	s.publish(events.SubmissionsRecovered, map[string]any{"count": n})
	return nil
}

func (s *Scheduler) publish(eventType string, data any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}
