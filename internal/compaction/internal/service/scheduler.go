package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler compacts the archive once per interval. With the default hourly
// interval each run picks up the partition that went cold at the top of the
// previous hour.
type Scheduler struct {
	svc      *CompactionService
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	runs   int
}

// NewScheduler creates a Scheduler over svc. A non-positive interval means
// hourly.
func NewScheduler(svc *CompactionService, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		svc:      svc,
		interval: interval,
		logger:   logger.With("component", "compaction-scheduler"),
	}
}

// Start schedules the first archive pass one interval from now. It is a
// no-op while a schedule is already active.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(runCtx)

	s.logger.Info("archive compaction scheduled", "interval", s.interval)
}

// Stop cancels the schedule. A pass in progress stops at its next partition
// or storage call, and Stop returns once it has ended. Originals are only
// deleted after their merged file is uploaded, so an interrupted pass loses
// no rows.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	s.logger.Info("archive compaction unscheduled", "passes", s.Runs())
}

// Runs returns how many scheduled passes have completed or failed.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.svc.CompactAll(ctx)

			s.mu.Lock()
			s.runs++
			s.mu.Unlock()

			switch {
			case err == nil:
			case ctx.Err() != nil:
				s.logger.Info("archive pass interrupted by shutdown")
				return
			default:
				s.logger.Error("archive pass failed", "error", err)
			}
		}
	}
}
