/**
 * @description
 * Scheduled jobs for the deal-service and the cron scheduler that runs them.
 */
package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	backfiller *Backfiller
	chunkSize  int
	logger     *slog.Logger
}

func NewJobs(backfiller *Backfiller, chunkSize int, logger *slog.Logger) *Jobs {
	return &Jobs{backfiller: backfiller, chunkSize: chunkSize, logger: logger}
}

// BackfillManagers assigns managers to deals left unowned, for example after
// a pool was temporarily empty.
func (j *Jobs) BackfillManagers() {
	j.logger.Info("starting manager backfill job")

	result, err := j.backfiller.Backfill(context.Background(), BackfillOptions{ChunkSize: j.chunkSize})
	if err != nil {
		j.logger.Error("manager backfill job failed", "error", err)
		return
	}

	j.logger.Info("manager backfill job finished", "scanned", result.Scanned, "assigned", result.Assigned, "failed", result.Failed)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron             *cron.Cron
	jobs             *Jobs
	logger           *slog.Logger
	backfillSchedule string
}

func NewScheduler(jobs *Jobs, logger *slog.Logger, backfillSchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:             c,
		jobs:             jobs,
		logger:           logger,
		backfillSchedule: strings.TrimSpace(backfillSchedule),
	}
}

// Start registers the jobs and starts the cron scheduler. An empty schedule
// disables the backfill job.
func (s *Scheduler) Start() {
	if s.backfillSchedule == "" {
		s.logger.Info("manager backfill job disabled")
	} else if _, err := s.cron.AddFunc(s.backfillSchedule, s.jobs.BackfillManagers); err != nil {
		s.logger.Error("failed to schedule manager backfill job", "error", err)
	} else {
		s.logger.Info("scheduled manager backfill job", "schedule", s.backfillSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
