// Package cron provides the scheduled sweep that re-enqueues processes with
// outstanding steps. Advance jobs cover the normal path; the sweep is the
// safety net for work stranded by crashes or missed schedules.
package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// ErrInvalidCronSpec is returned when the cron specification cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// Sweeper scans for processes whose outstanding steps have not moved recently
// and schedules an advance for each.
type Sweeper struct {
	store     domain.ProcessRepository
	scheduler domain.AdvanceScheduler
	logger    *slog.Logger

	// staleAfter is the minimum age of an outstanding step before the sweep
	// picks its process up. It must exceed normal job latency or the sweep
	// would race freshly enqueued work.
	staleAfter time.Duration
	batchSize  int
}

// NewSweeper creates a sweeper over the given store and scheduler.
func NewSweeper(store domain.ProcessRepository, scheduler domain.AdvanceScheduler, staleAfter time.Duration, batchSize int, logger *slog.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		store:      store,
		scheduler:  scheduler,
		logger:     logger,
		staleAfter: staleAfter,
		batchSize:  batchSize,
	}
}

// Sweep runs one pass. Scheduling failures for individual processes are
// logged and skipped so one bad row cannot stall the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.staleAfter)

	ids, err := s.store.ListPendingProcesses(ctx, cutoff, s.batchSize)
	if err != nil {
		return err
	}

	scheduled := 0
	for _, id := range ids {
		if err := s.scheduler.ScheduleAdvance(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "sweep could not schedule advance",
				"process_id", id, "error", err)
			continue
		}
		scheduled++
	}

	if scheduled > 0 {
		s.logger.InfoContext(ctx, "sweep re-enqueued pending processes",
			"scheduled", scheduled, "candidates", len(ids))
	}

	return nil
}

// Trigger executes the sweeper according to a cron schedule. It is designed
// to be started once and run until the context is cancelled.
type Trigger struct {
	spec     string
	schedule cron.Schedule
	sweeper  *Sweeper
	logger   *slog.Logger
}

// NewTrigger creates a Trigger with the given cron specification. The spec
// follows standard cron format (5 fields: minute, hour, day, month, weekday).
// Returns ErrInvalidCronSpec if the specification cannot be parsed.
func NewTrigger(spec string, sweeper *Sweeper, logger *slog.Logger) (*Trigger, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}

	return &Trigger{
		spec:     spec,
		schedule: schedule,
		sweeper:  sweeper,
		logger:   logger,
	}, nil
}

// Start launches a goroutine that triggers sweeps according to the cron
// schedule. Returns immediately. The goroutine exits when ctx is cancelled.
func (t *Trigger) Start(ctx context.Context) {
	go t.loop(ctx)
}

// NextRun returns the next scheduled run time from now.
func (t *Trigger) NextRun() time.Time {
	return t.schedule.Next(time.Now())
}

func (t *Trigger) loop(ctx context.Context) {
	for {
		nextRun := t.schedule.Next(time.Now())
		waitDuration := time.Until(nextRun)

		t.logger.Debug("waiting for next sweep",
			"next_run", nextRun,
			"wait_duration", waitDuration,
		)

		select {
		case <-ctx.Done():
			t.logger.Info("sweep trigger shutting down")
			return
		case <-time.After(waitDuration):
			if err := t.sweeper.Sweep(ctx); err != nil {
				t.logger.Warn("sweep completed with error", "error", err)
			}
		}
	}
}
