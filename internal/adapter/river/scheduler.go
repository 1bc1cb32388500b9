package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// Compile-time check: Scheduler implements domain.AdvanceScheduler.
var _ domain.AdvanceScheduler = (*Scheduler)(nil)

// AdvanceArgs identifies the process whose worklist should be advanced.
// River serializes this as JSON into its job queue table.
type AdvanceArgs struct {
	ProcessID string `json:"process_id"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (AdvanceArgs) Kind() string { return "process.advance" }

// InsertOpts dedupes pending advances per process: scheduling the same
// process twice while a job is still queued or running coalesces into one.
func (AdvanceArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		UniqueOpts: river.UniqueOpts{ByArgs: true},
	}
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Scheduler implements domain.AdvanceScheduler by enqueuing River jobs.
type Scheduler struct {
	client *Client
}

// NewScheduler creates a scheduler backed by the given River client.
func NewScheduler(client *Client) *Scheduler {
	return &Scheduler{client: client}
}

// ScheduleAdvance enqueues an advance job for the process. Duplicate
// schedules are skipped by River's unique insert, not treated as errors.
func (s *Scheduler) ScheduleAdvance(ctx context.Context, processID string) error {
	_, err := s.client.Insert(ctx, AdvanceArgs{ProcessID: processID}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing advance job: %w", err)
	}
	return nil
}
