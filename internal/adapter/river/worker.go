package river

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/onboardiq/internal/app"
	"github.com/neomorfeo/onboardiq/internal/domain"
)

// AdvanceWorker processes advance jobs by handing them to the process runner.
type AdvanceWorker struct {
	river.WorkerDefaults[AdvanceArgs]

	runner *app.Runner
	logger *slog.Logger
}

// NewAdvanceWorker creates a worker wrapping the given runner.
func NewAdvanceWorker(runner *app.Runner, logger *slog.Logger) *AdvanceWorker {
	return &AdvanceWorker{runner: runner, logger: logger}
}

// Work runs one advance pass over the process. Transient errors are returned
// so River retries with backoff. A missing process or a broken invariant
// cancels the job: retrying cannot help either.
func (w *AdvanceWorker) Work(ctx context.Context, job *river.Job[AdvanceArgs]) error {
	err := w.runner.Advance(ctx, job.Args.ProcessID)
	if err == nil {
		return nil
	}

	if domain.IsNotFound(err) || domain.IsFatal(err) {
		w.logger.ErrorContext(ctx, "cancelling advance job",
			"process_id", job.Args.ProcessID,
			"job_id", job.ID,
			"attempt", job.Attempt,
			"error", err,
		)
		return river.JobCancel(err)
	}

	w.logger.WarnContext(ctx, "advance failed, will retry",
		"process_id", job.Args.ProcessID,
		"job_id", job.ID,
		"attempt", job.Attempt,
		"error", err,
	)
	return err
}
