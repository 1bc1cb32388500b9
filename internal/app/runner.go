package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// StepOutcomeProjector is notified of step outcomes inside the same
// transaction that persists them. The checklist service implements it to keep
// entries in lockstep with their implementing steps.
type StepOutcomeProjector interface {
	ProjectStepOutcome(ctx context.Context, tx domain.Store, processID string, step domain.StepType, status domain.StepStatus, message string) error
}

// Runner advances processes by dispatching outstanding steps to the executor
// registered for their process type. One Advance call drives a single process
// until no executable TODO step remains; cross-process ordering is not a
// concern of the runner.
type Runner struct {
	store     domain.Store
	locker    domain.Locker
	projector StepOutcomeProjector
	publisher domain.EventPublisher
	logger    *slog.Logger
	executors map[domain.ProcessType]domain.Executor
}

// NewRunner creates a runner with no executors registered.
func NewRunner(store domain.Store, locker domain.Locker, projector StepOutcomeProjector, publisher domain.EventPublisher, logger *slog.Logger) *Runner {
	return &Runner{
		store:     store,
		locker:    locker,
		projector: projector,
		publisher: publisher,
		logger:    logger,
		executors: make(map[domain.ProcessType]domain.Executor),
	}
}

// Register adds an executor for its process type. Registering two executors
// for the same type is a configuration error.
func (r *Runner) Register(executor domain.Executor) error {
	typ := executor.ProcessType()
	if _, exists := r.executors[typ]; exists {
		return fmt.Errorf("executor for process type %s already registered", typ)
	}
	r.executors[typ] = executor
	return nil
}

// errLockBusy signals that an advisory lock could not be acquired; the step
// stays TODO and is retried on a later advancement, which is not a failure.
var errLockBusy = errors.New("advisory lock busy")

// staleClaimAfter is how long a step may sit IN_PROGRESS before a later
// advancement treats the claim as abandoned (worker crash) and reclaims it.
const staleClaimAfter = 5 * time.Minute

// Advance runs every executable TODO step of the process, persisting each
// outcome in its own transaction before the next step is dispatched. A
// process whose type has no registered executor is a fatal configuration
// error, not a per-process failure.
func (r *Runner) Advance(ctx context.Context, processID string) error {
	process, err := r.store.GetProcess(ctx, processID)
	if err != nil {
		return err
	}

	executor, ok := r.executors[process.Type]
	if !ok {
		return domain.Fatal(fmt.Errorf("no executor registered for process type %s", process.Type))
	}

	if err := r.initialize(ctx, executor, process); err != nil {
		return err
	}

	for {
		steps, err := r.store.GetSteps(ctx, processID)
		if err != nil {
			return err
		}

		step, ok := nextRunnable(steps, executor)
		if !ok {
			return nil
		}

		busy, err := r.runStep(ctx, executor, process, step, steps)
		if err != nil {
			return err
		}
		if busy {
			// Lock not acquired; leave the remaining TODO steps for a later
			// advancement rather than spinning.
			return nil
		}
	}
}

func (r *Runner) initialize(ctx context.Context, executor domain.Executor, process domain.Process) error {
	steps, err := r.store.GetSteps(ctx, process.ID)
	if err != nil {
		return err
	}

	result, err := executor.InitializeProcess(ctx, process.ID, domain.StepTypes(steps))
	if err != nil {
		return fmt.Errorf("initializing process %s: %w", process.ID, err)
	}
	if len(result.ScheduleStepTypes) == 0 {
		return nil
	}

	return r.store.InTx(ctx, func(tx domain.Store) error {
		return createMissingSteps(ctx, tx, process.ID, nil, result.ScheduleStepTypes)
	})
}

// nextRunnable returns the first step the executor can run: any TODO step,
// or an IN_PROGRESS step whose claim has gone stale. Manual retrigger steps
// are never in an executor's executable set, so they wait for the manual
// context.
func nextRunnable(steps []domain.ProcessStep, executor domain.Executor) (domain.ProcessStep, bool) {
	now := time.Now().UTC()
	for _, s := range steps {
		if !executor.IsExecutableStepType(s.Type) {
			continue
		}
		if s.Status == domain.StepStatusTodo {
			return s, true
		}
		if s.Status == domain.StepStatusInProgress && now.Sub(s.UpdatedAt) >= staleClaimAfter {
			return s, true
		}
	}
	return domain.ProcessStep{}, false
}

// runStep claims, executes and finalizes one step. The returned bool reports
// that a required advisory lock was busy and the step was released unclaimed.
func (r *Runner) runStep(ctx context.Context, executor domain.Executor, process domain.Process, step domain.ProcessStep, steps []domain.ProcessStep) (bool, error) {
	// Claim via compare-and-swap so a concurrent advancement of the same
	// process backs off instead of double-executing.
	step.Status = domain.StepStatusInProgress
	if err := r.store.UpdateStep(ctx, step); err != nil {
		if domain.IsVersionConflict(err) {
			r.logger.Info("step claimed elsewhere, backing off",
				"process_id", process.ID, "step_type", step.Type)
			return false, nil
		}
		return false, err
	}
	step.Version++

	result, execErr := r.execute(ctx, executor, process, step, domain.StepTypes(steps))

	switch {
	case execErr == nil:
		// Outcome returned by the executor.
	case errors.Is(execErr, errLockBusy):
		return true, r.release(ctx, step)
	case ctx.Err() != nil || errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded):
		// Cancellation leaves the step TODO so it is retried, not failed.
		if err := r.release(ctx, step); err != nil {
			return false, err
		}
		return false, execErr
	case domain.IsFatal(execErr):
		if err := r.release(ctx, step); err != nil {
			return false, err
		}
		return false, execErr
	default:
		// Transient fault: record the failure and hand the process to the
		// retrigger path instead of throwing back to any caller.
		result = domain.StepExecutionResult{
			Status:  domain.StepStatusFailed,
			Message: execErr.Error(),
		}
		if retrigger, ok := domain.RetriggerFor(step.Type); ok {
			result.NextStepTypes = []domain.StepType{retrigger}
		}
	}

	if result.Status == "" {
		result.Status = domain.StepStatusDone
	}

	if err := r.finalize(ctx, process, step, result); err != nil {
		// Best effort: hand the claim back so the step is retried instead of
		// sitting IN_PROGRESS until the stale-claim sweep.
		if relErr := r.release(ctx, step); relErr != nil {
			r.logger.Warn("releasing claim after failed finalize",
				"process_id", process.ID, "step_type", step.Type, "error", relErr)
		}
		return false, err
	}

	if err := r.publisher.Publish(ctx, domain.PortalEvent{
		Kind:       domain.EventStepFinished,
		ProcessID:  process.ID,
		StepType:   string(step.Type),
		Status:     string(result.Status),
		Message:    result.Message,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		// The outcome is already durable; a lost notification must not fail
		// the advancement.
		r.logger.Warn("publishing step event failed",
			"process_id", process.ID, "step_type", step.Type, "error", err)
	}

	return false, nil
}

// execute calls the executor, acquiring the advisory lock first when the step
// type requires one. The lock is held only for the duration of the call and
// released on every path.
func (r *Runner) execute(ctx context.Context, executor domain.Executor, process domain.Process, step domain.ProcessStep, stepTypes []domain.StepType) (domain.StepExecutionResult, error) {
	if executor.IsLockRequired(step.Type) {
		release, ok, err := r.locker.TryAcquire(ctx, process.ID+"/"+string(step.Type))
		if err != nil {
			return domain.StepExecutionResult{}, fmt.Errorf("acquiring lock: %w", err)
		}
		if !ok {
			return domain.StepExecutionResult{}, errLockBusy
		}
		defer release()
	}

	return executor.ExecuteStep(ctx, process.ID, step.Type, stepTypes)
}

// release puts a claimed step back to TODO. The write is detached from the
// caller's cancellation: releasing is exactly what must still happen when the
// context that ran the step has been cancelled, otherwise the step sits
// IN_PROGRESS until the stale-claim sweep.
func (r *Runner) release(ctx context.Context, step domain.ProcessStep) error {
	step.Status = domain.StepStatusTodo
	if err := r.store.UpdateStep(context.WithoutCancel(ctx), step); err != nil && !domain.IsVersionConflict(err) {
		return err
	}
	return nil
}

// finalize persists the step outcome, the steps it schedules and the
// checklist projection in one transaction. Downstream steps of the same
// dispatch only run after this commit.
func (r *Runner) finalize(ctx context.Context, process domain.Process, step domain.ProcessStep, result domain.StepExecutionResult) error {
	return r.store.InTx(ctx, func(tx domain.Store) error {
		step.Status = result.Status
		step.Message = result.Message
		if err := tx.UpdateStep(ctx, step); err != nil {
			return err
		}

		scheduled := make([]domain.StepType, 0, len(result.NextStepTypes)+len(result.ScheduleStepTypes))
		scheduled = append(scheduled, result.NextStepTypes...)
		scheduled = append(scheduled, result.ScheduleStepTypes...)
		if err := createMissingSteps(ctx, tx, process.ID, nil, scheduled); err != nil {
			return err
		}

		if r.projector != nil {
			if err := r.projector.ProjectStepOutcome(ctx, tx, process.ID, step.Type, result.Status, result.Message); err != nil {
				return err
			}
		}
		return nil
	})
}
