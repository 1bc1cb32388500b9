package app

import (
	"context"
	"fmt"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// ManualProcessService lets synchronous request handlers (operator calls,
// external callbacks) finalize and schedule process steps outside the polling
// runner, inside the same commit as their own domain mutation.
type ManualProcessService struct {
	store     domain.Store
	scheduler domain.AdvanceScheduler
}

// NewManualProcessService creates the service with the given adapters.
func NewManualProcessService(store domain.Store, scheduler domain.AdvanceScheduler) *ManualProcessService {
	return &ManualProcessService{store: store, scheduler: scheduler}
}

// ProcessInfo is the snapshot returned by ValidateProcess.
type ProcessInfo struct {
	Process domain.Process
	Steps   []domain.ProcessStep
}

// ValidateProcess checks that the process exists, is of the expected type and
// holds at least one outstanding step among allowedStepTypes. A missing or
// wrong-typed process surfaces NotFound; a process with no eligible step
// surfaces Conflict, so callers can tell the two apart.
func (s *ManualProcessService) ValidateProcess(ctx context.Context, processID string, expected domain.ProcessType, allowedStepTypes []domain.StepType) (ProcessInfo, error) {
	process, err := s.store.GetProcess(ctx, processID)
	if err != nil {
		return ProcessInfo{}, err
	}
	if process.Type != expected {
		return ProcessInfo{}, &domain.NotFoundError{Resource: "process", ID: processID}
	}

	steps, err := s.store.GetSteps(ctx, processID)
	if err != nil {
		return ProcessInfo{}, err
	}

	eligible := false
	for _, typ := range allowedStepTypes {
		if domain.HasOutstanding(steps, typ) {
			eligible = true
			break
		}
	}
	if !eligible {
		return ProcessInfo{}, &domain.ConflictError{
			Resource: "process",
			ID:       processID,
			Reason:   fmt.Sprintf("no outstanding step among %v", allowedStepTypes),
		}
	}

	return ProcessInfo{Process: process, Steps: steps}, nil
}

// ManualContext stages step mutations for one finalization. Nothing is
// persisted until FinalizeProcessStep commits everything at once.
type ManualContext struct {
	svc          *ManualProcessService
	process      domain.Process
	finalizeType domain.StepType
	schedule     []domain.StepType
	skips        []domain.StepType
}

// CreateManualContext prepares the finalization of one outstanding step.
// Returns Conflict when the step is not actually outstanding on the process.
func (s *ManualProcessService) CreateManualContext(info ProcessInfo, stepToFinalize domain.StepType) (*ManualContext, error) {
	if !domain.HasOutstanding(info.Steps, stepToFinalize) {
		return nil, &domain.ConflictError{
			Resource: "process step",
			ID:       info.Process.ID,
			Reason:   fmt.Sprintf("step %s is not outstanding", stepToFinalize),
		}
	}
	return &ManualContext{
		svc:          s,
		process:      info.Process,
		finalizeType: stepToFinalize,
	}, nil
}

// ScheduleProcessSteps stages creation of new TODO steps. The duplicate-
// prevention rule applies at commit time.
func (c *ManualContext) ScheduleProcessSteps(types ...domain.StepType) {
	c.schedule = append(c.schedule, types...)
}

// SkipProcessSteps stages marking the outstanding steps of the given types
// SKIPPED without executing them.
func (c *ManualContext) SkipProcessSteps(types ...domain.StepType) {
	c.skips = append(c.skips, types...)
}

// FinalizeProcessStep marks the context's step DONE and commits it together
// with every staged schedule/skip and the caller's domain mutation in one
// transaction: the step is never finished without its business effect being
// durable, and vice versa. domainMutation may be nil.
func (c *ManualContext) FinalizeProcessStep(ctx context.Context, domainMutation func(tx domain.Store) error) error {
	err := c.svc.store.InTx(ctx, func(tx domain.Store) error {
		if domainMutation != nil {
			if err := domainMutation(tx); err != nil {
				return err
			}
		}

		steps, err := tx.GetSteps(ctx, c.process.ID)
		if err != nil {
			return err
		}

		if err := transitionOutstanding(ctx, tx, steps, c.finalizeType, domain.StepStatusDone); err != nil {
			return err
		}
		for _, typ := range c.skips {
			if err := transitionOutstanding(ctx, tx, steps, typ, domain.StepStatusSkipped); err != nil {
				return err
			}
		}

		return createMissingSteps(ctx, tx, c.process.ID, nil, c.schedule)
	})
	if err != nil {
		return err
	}

	if len(c.schedule) > 0 {
		if err := c.svc.scheduler.ScheduleAdvance(ctx, c.process.ID); err != nil {
			return fmt.Errorf("scheduling advancement: %w", err)
		}
	}
	return nil
}

// transitionOutstanding moves every outstanding step of the given type to the
// target status. A concurrent finalize surfaces as a version conflict and
// fails the whole unit of work.
func transitionOutstanding(ctx context.Context, tx domain.Store, steps []domain.ProcessStep, typ domain.StepType, target domain.StepStatus) error {
	found := false
	for _, step := range steps {
		if step.Type != typ || !step.Status.IsOutstanding() {
			continue
		}
		found = true
		step.Status = target
		if err := tx.UpdateStep(ctx, step); err != nil {
			return err
		}
	}
	if !found {
		return &domain.ConflictError{
			Resource: "process step",
			ID:       string(typ),
			Reason:   "step is no longer outstanding",
		}
	}
	return nil
}
