package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// ChecklistService is the state machine layered over checklist entries and
// process steps, scoped to one application. Entries are mutated exclusively
// through it, always in the same transaction as the steps that back them.
type ChecklistService struct {
	store     domain.Store
	validator domain.EntryTransitionValidator
	scheduler domain.AdvanceScheduler
	publisher domain.EventPublisher
	logger    *slog.Logger
	config    domain.ChecklistConfig
}

// NewChecklistService validates the checklist configuration once and returns
// the service. A broken mapping fails construction, not runtime.
func NewChecklistService(store domain.Store, validator domain.EntryTransitionValidator, scheduler domain.AdvanceScheduler, publisher domain.EventPublisher, logger *slog.Logger, config domain.ChecklistConfig) (*ChecklistService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &ChecklistService{
		store:     store,
		validator: validator,
		scheduler: scheduler,
		publisher: publisher,
		logger:    logger,
		config:    config,
	}, nil
}

// VerifyOptions carries the optional cross-checks of VerifyEntryAndSteps.
type VerifyOptions struct {
	// DependentEntry names a different entry whose status the caller wants
	// to branch on (e.g. wallet creation requires the BPN entry DONE).
	DependentEntry *domain.EntryType
}

// ChecklistContext snapshots one verified (entry, step) pair for a later
// finalization.
type ChecklistContext struct {
	Application     domain.Application
	Process         domain.Process
	Steps           []domain.ProcessStep
	Entry           domain.ChecklistEntry
	DependentStatus domain.EntryStatus

	finalizeType domain.StepType
}

// VerifyEntryAndSteps checks that the application and its process exist
// (NotFound otherwise), that the entry is in one of allowedStatuses and that
// the step to finalize is outstanding (Conflict otherwise).
func (s *ChecklistService) VerifyEntryAndSteps(ctx context.Context, applicationID string, entryType domain.EntryType, allowedStatuses []domain.EntryStatus, stepToFinalize domain.StepType, opts *VerifyOptions) (*ChecklistContext, error) {
	application, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	process, err := s.store.GetProcess(ctx, application.ProcessID)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.GetEntry(ctx, applicationID, entryType)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, status := range allowedStatuses {
		if entry.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &domain.ConflictError{
			Resource: "checklist entry",
			ID:       applicationID + "/" + string(entryType),
			Reason:   fmt.Sprintf("status is %s, expected one of %v", entry.Status, allowedStatuses),
		}
	}

	steps, err := s.store.GetSteps(ctx, process.ID)
	if err != nil {
		return nil, err
	}
	if !domain.HasOutstanding(steps, stepToFinalize) {
		return nil, &domain.ConflictError{
			Resource: "process step",
			ID:       process.ID,
			Reason:   fmt.Sprintf("step %s is not outstanding", stepToFinalize),
		}
	}

	cctx := &ChecklistContext{
		Application:  application,
		Process:      process,
		Steps:        steps,
		Entry:        entry,
		finalizeType: stepToFinalize,
	}

	if opts != nil && opts.DependentEntry != nil {
		dependent, err := s.store.GetEntry(ctx, applicationID, *opts.DependentEntry)
		if err != nil {
			return nil, err
		}
		cctx.DependentStatus = dependent.Status
	}

	return cctx, nil
}

// FinalizeEntryAndSteps applies mutate to the checklist entry, marks the
// verified step DONE and schedules nextStepTypes as new TODO steps, all in a
// single persisted unit. Status changes made by mutate must follow the entry
// transition table.
func (s *ChecklistService) FinalizeEntryAndSteps(ctx context.Context, cctx *ChecklistContext, mutate func(entry *domain.ChecklistEntry), nextStepTypes []domain.StepType) error {
	var updated domain.ChecklistEntry

	err := s.store.InTx(ctx, func(tx domain.Store) error {
		entry, err := tx.GetEntry(ctx, cctx.Application.ID, cctx.Entry.Type)
		if err != nil {
			return err
		}

		before := entry.Status
		if mutate != nil {
			mutate(&entry)
		}
		if entry.Status != before {
			if err := s.checkTransition(ctx, cctx.Application.ID, entry.Type, before, entry.Status); err != nil {
				return err
			}
		}
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		updated = entry

		steps, err := tx.GetSteps(ctx, cctx.Process.ID)
		if err != nil {
			return err
		}
		if err := transitionOutstanding(ctx, tx, steps, cctx.finalizeType, domain.StepStatusDone); err != nil {
			return err
		}

		return createMissingSteps(ctx, tx, cctx.Process.ID, nil, nextStepTypes)
	})
	if err != nil {
		return err
	}

	if len(nextStepTypes) > 0 {
		if err := s.scheduler.ScheduleAdvance(ctx, cctx.Process.ID); err != nil {
			return fmt.Errorf("scheduling advancement: %w", err)
		}
	}

	if err := s.publisher.Publish(ctx, domain.PortalEvent{
		Kind:          domain.EventEntryChanged,
		ApplicationID: cctx.Application.ID,
		ProcessID:     cctx.Process.ID,
		EntryType:     string(updated.Type),
		Status:        string(updated.Status),
		Message:       updated.Comment,
		OccurredAt:    time.Now().UTC(),
	}); err != nil {
		// The entry change is already committed; a lost notification must not
		// surface as a failure to the caller.
		s.logger.Warn("publishing entry event failed",
			"application_id", cctx.Application.ID, "entry_type", updated.Type, "error", err)
	}
	return nil
}

// SkipProcessSteps marks the outstanding steps of the given types SKIPPED,
// used when a checklist branch makes a pending step moot.
func (s *ChecklistService) SkipProcessSteps(ctx context.Context, cctx *ChecklistContext, types []domain.StepType) error {
	return s.store.InTx(ctx, func(tx domain.Store) error {
		steps, err := tx.GetSteps(ctx, cctx.Process.ID)
		if err != nil {
			return err
		}
		for _, typ := range types {
			if !domain.HasOutstanding(steps, typ) {
				continue
			}
			if err := transitionOutstanding(ctx, tx, steps, typ, domain.StepStatusSkipped); err != nil {
				return err
			}
		}
		return nil
	})
}

// RetriggerableSteps returns the manual retrigger step types an operator may
// invoke for the entry. The set is a static lookup, only exposed once the
// entry has FAILED.
func (s *ChecklistService) RetriggerableSteps(entry domain.ChecklistEntry) []domain.StepType {
	if entry.Status != domain.EntryStatusFailed {
		return nil
	}
	return s.config[entry.Type].ManualTriggers
}

// RetriggerStep maps an operator retrigger request to exactly one
// FinalizeEntryAndSteps invocation: the FAILED entry returns to IN_PROGRESS
// with its comment cleared, the retrigger step finishes and its canonical
// step is scheduled. Out-of-sequence requests fail with Conflict or NotFound.
func (s *ChecklistService) RetriggerStep(ctx context.Context, applicationID string, entryType domain.EntryType, stepType domain.StepType) error {
	valid := false
	for _, trigger := range s.config[entryType].ManualTriggers {
		if trigger == stepType {
			valid = true
			break
		}
	}
	if !valid {
		return &domain.ConflictError{
			Resource: "checklist entry",
			ID:       applicationID + "/" + string(entryType),
			Reason:   fmt.Sprintf("step %s is not a manual trigger for this entry", stepType),
		}
	}
	canonical := domain.RetriggerOf[stepType]

	cctx, err := s.VerifyEntryAndSteps(ctx, applicationID, entryType,
		[]domain.EntryStatus{domain.EntryStatusFailed}, stepType, nil)
	if err != nil {
		return err
	}

	return s.FinalizeEntryAndSteps(ctx, cctx, func(entry *domain.ChecklistEntry) {
		entry.Status = domain.EntryStatusInProgress
		entry.Comment = ""
	}, []domain.StepType{canonical})
}

// EntryView is the operator-facing read model of one checklist entry.
type EntryView struct {
	Entry           domain.ChecklistEntry
	RetriggerableBy []domain.StepType
}

// GetChecklist returns every entry of the application with its currently
// valid retrigger step types.
func (s *ChecklistService) GetChecklist(ctx context.Context, applicationID string) ([]EntryView, error) {
	if _, err := s.store.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	entries, err := s.store.GetEntries(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	views := make([]EntryView, len(entries))
	for i, entry := range entries {
		views[i] = EntryView{
			Entry:           entry,
			RetriggerableBy: s.RetriggerableSteps(entry),
		}
	}
	return views, nil
}

// ProjectStepOutcome keeps a checklist entry in lockstep with one of its
// implementing steps, inside the transaction that persists the step outcome.
// Steps that back no entry (e.g. mailing) are a no-op, as are transitions the
// entry table does not define (re-runs of already-projected outcomes).
func (s *ChecklistService) ProjectStepOutcome(ctx context.Context, tx domain.Store, processID string, step domain.StepType, status domain.StepStatus, message string) error {
	entryType, ok := s.config.EntryForStep(step)
	if !ok {
		return nil
	}

	application, err := tx.GetApplicationByProcess(ctx, processID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return err
	}

	entry, err := tx.GetEntry(ctx, application.ID, entryType)
	if err != nil {
		return err
	}

	var target domain.EntryStatus
	var comment string
	switch status {
	case domain.StepStatusFailed:
		target = domain.EntryStatusFailed
		comment = message
	case domain.StepStatusDone:
		steps, err := tx.GetSteps(ctx, processID)
		if err != nil {
			return err
		}
		if s.entryComplete(entryType, steps) {
			target = domain.EntryStatusDone
		} else {
			target = domain.EntryStatusInProgress
		}
	case domain.StepStatusInProgress:
		target = domain.EntryStatusInProgress
	default:
		return nil
	}

	if entry.Status == target {
		return nil
	}
	event, ok := domain.EntryEventFor(entry.Status, target)
	if !ok {
		return nil
	}
	if _, err := s.validator.Apply(ctx, entry.Status, event); err != nil {
		return nil
	}

	entry.Status = target
	entry.Comment = comment
	return tx.UpdateEntry(ctx, entry)
}

// entryComplete reports whether every implementing step of the entry present
// on the process has finished without failure. Step rows are never rewritten
// once terminal, so a retriggered step leaves its FAILED row behind; such a
// row only counts as long as no later run of the same type finished DONE or
// SKIPPED.
func (s *ChecklistService) entryComplete(entryType domain.EntryType, steps []domain.ProcessStep) bool {
	for _, implementing := range s.config[entryType].Steps {
		if domain.HasOutstanding(steps, implementing) {
			return false
		}
		for _, step := range steps {
			if step.Type != implementing || step.Status != domain.StepStatusFailed {
				continue
			}
			if !supersededBySuccess(steps, step) {
				return false
			}
		}
	}
	return true
}

// supersededBySuccess reports whether a run of the same step type started at
// or after the failed one finished DONE or SKIPPED, retiring the failed row.
func supersededBySuccess(steps []domain.ProcessStep, failed domain.ProcessStep) bool {
	for _, step := range steps {
		if step.Type != failed.Type || step.ID == failed.ID {
			continue
		}
		if step.Status != domain.StepStatusDone && step.Status != domain.StepStatusSkipped {
			continue
		}
		if !step.CreatedAt.Before(failed.CreatedAt) {
			return true
		}
	}
	return false
}

// checkTransition validates one entry status change against the transition
// table, surfacing Conflict with the expected-vs-actual detail.
func (s *ChecklistService) checkTransition(ctx context.Context, applicationID string, entryType domain.EntryType, from, to domain.EntryStatus) error {
	event, ok := domain.EntryEventFor(from, to)
	if !ok {
		return &domain.ConflictError{
			Resource: "checklist entry",
			ID:       applicationID + "/" + string(entryType),
			Reason:   fmt.Sprintf("no transition from %s to %s", from, to),
		}
	}
	if _, err := s.validator.Apply(ctx, from, event); err != nil {
		return &domain.ConflictError{
			Resource: "checklist entry",
			ID:       applicationID + "/" + string(entryType),
			Reason:   fmt.Sprintf("transition from %s to %s rejected: %v", from, to, err),
		}
	}
	return nil
}
