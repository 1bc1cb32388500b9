package app

import (
	"context"
	"fmt"
	"time"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// ProcessService owns process creation and status queries. Advancement of the
// created steps happens asynchronously through the runner worker.
type ProcessService struct {
	store     domain.Store
	scheduler domain.AdvanceScheduler
	publisher domain.EventPublisher
}

// NewProcessService creates a service with the given adapters.
func NewProcessService(store domain.Store, scheduler domain.AdvanceScheduler, publisher domain.EventPublisher) *ProcessService {
	return &ProcessService{
		store:     store,
		scheduler: scheduler,
		publisher: publisher,
	}
}

// CreateProcess creates a process with its initial TODO steps in one commit
// and enqueues asynchronous advancement. Duplicate step types in the initial
// list collapse to a single step.
func (s *ProcessService) CreateProcess(ctx context.Context, typ domain.ProcessType, initialSteps []domain.StepType) (domain.Process, error) {
	process := domain.NewProcess(generateID(), typ)

	err := s.store.InTx(ctx, func(tx domain.Store) error {
		if err := tx.CreateProcess(ctx, process); err != nil {
			return fmt.Errorf("creating process: %w", err)
		}
		return createMissingSteps(ctx, tx, process.ID, nil, initialSteps)
	})
	if err != nil {
		return domain.Process{}, err
	}

	if err := s.scheduler.ScheduleAdvance(ctx, process.ID); err != nil {
		return domain.Process{}, fmt.Errorf("scheduling advancement: %w", err)
	}

	if err := s.publisher.Publish(ctx, domain.PortalEvent{
		Kind:       domain.EventProcessOpened,
		ProcessID:  process.ID,
		Status:     string(typ),
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		return domain.Process{}, fmt.Errorf("publishing process event: %w", err)
	}

	return process, nil
}

// EnterChecklistPhase moves an application into the checklist-driven phase of
// onboarding: one PARTNER_REGISTRATION process, one checklist entry per
// milestone and the initial automated steps, all created in a single commit.
func (s *ProcessService) EnterChecklistPhase(ctx context.Context, applicationID string) (domain.Application, error) {
	if _, err := s.store.GetApplication(ctx, applicationID); err == nil {
		return domain.Application{}, &domain.ConflictError{
			Resource: "application",
			ID:       applicationID,
			Reason:   "already entered the checklist phase",
		}
	} else if !domain.IsNotFound(err) {
		return domain.Application{}, err
	}

	process := domain.NewProcess(generateID(), domain.ProcessPartnerRegistration)
	application := domain.Application{
		ID:        applicationID,
		ProcessID: process.ID,
		CreatedAt: time.Now().UTC(),
	}

	initialSteps := []domain.StepType{
		domain.StepCreateBusinessPartnerNumberPush,
		domain.StepVerifyRegistration,
	}

	err := s.store.InTx(ctx, func(tx domain.Store) error {
		if err := tx.CreateProcess(ctx, process); err != nil {
			return fmt.Errorf("creating process: %w", err)
		}
		if err := tx.CreateApplication(ctx, application); err != nil {
			return fmt.Errorf("creating application: %w", err)
		}
		for _, typ := range domain.EntryTypes {
			if err := tx.CreateEntry(ctx, domain.NewChecklistEntry(applicationID, typ)); err != nil {
				return fmt.Errorf("creating checklist entry %s: %w", typ, err)
			}
		}
		return createMissingSteps(ctx, tx, process.ID, nil, initialSteps)
	})
	if err != nil {
		return domain.Application{}, err
	}

	if err := s.scheduler.ScheduleAdvance(ctx, process.ID); err != nil {
		return domain.Application{}, fmt.Errorf("scheduling advancement: %w", err)
	}

	if err := s.publisher.Publish(ctx, domain.PortalEvent{
		Kind:          domain.EventProcessOpened,
		ApplicationID: applicationID,
		ProcessID:     process.ID,
		Status:        string(process.Type),
		OccurredAt:    time.Now().UTC(),
	}); err != nil {
		return domain.Application{}, fmt.Errorf("publishing process event: %w", err)
	}

	return application, nil
}

// ProcessStatus is a read model over one process and its steps.
type ProcessStatus struct {
	Process  domain.Process
	Steps    []domain.ProcessStep
	Terminal bool
}

// GetProcessStatus returns a process with its steps and derived terminality.
func (s *ProcessService) GetProcessStatus(ctx context.Context, processID string) (ProcessStatus, error) {
	process, err := s.store.GetProcess(ctx, processID)
	if err != nil {
		return ProcessStatus{}, err
	}
	steps, err := s.store.GetSteps(ctx, processID)
	if err != nil {
		return ProcessStatus{}, err
	}
	return ProcessStatus{
		Process:  process,
		Steps:    steps,
		Terminal: domain.IsTerminal(steps),
	}, nil
}

// createMissingSteps creates a TODO step for every requested type that has no
// outstanding instance yet. known may carry already-loaded steps; the current
// state is re-read when nil so the duplicate check always runs against the
// transaction's view.
func createMissingSteps(ctx context.Context, tx domain.Store, processID string, known []domain.ProcessStep, types []domain.StepType) error {
	if len(types) == 0 {
		return nil
	}

	steps := known
	if steps == nil {
		var err error
		steps, err = tx.GetSteps(ctx, processID)
		if err != nil {
			return fmt.Errorf("loading steps: %w", err)
		}
	}

	for _, typ := range types {
		if domain.HasOutstanding(steps, typ) {
			continue
		}
		step := domain.NewProcessStep(generateID(), processID, typ)
		if err := tx.CreateStep(ctx, step); err != nil {
			return fmt.Errorf("creating step %s: %w", typ, err)
		}
		steps = append(steps, step)
	}
	return nil
}
