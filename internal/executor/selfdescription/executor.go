// Package selfdescription runs SELF_DESCRIPTION_CREATION processes against
// the SD factory. The factory answers asynchronously, so a successful request
// only schedules the await step; an external callback finalizes it.
package selfdescription

import (
	"context"
	"fmt"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// Compile-time check: Executor implements domain.Executor.
var _ domain.Executor = (*Executor)(nil)

// Gateway talks to the SD factory service.
type Gateway interface {
	// Requested reports whether a company self-description was already
	// requested for the process on an earlier attempt.
	Requested(ctx context.Context, processID string) (bool, error)
	RequestCompanySelfDescription(ctx context.Context, processID string) error
}

// Executor requests company self-descriptions from the SD factory.
type Executor struct {
	gateway Gateway
}

// New creates a self-description executor.
func New(gateway Gateway) *Executor {
	return &Executor{gateway: gateway}
}

func (e *Executor) ProcessType() domain.ProcessType { return domain.ProcessSelfDescription }

func (e *Executor) ExecutableStepTypes() []domain.StepType {
	return []domain.StepType{domain.StepSelfDescriptionCompanyCreation}
}

func (e *Executor) IsExecutableStepType(step domain.StepType) bool {
	return step == domain.StepSelfDescriptionCompanyCreation
}

func (e *Executor) IsLockRequired(domain.StepType) bool { return false }

// InitializeProcess seeds the creation step when the process has none yet.
func (e *Executor) InitializeProcess(_ context.Context, _ string, stepTypes []domain.StepType) (domain.InitializationResult, error) {
	for _, typ := range stepTypes {
		if typ == domain.StepSelfDescriptionCompanyCreation {
			return domain.InitializationResult{}, nil
		}
	}
	return domain.InitializationResult{
		ScheduleStepTypes: []domain.StepType{domain.StepSelfDescriptionCompanyCreation},
	}, nil
}

func (e *Executor) ExecuteStep(ctx context.Context, processID string, step domain.StepType, _ []domain.StepType) (domain.StepExecutionResult, error) {
	if step != domain.StepSelfDescriptionCompanyCreation {
		return domain.StepExecutionResult{}, domain.Fatal(fmt.Errorf("self-description executor cannot run step %s", step))
	}

	requested, err := e.gateway.Requested(ctx, processID)
	if err != nil {
		return domain.StepExecutionResult{}, fmt.Errorf("checking self-description request: %w", err)
	}
	if !requested {
		if err := e.gateway.RequestCompanySelfDescription(ctx, processID); err != nil {
			return domain.StepExecutionResult{}, fmt.Errorf("requesting company self-description: %w", err)
		}
	}

	return domain.StepExecutionResult{
		Modified:      !requested,
		Status:        domain.StepStatusDone,
		NextStepTypes: []domain.StepType{domain.StepAwaitSelfDescriptionResponse},
	}, nil
}
