// Package registration runs the automatic steps of PARTNER_REGISTRATION
// processes. Verification stays manual; it is finalized through the checklist
// service, never by this executor.
package registration

import (
	"context"
	"fmt"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// Compile-time check: Executor implements domain.Executor.
var _ domain.Executor = (*Executor)(nil)

// BusinessPartnerGateway talks to the external business partner pool.
type BusinessPartnerGateway interface {
	// HasBusinessPartnerNumber reports whether a number was already assigned
	// on an earlier attempt.
	HasBusinessPartnerNumber(ctx context.Context, processID string) (bool, error)
	PushBusinessPartnerNumber(ctx context.Context, processID string) error
}

// WalletGateway talks to the managed identity wallet service.
type WalletGateway interface {
	WalletExists(ctx context.Context, processID string) (bool, error)
	CreateWallet(ctx context.Context, processID string) error
}

// ApplicationActivator flips the partner's application to active in the
// surrounding portal once onboarding completed.
type ApplicationActivator interface {
	Activate(ctx context.Context, processID string) error
}

var executableSteps = []domain.StepType{
	domain.StepCreateBusinessPartnerNumberPush,
	domain.StepCreateIdentityWallet,
	domain.StepActivateApplication,
}

// Executor drives partner registration against the external portal services.
type Executor struct {
	partners  BusinessPartnerGateway
	wallets   WalletGateway
	activator ApplicationActivator
}

// New creates a registration executor.
func New(partners BusinessPartnerGateway, wallets WalletGateway, activator ApplicationActivator) *Executor {
	return &Executor{partners: partners, wallets: wallets, activator: activator}
}

func (e *Executor) ProcessType() domain.ProcessType { return domain.ProcessPartnerRegistration }

func (e *Executor) ExecutableStepTypes() []domain.StepType { return executableSteps }

func (e *Executor) IsExecutableStepType(step domain.StepType) bool {
	for _, s := range executableSteps {
		if s == step {
			return true
		}
	}
	return false
}

// IsLockRequired guards wallet creation: the wallet service rejects nothing,
// so two concurrent creates would register two wallets for one partner.
func (e *Executor) IsLockRequired(step domain.StepType) bool {
	return step == domain.StepCreateIdentityWallet
}

// InitializeProcess does not seed steps. Registration processes get their
// step list from the checklist phase, where manual and automatic steps are
// created together.
func (e *Executor) InitializeProcess(context.Context, string, []domain.StepType) (domain.InitializationResult, error) {
	return domain.InitializationResult{}, nil
}

func (e *Executor) ExecuteStep(ctx context.Context, processID string, step domain.StepType, _ []domain.StepType) (domain.StepExecutionResult, error) {
	switch step {
	case domain.StepCreateBusinessPartnerNumberPush:
		return e.pushBusinessPartnerNumber(ctx, processID)
	case domain.StepCreateIdentityWallet:
		return e.createWallet(ctx, processID)
	case domain.StepActivateApplication:
		return e.activate(ctx, processID)
	default:
		return domain.StepExecutionResult{}, domain.Fatal(fmt.Errorf("registration executor cannot run step %s", step))
	}
}

func (e *Executor) pushBusinessPartnerNumber(ctx context.Context, processID string) (domain.StepExecutionResult, error) {
	assigned, err := e.partners.HasBusinessPartnerNumber(ctx, processID)
	if err != nil {
		return domain.StepExecutionResult{}, fmt.Errorf("checking business partner number: %w", err)
	}
	if assigned {
		return domain.StepExecutionResult{Status: domain.StepStatusDone}, nil
	}

	if err := e.partners.PushBusinessPartnerNumber(ctx, processID); err != nil {
		return domain.StepExecutionResult{}, fmt.Errorf("pushing business partner number: %w", err)
	}

	return domain.StepExecutionResult{
		Modified: true,
		Status:   domain.StepStatusDone,
	}, nil
}

func (e *Executor) createWallet(ctx context.Context, processID string) (domain.StepExecutionResult, error) {
	exists, err := e.wallets.WalletExists(ctx, processID)
	if err != nil {
		return domain.StepExecutionResult{}, fmt.Errorf("checking wallet: %w", err)
	}
	if !exists {
		if err := e.wallets.CreateWallet(ctx, processID); err != nil {
			return domain.StepExecutionResult{}, fmt.Errorf("creating wallet: %w", err)
		}
	}

	return domain.StepExecutionResult{
		Modified:      !exists,
		Status:        domain.StepStatusDone,
		NextStepTypes: []domain.StepType{domain.StepActivateApplication},
	}, nil
}

func (e *Executor) activate(ctx context.Context, processID string) (domain.StepExecutionResult, error) {
	if err := e.activator.Activate(ctx, processID); err != nil {
		return domain.StepExecutionResult{}, fmt.Errorf("activating application: %w", err)
	}

	return domain.StepExecutionResult{
		Modified: true,
		Status:   domain.StepStatusDone,
	}, nil
}
