// Package mailing runs MAILING processes: each process drains the pending
// mail requests queued for it through the delivery transport.
package mailing

import (
	"context"
	"fmt"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// Compile-time check: Executor implements domain.Executor.
var _ domain.Executor = (*Executor)(nil)

// Outbox stores mail requests awaiting dispatch. Marking a request sent must
// be persistent so a re-executed step never dispatches the same mail twice.
type Outbox interface {
	NextPending(ctx context.Context, processID string) (domain.Mail, bool, error)
	MarkSent(ctx context.Context, requestID string) error
}

// Executor dispatches queued mails over the configured sender.
type Executor struct {
	outbox Outbox
	sender domain.MailSender
}

// New creates a mailing executor.
func New(outbox Outbox, sender domain.MailSender) *Executor {
	return &Executor{outbox: outbox, sender: sender}
}

func (e *Executor) ProcessType() domain.ProcessType { return domain.ProcessMailing }

func (e *Executor) ExecutableStepTypes() []domain.StepType {
	return []domain.StepType{domain.StepSendMail}
}

func (e *Executor) IsExecutableStepType(step domain.StepType) bool {
	return step == domain.StepSendMail
}

func (e *Executor) IsLockRequired(domain.StepType) bool { return false }

// InitializeProcess seeds the send step when the process has none yet.
func (e *Executor) InitializeProcess(_ context.Context, _ string, stepTypes []domain.StepType) (domain.InitializationResult, error) {
	for _, typ := range stepTypes {
		if typ == domain.StepSendMail {
			return domain.InitializationResult{}, nil
		}
	}
	return domain.InitializationResult{
		ScheduleStepTypes: []domain.StepType{domain.StepSendMail},
	}, nil
}

// ExecuteStep dispatches the next pending mail. A process without a pending
// request completes immediately: the mail was already sent on an earlier
// attempt.
func (e *Executor) ExecuteStep(ctx context.Context, processID string, step domain.StepType, _ []domain.StepType) (domain.StepExecutionResult, error) {
	if step != domain.StepSendMail {
		return domain.StepExecutionResult{}, domain.Fatal(fmt.Errorf("mailing executor cannot run step %s", step))
	}

	mail, ok, err := e.outbox.NextPending(ctx, processID)
	if err != nil {
		return domain.StepExecutionResult{}, fmt.Errorf("reading mail outbox: %w", err)
	}
	if !ok {
		return domain.StepExecutionResult{Status: domain.StepStatusDone}, nil
	}

	if err := e.sender.Send(ctx, mail); err != nil {
		return domain.StepExecutionResult{}, fmt.Errorf("sending mail %s: %w", mail.RequestID, err)
	}
	if err := e.outbox.MarkSent(ctx, mail.RequestID); err != nil {
		return domain.StepExecutionResult{}, fmt.Errorf("marking mail %s sent: %w", mail.RequestID, err)
	}

	return domain.StepExecutionResult{
		Modified: true,
		Status:   domain.StepStatusDone,
		Message:  fmt.Sprintf("dispatched mail %s", mail.RequestID),
	}, nil
}
