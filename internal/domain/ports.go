package domain

import (
	"context"
	"time"
)

// ProcessRepository defines the persistence contract for processes and their
// steps. UpdateStep is a compare-and-swap on the step's Version and must
// return a VersionConflictError when the stored version has moved.
type ProcessRepository interface {
	CreateProcess(ctx context.Context, p Process) error
	GetProcess(ctx context.Context, id string) (Process, error)
	CreateStep(ctx context.Context, step ProcessStep) error
	GetSteps(ctx context.Context, processID string) ([]ProcessStep, error)
	UpdateStep(ctx context.Context, step ProcessStep) error
	// ListPendingProcesses returns IDs of processes holding outstanding steps
	// whose last modification is older than the cutoff. The sweep trigger
	// uses it to re-enqueue work after crashes.
	ListPendingProcesses(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

// ChecklistRepository defines the persistence contract for applications and
// their checklist entries. UpdateEntry follows the same compare-and-swap rule
// as UpdateStep.
type ChecklistRepository interface {
	CreateApplication(ctx context.Context, app Application) error
	GetApplication(ctx context.Context, id string) (Application, error)
	GetApplicationByProcess(ctx context.Context, processID string) (Application, error)
	CreateEntry(ctx context.Context, entry ChecklistEntry) error
	GetEntries(ctx context.Context, applicationID string) ([]ChecklistEntry, error)
	GetEntry(ctx context.Context, applicationID string, typ EntryType) (ChecklistEntry, error)
	UpdateEntry(ctx context.Context, entry ChecklistEntry) error
}

// Store is the combined persistence port. InTx runs fn against a store bound
// to one transaction: either every mutation staged inside fn commits, or none
// does. Checklist entries and their process steps are always saved through
// the same InTx call so the two can never diverge observably.
type Store interface {
	ProcessRepository
	ChecklistRepository
	InTx(ctx context.Context, fn func(Store) error) error
}

// InitializationResult is returned by Executor.InitializeProcess.
type InitializationResult struct {
	// Modified indicates the executor mutated process-external state that
	// must be committed before step execution starts.
	Modified bool
	// ScheduleStepTypes are additional steps to seed on the process.
	ScheduleStepTypes []StepType
}

// StepExecutionResult is returned by Executor.ExecuteStep. Step failure is
// data, not control flow: executors report outcomes here and reserve Go
// errors for transient faults (translated to FAILED by the runner) or fatal
// invariant violations (propagated).
type StepExecutionResult struct {
	Modified          bool
	Status            StepStatus
	NextStepTypes     []StepType
	ScheduleStepTypes []StepType
	Message           string
}

// Executor is implemented by each domain module that can run process steps.
// ExecuteStep must be idempotent with respect to at-least-once delivery: a
// re-execution after a crash must not double-apply the external effect.
type Executor interface {
	ProcessType() ProcessType
	ExecutableStepTypes() []StepType
	IsExecutableStepType(step StepType) bool
	// IsLockRequired reports whether the step needs an advisory lock around
	// its external call before running.
	IsLockRequired(step StepType) bool
	InitializeProcess(ctx context.Context, processID string, stepTypes []StepType) (InitializationResult, error)
	ExecuteStep(ctx context.Context, processID string, step StepType, processStepTypes []StepType) (StepExecutionResult, error)
}

// EntryTransitionValidator validates checklist entry state changes.
type EntryTransitionValidator interface {
	Apply(ctx context.Context, current EntryStatus, event EntryEvent) (EntryStatus, error)
}

// Locker hands out advisory locks scoped to a single step execution. A false
// ok is not an error: the step stays TODO and is retried later. The release
// func must be called on every exit path.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// AdvanceScheduler enqueues asynchronous advancement of a process. Duplicate
// schedules for the same process must coalesce.
type AdvanceScheduler interface {
	ScheduleAdvance(ctx context.Context, processID string) error
}

// PortalEvent is a lifecycle notification emitted for other portal services.
type PortalEvent struct {
	Kind          string    `json:"kind"`
	ApplicationID string    `json:"application_id,omitempty"`
	ProcessID     string    `json:"process_id,omitempty"`
	StepType      string    `json:"step_type,omitempty"`
	EntryType     string    `json:"entry_type,omitempty"`
	Status        string    `json:"status,omitempty"`
	Message       string    `json:"message,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Event kinds published on the portal exchange.
const (
	EventStepFinished  = "process.step.finished"
	EventEntryChanged  = "checklist.entry.changed"
	EventProcessOpened = "process.opened"
)

// EventPublisher defines the contract for emitting portal events.
type EventPublisher interface {
	Publish(ctx context.Context, event PortalEvent) error
}

// Mail is a rendered-template send request handed to the mail transport.
// Template rendering itself is an external collaborator.
type Mail struct {
	RequestID  string            `json:"request_id"`
	Recipient  string            `json:"recipient"`
	Template   string            `json:"template"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// MailSender dispatches mails to the delivery service.
type MailSender interface {
	Send(ctx context.Context, mail Mail) error
}
