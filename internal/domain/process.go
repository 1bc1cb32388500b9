package domain

import "time"

// ProcessType identifies which domain executor owns a process.
type ProcessType string

const (
	ProcessPartnerRegistration ProcessType = "PARTNER_REGISTRATION"
	ProcessSelfDescription     ProcessType = "SELF_DESCRIPTION_CREATION"
	ProcessIdentityProvider    ProcessType = "IDENTITYPROVIDER_PROVISIONING"
	ProcessMailing             ProcessType = "MAILING"
)

// StepType identifies a concrete unit of work within a process type.
type StepType string

const (
	// PARTNER_REGISTRATION steps.
	StepCreateBusinessPartnerNumberPush StepType = "CREATE_BUSINESS_PARTNER_NUMBER_PUSH"
	StepCreateBusinessPartnerNumberPull StepType = "CREATE_BUSINESS_PARTNER_NUMBER_PULL"
	StepVerifyRegistration              StepType = "VERIFY_REGISTRATION"
	StepCreateIdentityWallet            StepType = "CREATE_IDENTITY_WALLET"
	StepActivateApplication             StepType = "ACTIVATE_APPLICATION"

	// SELF_DESCRIPTION_CREATION steps.
	StepSelfDescriptionCompanyCreation StepType = "SELF_DESCRIPTION_COMPANY_CREATION"
	StepAwaitSelfDescriptionResponse   StepType = "AWAIT_SELF_DESCRIPTION_RESPONSE"

	// IDENTITYPROVIDER_PROVISIONING steps.
	StepCreateCentralIdentityProvider StepType = "CREATE_CENTRAL_IDENTITY_PROVIDER"
	StepCreateSharedRealm             StepType = "CREATE_SHARED_REALM"
	StepEnableCentralIdentityProvider StepType = "ENABLE_CENTRAL_IDENTITY_PROVIDER"

	// MAILING steps.
	StepSendMail StepType = "SEND_MAIL"

	// Manual retrigger steps. Each maps 1:1 to the canonical step it restarts;
	// executors never list them as executable, so the polling runner leaves
	// them for the manual context.
	StepRetriggerBusinessPartnerNumberPush StepType = "RETRIGGER_CREATE_BUSINESS_PARTNER_NUMBER_PUSH"
	StepRetriggerBusinessPartnerNumberPull StepType = "RETRIGGER_CREATE_BUSINESS_PARTNER_NUMBER_PULL"
	StepRetriggerVerifyRegistration        StepType = "RETRIGGER_VERIFY_REGISTRATION"
	StepRetriggerCreateIdentityWallet      StepType = "RETRIGGER_CREATE_IDENTITY_WALLET"
	StepRetriggerActivateApplication       StepType = "RETRIGGER_ACTIVATE_APPLICATION"
	StepRetriggerSelfDescriptionCreation   StepType = "RETRIGGER_SELF_DESCRIPTION_COMPANY_CREATION"
	StepRetriggerSendMail                  StepType = "RETRIGGER_SEND_MAIL"
)

// RetriggerOf maps each manual retrigger step to the canonical step it
// restarts. The mapping is static configuration; ValidateRetriggerMapping
// checks it once at start-up.
var RetriggerOf = map[StepType]StepType{
	StepRetriggerBusinessPartnerNumberPush: StepCreateBusinessPartnerNumberPush,
	StepRetriggerBusinessPartnerNumberPull: StepCreateBusinessPartnerNumberPull,
	StepRetriggerVerifyRegistration:        StepVerifyRegistration,
	StepRetriggerCreateIdentityWallet:      StepCreateIdentityWallet,
	StepRetriggerActivateApplication:       StepActivateApplication,
	StepRetriggerSelfDescriptionCreation:   StepSelfDescriptionCompanyCreation,
	StepRetriggerSendMail:                  StepSendMail,
}

// RetriggerFor returns the retrigger counterpart of a canonical step type,
// or false when the step has none configured.
func RetriggerFor(step StepType) (StepType, bool) {
	for retrigger, canonical := range RetriggerOf {
		if canonical == step {
			return retrigger, true
		}
	}
	return "", false
}

// IsRetriggerStep reports whether the step type is a manual retrigger step.
func IsRetriggerStep(step StepType) bool {
	_, ok := RetriggerOf[step]
	return ok
}

// StepStatus is the lifecycle state of a single process step.
type StepStatus string

const (
	StepStatusTodo       StepStatus = "TODO"
	StepStatusInProgress StepStatus = "IN_PROGRESS"
	StepStatusDone       StepStatus = "DONE"
	StepStatusFailed     StepStatus = "FAILED"
	StepStatusSkipped    StepStatus = "SKIPPED"
)

// IsOutstanding reports whether the status still requires work. TODO and
// IN_PROGRESS count; DONE, FAILED and SKIPPED are final (a failed step is
// resumed through a new retrigger step, never reopened).
func (s StepStatus) IsOutstanding() bool {
	return s == StepStatusTodo || s == StepStatusInProgress
}

// Process is one instance of a long-running business workflow. It carries no
// "done" flag: terminality is derived from its steps (see IsTerminal).
type Process struct {
	ID        string
	Type      ProcessType
	Version   int64
	CreatedAt time.Time
}

// ProcessStep is one unit of work within a process. Steps are append-only;
// they are transitioned, never removed.
type ProcessStep struct {
	ID        string
	ProcessID string
	Type      StepType
	Status    StepStatus
	Message   string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewProcess creates a process of the given type.
func NewProcess(id string, typ ProcessType) Process {
	return Process{
		ID:        id,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}
}

// NewProcessStep creates a step in status TODO on the given process.
func NewProcessStep(id, processID string, typ StepType) ProcessStep {
	now := time.Now().UTC()
	return ProcessStep{
		ID:        id,
		ProcessID: processID,
		Type:      typ,
		Status:    StepStatusTodo,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal reports whether a process has no outstanding step left. This is
// a pure query over step state, deliberately not a stored flag.
func IsTerminal(steps []ProcessStep) bool {
	for _, s := range steps {
		if s.Status.IsOutstanding() {
			return false
		}
	}
	return true
}

// HasOutstanding reports whether any step of the given type is outstanding.
// Creation paths use it to keep at most one TODO step per (process, type).
func HasOutstanding(steps []ProcessStep, typ StepType) bool {
	for _, s := range steps {
		if s.Type == typ && s.Status.IsOutstanding() {
			return true
		}
	}
	return false
}

// StepTypes returns the distinct step types present on a process, in first-
// seen order. Executors receive this as process-wide context.
func StepTypes(steps []ProcessStep) []StepType {
	seen := make(map[StepType]bool, len(steps))
	out := make([]StepType, 0, len(steps))
	for _, s := range steps {
		if !seen[s.Type] {
			seen[s.Type] = true
			out = append(out, s.Type)
		}
	}
	return out
}
