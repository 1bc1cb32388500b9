package domain

import (
	"fmt"
	"time"
)

// EntryType is an operator-visible onboarding milestone.
type EntryType string

const (
	EntryBusinessPartnerNumber    EntryType = "BUSINESS_PARTNER_NUMBER"
	EntryRegistrationVerification EntryType = "REGISTRATION_VERIFICATION"
	EntryIdentityWallet           EntryType = "IDENTITY_WALLET"
	EntrySelfDescription          EntryType = "SELF_DESCRIPTION"
	EntryApplicationActivation    EntryType = "APPLICATION_ACTIVATION"
)

// EntryTypes lists every checklist milestone, in checklist display order.
var EntryTypes = []EntryType{
	EntryBusinessPartnerNumber,
	EntryRegistrationVerification,
	EntryIdentityWallet,
	EntrySelfDescription,
	EntryApplicationActivation,
}

// EntryStatus is the lifecycle state of a checklist entry.
type EntryStatus string

const (
	EntryStatusTodo       EntryStatus = "TO_DO"
	EntryStatusInProgress EntryStatus = "IN_PROGRESS"
	EntryStatusDone       EntryStatus = "DONE"
	EntryStatusFailed     EntryStatus = "FAILED"
)

// EntryEvent represents an action that moves a checklist entry between states.
type EntryEvent string

const (
	EntryEventStart    EntryEvent = "start"
	EntryEventComplete EntryEvent = "complete"
	EntryEventFail     EntryEvent = "fail"
	EntryEventRetry    EntryEvent = "retry"
	EntryEventOverride EntryEvent = "override"
)

// EntryTransition defines a valid entry state change.
type EntryTransition struct {
	Event EntryEvent
	Src   EntryStatus
	Dst   EntryStatus
}

// EntryTransitions defines all valid checklist entry state changes. This is
// domain knowledge consumed by the FSM adapter.
var EntryTransitions = []EntryTransition{
	{Event: EntryEventStart, Src: EntryStatusTodo, Dst: EntryStatusInProgress},
	{Event: EntryEventComplete, Src: EntryStatusTodo, Dst: EntryStatusDone},
	{Event: EntryEventComplete, Src: EntryStatusInProgress, Dst: EntryStatusDone},
	{Event: EntryEventFail, Src: EntryStatusTodo, Dst: EntryStatusFailed},
	{Event: EntryEventFail, Src: EntryStatusInProgress, Dst: EntryStatusFailed},
	{Event: EntryEventRetry, Src: EntryStatusFailed, Dst: EntryStatusInProgress},
	{Event: EntryEventOverride, Src: EntryStatusFailed, Dst: EntryStatusDone},
}

// EntryEventFor returns the event that moves an entry from src to dst, or
// false when no configured transition connects the two states.
func EntryEventFor(src, dst EntryStatus) (EntryEvent, bool) {
	for _, t := range EntryTransitions {
		if t.Src == src && t.Dst == dst {
			return t.Event, true
		}
	}
	return "", false
}

// ChecklistEntry is the operator-visible milestone status for one application.
// Exactly one entry exists per (application, entry type); entries are mutated
// exclusively through the checklist service.
type ChecklistEntry struct {
	ApplicationID string
	Type          EntryType
	Status        EntryStatus
	Comment       string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewChecklistEntry creates an entry in the initial TO_DO state.
func NewChecklistEntry(applicationID string, typ EntryType) ChecklistEntry {
	now := time.Now().UTC()
	return ChecklistEntry{
		ApplicationID: applicationID,
		Type:          typ,
		Status:        EntryStatusTodo,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Application links a company application to the process driving its
// checklist. Full company CRUD lives outside this core.
type Application struct {
	ID        string
	ProcessID string
	CreatedAt time.Time
}

// EntryConfig declares which process steps implement a checklist entry and
// which manual retrigger steps an operator may invoke once it has FAILED.
type EntryConfig struct {
	Steps          []StepType
	ManualTriggers []StepType
}

// ChecklistConfig is the closed EntryType -> step mapping, supplied as static
// data and validated once at start-up.
type ChecklistConfig map[EntryType]EntryConfig

// DefaultChecklist is the onboarding checklist configuration.
var DefaultChecklist = ChecklistConfig{
	EntryBusinessPartnerNumber: {
		Steps:          []StepType{StepCreateBusinessPartnerNumberPush, StepCreateBusinessPartnerNumberPull},
		ManualTriggers: []StepType{StepRetriggerBusinessPartnerNumberPush, StepRetriggerBusinessPartnerNumberPull},
	},
	EntryRegistrationVerification: {
		Steps:          []StepType{StepVerifyRegistration},
		ManualTriggers: []StepType{StepRetriggerVerifyRegistration},
	},
	EntryIdentityWallet: {
		Steps:          []StepType{StepCreateIdentityWallet},
		ManualTriggers: []StepType{StepRetriggerCreateIdentityWallet},
	},
	EntrySelfDescription: {
		Steps:          []StepType{StepSelfDescriptionCompanyCreation, StepAwaitSelfDescriptionResponse},
		ManualTriggers: []StepType{StepRetriggerSelfDescriptionCreation},
	},
	EntryApplicationActivation: {
		Steps:          []StepType{StepActivateApplication},
		ManualTriggers: []StepType{StepRetriggerActivateApplication},
	},
}

// EntryForStep returns the entry type implemented by the given step, or false
// when the step does not back any checklist entry.
func (c ChecklistConfig) EntryForStep(step StepType) (EntryType, bool) {
	for typ, cfg := range c {
		for _, s := range cfg.Steps {
			if s == step {
				return typ, true
			}
		}
	}
	return "", false
}

// Validate checks the mapping's closure once at start-up: every manual
// trigger must be a configured retrigger step resolving to exactly one
// canonical step of the same entry, and no retrigger step may serve two
// entries. A broken mapping is a configuration defect, so validation failure
// must abort start-up rather than surface at runtime.
func (c ChecklistConfig) Validate() error {
	triggerOwner := make(map[StepType]EntryType)
	for _, typ := range EntryTypes {
		cfg, ok := c[typ]
		if !ok {
			return fmt.Errorf("checklist config: entry %s has no configuration", typ)
		}
		if len(cfg.Steps) == 0 {
			return fmt.Errorf("checklist config: entry %s has no implementing steps", typ)
		}
		for _, trigger := range cfg.ManualTriggers {
			canonical, ok := RetriggerOf[trigger]
			if !ok {
				return fmt.Errorf("checklist config: entry %s: %s is not a retrigger step", typ, trigger)
			}
			if owner, dup := triggerOwner[trigger]; dup {
				return fmt.Errorf("checklist config: retrigger step %s serves both %s and %s", trigger, owner, typ)
			}
			triggerOwner[trigger] = typ

			found := false
			for _, s := range cfg.Steps {
				if s == canonical {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("checklist config: entry %s: retrigger %s resolves to %s, which the entry does not implement", typ, trigger, canonical)
			}
		}
	}
	return nil
}
