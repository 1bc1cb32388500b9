package app_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

// --- In-memory store ---

// memState is the cloneable backing state of memStore, so InTx can give real
// all-or-nothing semantics: mutations run against a clone that only replaces
// the live state when the transaction function succeeds.
type memState struct {
	processes    map[string]domain.Process
	steps        map[string]domain.ProcessStep
	stepOrder    []string
	applications map[string]domain.Application
	entries      map[string]domain.ChecklistEntry
}

func newMemState() *memState {
	return &memState{
		processes:    make(map[string]domain.Process),
		steps:        make(map[string]domain.ProcessStep),
		applications: make(map[string]domain.Application),
		entries:      make(map[string]domain.ChecklistEntry),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.processes {
		c.processes[k] = v
	}
	for k, v := range s.steps {
		c.steps[k] = v
	}
	c.stepOrder = append(c.stepOrder, s.stepOrder...)
	for k, v := range s.applications {
		c.applications[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	return c
}

type memStore struct {
	mu    sync.Mutex
	state *memState

	// failOn makes a call of the named mutating operation return an error,
	// for atomicity tests. failSkip matching calls pass first; the failure
	// fires once and clears.
	failOn   string
	failSkip int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

// fail guards every mutating operation. It refuses cancelled contexts first,
// as database/sql does, so tests catch writes that wrongly inherit a
// cancelled context.
func (m *memStore) fail(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failOn != op {
		return nil
	}
	if m.failSkip > 0 {
		m.failSkip--
		return nil
	}
	m.failOn = ""
	return fmt.Errorf("simulated %s failure", op)
}

func (m *memStore) CreateProcess(ctx context.Context, p domain.Process) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "CreateProcess"); err != nil {
		return err
	}
	m.state.processes[p.ID] = p
	return nil
}

func (m *memStore) GetProcess(_ context.Context, id string) (domain.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.processes[id]
	if !ok {
		return domain.Process{}, &domain.NotFoundError{Resource: "process", ID: id}
	}
	return p, nil
}

func (m *memStore) CreateStep(ctx context.Context, step domain.ProcessStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "CreateStep"); err != nil {
		return err
	}
	m.state.steps[step.ID] = step
	m.state.stepOrder = append(m.state.stepOrder, step.ID)
	return nil
}

func (m *memStore) GetSteps(_ context.Context, processID string) ([]domain.ProcessStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProcessStep
	for _, id := range m.state.stepOrder {
		if s := m.state.steps[id]; s.ProcessID == processID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) UpdateStep(ctx context.Context, step domain.ProcessStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "UpdateStep"); err != nil {
		return err
	}
	stored, ok := m.state.steps[step.ID]
	if !ok {
		return &domain.NotFoundError{Resource: "process step", ID: step.ID}
	}
	if stored.Version != step.Version {
		return &domain.VersionConflictError{Resource: "process step", ID: step.ID}
	}
	step.Version++
	step.UpdatedAt = time.Now().UTC()
	m.state.steps[step.ID] = step
	return nil
}

func (m *memStore) ListPendingProcesses(_ context.Context, olderThan time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range m.state.stepOrder {
		s := m.state.steps[id]
		if !s.Status.IsOutstanding() || !s.UpdatedAt.Before(olderThan) || seen[s.ProcessID] {
			continue
		}
		seen[s.ProcessID] = true
		out = append(out, s.ProcessID)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) CreateApplication(ctx context.Context, app domain.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "CreateApplication"); err != nil {
		return err
	}
	m.state.applications[app.ID] = app
	return nil
}

func (m *memStore) GetApplication(_ context.Context, id string) (domain.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.state.applications[id]
	if !ok {
		return domain.Application{}, &domain.NotFoundError{Resource: "application", ID: id}
	}
	return app, nil
}

func (m *memStore) GetApplicationByProcess(_ context.Context, processID string) (domain.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.state.applications {
		if app.ProcessID == processID {
			return app, nil
		}
	}
	return domain.Application{}, &domain.NotFoundError{Resource: "application", ID: processID}
}

func (m *memStore) CreateEntry(ctx context.Context, entry domain.ChecklistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "CreateEntry"); err != nil {
		return err
	}
	m.state.entries[entryKey(entry.ApplicationID, entry.Type)] = entry
	return nil
}

func (m *memStore) GetEntries(_ context.Context, applicationID string) ([]domain.ChecklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ChecklistEntry
	for _, typ := range domain.EntryTypes {
		if e, ok := m.state.entries[entryKey(applicationID, typ)]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) GetEntry(_ context.Context, applicationID string, typ domain.EntryType) (domain.ChecklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.state.entries[entryKey(applicationID, typ)]
	if !ok {
		return domain.ChecklistEntry{}, &domain.NotFoundError{
			Resource: "checklist entry",
			ID:       entryKey(applicationID, typ),
		}
	}
	return e, nil
}

func (m *memStore) UpdateEntry(ctx context.Context, entry domain.ChecklistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(ctx, "UpdateEntry"); err != nil {
		return err
	}
	key := entryKey(entry.ApplicationID, entry.Type)
	stored, ok := m.state.entries[key]
	if !ok {
		return &domain.NotFoundError{Resource: "checklist entry", ID: key}
	}
	if stored.Version != entry.Version {
		return &domain.VersionConflictError{Resource: "checklist entry", ID: key}
	}
	entry.Version++
	entry.UpdatedAt = time.Now().UTC()
	m.state.entries[key] = entry
	return nil
}

func (m *memStore) InTx(ctx context.Context, fn func(domain.Store) error) error {
	m.mu.Lock()
	snapshot := m.state.clone()
	tx := &memStore{state: m.state, failOn: m.failOn, failSkip: m.failSkip}
	m.mu.Unlock()

	// tx shares the live state; on failure the pre-transaction snapshot is
	// restored, giving observable all-or-nothing behaviour.
	if err := fn(tx); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.failOn, m.failSkip = tx.failOn, tx.failSkip
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	m.failOn, m.failSkip = tx.failOn, tx.failSkip
	m.mu.Unlock()
	return nil
}

func entryKey(applicationID string, typ domain.EntryType) string {
	return applicationID + "/" + string(typ)
}

// --- Other collaborators ---

type mockScheduler struct {
	scheduled []string
}

func (m *mockScheduler) ScheduleAdvance(_ context.Context, processID string) error {
	m.scheduled = append(m.scheduled, processID)
	return nil
}

type mockPublisher struct {
	events []domain.PortalEvent
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, event domain.PortalEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

// tableValidator validates entry transitions straight from the domain table,
// mirroring what the fsm adapter does in production.
type tableValidator struct{}

func (tableValidator) Apply(_ context.Context, current domain.EntryStatus, event domain.EntryEvent) (domain.EntryStatus, error) {
	for _, t := range domain.EntryTransitions {
		if t.Src == current && t.Event == event {
			return t.Dst, nil
		}
	}
	return "", fmt.Errorf("event %q is not valid from status %q", event, current)
}

type mockLocker struct {
	busy     bool
	acquired int
	released int
}

func (m *mockLocker) TryAcquire(_ context.Context, _ string) (func(), bool, error) {
	if m.busy {
		return nil, false, nil
	}
	m.acquired++
	return func() { m.released++ }, true, nil
}

// mockExecutor is a configurable domain.Executor.
type mockExecutor struct {
	typ        domain.ProcessType
	executable []domain.StepType
	locked     map[domain.StepType]bool
	initialize func(ctx context.Context, processID string, stepTypes []domain.StepType) (domain.InitializationResult, error)
	execute    func(ctx context.Context, step domain.StepType, all []domain.StepType) (domain.StepExecutionResult, error)
	executed   []domain.StepType
}

func (m *mockExecutor) ProcessType() domain.ProcessType { return m.typ }

func (m *mockExecutor) ExecutableStepTypes() []domain.StepType { return m.executable }

func (m *mockExecutor) IsExecutableStepType(step domain.StepType) bool {
	for _, s := range m.executable {
		if s == step {
			return true
		}
	}
	return false
}

func (m *mockExecutor) IsLockRequired(step domain.StepType) bool { return m.locked[step] }

func (m *mockExecutor) InitializeProcess(ctx context.Context, processID string, stepTypes []domain.StepType) (domain.InitializationResult, error) {
	if m.initialize == nil {
		return domain.InitializationResult{}, nil
	}
	return m.initialize(ctx, processID, stepTypes)
}

func (m *mockExecutor) ExecuteStep(ctx context.Context, _ string, step domain.StepType, all []domain.StepType) (domain.StepExecutionResult, error) {
	m.executed = append(m.executed, step)
	if m.execute == nil {
		return domain.StepExecutionResult{Status: domain.StepStatusDone}, nil
	}
	return m.execute(ctx, step, all)
}
