package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/neomorfeo/onboardiq/internal/adapter/sqlite"
	"github.com/neomorfeo/onboardiq/internal/domain"
)

// newTestStore creates an in-memory SQLite store for testing.
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustCreateProcess(t *testing.T, store *sqlite.Store, p domain.Process) {
	t.Helper()
	if err := store.CreateProcess(context.Background(), p); err != nil {
		t.Fatalf("mustCreateProcess failed: %v", err)
	}
}

func mustCreateStep(t *testing.T, store *sqlite.Store, step domain.ProcessStep) {
	t.Helper()
	if err := store.CreateStep(context.Background(), step); err != nil {
		t.Fatalf("mustCreateStep failed: %v", err)
	}
}

func TestCreateProcess_And_GetProcess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := domain.NewProcess("p-1", domain.ProcessPartnerRegistration)

	if err := store.CreateProcess(ctx, p); err != nil {
		t.Fatalf("CreateProcess failed: %v", err)
	}

	got, err := store.GetProcess(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetProcess failed: %v", err)
	}

	if got.ID != "p-1" {
		t.Errorf("ID = %q, want %q", got.ID, "p-1")
	}
	if got.Type != domain.ProcessPartnerRegistration {
		t.Errorf("Type = %q, want %q", got.Type, domain.ProcessPartnerRegistration)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
}

func TestGetProcess_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetProcess(context.Background(), "nonexistent")
	if !domain.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestGetSteps_OrderedByCreation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreateProcess(t, store, domain.NewProcess("p-1", domain.ProcessPartnerRegistration))

	base := time.Now().UTC().Truncate(time.Second)
	for i, typ := range []domain.StepType{
		domain.StepCreateBusinessPartnerNumberPush,
		domain.StepVerifyRegistration,
		domain.StepActivateApplication,
	} {
		step := domain.NewProcessStep(fmt.Sprintf("s-%d", i), "p-1", typ)
		step.CreatedAt = base.Add(time.Duration(i) * time.Second)
		step.UpdatedAt = step.CreatedAt
		mustCreateStep(t, store, step)
	}

	steps, err := store.GetSteps(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(steps))
	}
	if steps[0].Type != domain.StepCreateBusinessPartnerNumberPush {
		t.Errorf("first step = %q, want %q", steps[0].Type, domain.StepCreateBusinessPartnerNumberPush)
	}
	if steps[2].Type != domain.StepActivateApplication {
		t.Errorf("last step = %q, want %q", steps[2].Type, domain.StepActivateApplication)
	}
}

func TestUpdateStep_VersionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreateProcess(t, store, domain.NewProcess("p-1", domain.ProcessPartnerRegistration))
	step := domain.NewProcessStep("s-1", "p-1", domain.StepVerifyRegistration)
	mustCreateStep(t, store, step)

	step.Status = domain.StepStatusDone
	if err := store.UpdateStep(ctx, step); err != nil {
		t.Fatalf("first UpdateStep failed: %v", err)
	}

	// The in-memory copy still carries the old version.
	step.Status = domain.StepStatusFailed
	err := store.UpdateStep(ctx, step)
	if !domain.IsVersionConflict(err) {
		t.Fatalf("expected VersionConflictError, got %v", err)
	}

	got, err := store.GetSteps(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	if got[0].Status != domain.StepStatusDone {
		t.Errorf("Status = %q, want %q", got[0].Status, domain.StepStatusDone)
	}
	if got[0].Version != 1 {
		t.Errorf("Version = %d, want 1", got[0].Version)
	}
}

func TestUpdateStep_NotFound(t *testing.T) {
	store := newTestStore(t)

	step := domain.NewProcessStep("nonexistent", "p-1", domain.StepVerifyRegistration)
	err := store.UpdateStep(context.Background(), step)
	if !domain.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestListPendingProcesses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)

	mustCreateProcess(t, store, domain.NewProcess("p-1", domain.ProcessPartnerRegistration))
	stale := domain.NewProcessStep("s-1", "p-1", domain.StepVerifyRegistration)
	stale.CreatedAt = old
	stale.UpdatedAt = old
	mustCreateStep(t, store, stale)

	mustCreateProcess(t, store, domain.NewProcess("p-2", domain.ProcessMailing))
	fresh := domain.NewProcessStep("s-2", "p-2", domain.StepSendMail)
	mustCreateStep(t, store, fresh)

	mustCreateProcess(t, store, domain.NewProcess("p-3", domain.ProcessMailing))
	done := domain.NewProcessStep("s-3", "p-3", domain.StepSendMail)
	done.Status = domain.StepStatusDone
	done.CreatedAt = old
	done.UpdatedAt = old
	mustCreateStep(t, store, done)

	ids, err := store.ListPendingProcesses(ctx, time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListPendingProcesses failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d processes, want 1: %v", len(ids), ids)
	}
	if ids[0] != "p-1" {
		t.Errorf("process = %q, want %q", ids[0], "p-1")
	}
}

func TestApplication_Lookups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreateProcess(t, store, domain.NewProcess("p-1", domain.ProcessPartnerRegistration))
	app := domain.Application{ID: "app-1", ProcessID: "p-1", CreatedAt: time.Now().UTC()}
	if err := store.CreateApplication(ctx, app); err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}

	got, err := store.GetApplication(ctx, "app-1")
	if err != nil {
		t.Fatalf("GetApplication failed: %v", err)
	}
	if got.ProcessID != "p-1" {
		t.Errorf("ProcessID = %q, want %q", got.ProcessID, "p-1")
	}

	byProcess, err := store.GetApplicationByProcess(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetApplicationByProcess failed: %v", err)
	}
	if byProcess.ID != "app-1" {
		t.Errorf("ID = %q, want %q", byProcess.ID, "app-1")
	}

	if _, err := store.GetApplicationByProcess(ctx, "p-other"); !domain.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestCreateApplication_DuplicateProcess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreateProcess(t, store, domain.NewProcess("p-1", domain.ProcessPartnerRegistration))
	if err := store.CreateApplication(ctx, domain.Application{ID: "app-1", ProcessID: "p-1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}

	err := store.CreateApplication(ctx, domain.Application{ID: "app-2", ProcessID: "p-1", CreatedAt: time.Now().UTC()})
	if err == nil {
		t.Fatal("expected error for duplicate process binding")
	}
}

func TestEntry_CreateGetUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreateProcess(t, store, domain.NewProcess("p-1", domain.ProcessPartnerRegistration))
	if err := store.CreateApplication(ctx, domain.Application{ID: "app-1", ProcessID: "p-1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("CreateApplication failed: %v", err)
	}

	for _, typ := range domain.EntryTypes {
		if err := store.CreateEntry(ctx, domain.NewChecklistEntry("app-1", typ)); err != nil {
			t.Fatalf("CreateEntry(%s) failed: %v", typ, err)
		}
	}

	entries, err := store.GetEntries(ctx, "app-1")
	if err != nil {
		t.Fatalf("GetEntries failed: %v", err)
	}
	if len(entries) != len(domain.EntryTypes) {
		t.Fatalf("got %d entries, want %d", len(entries), len(domain.EntryTypes))
	}

	entry, err := store.GetEntry(ctx, "app-1", domain.EntryBusinessPartnerNumber)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if entry.Status != domain.EntryStatusTodo {
		t.Errorf("Status = %q, want %q", entry.Status, domain.EntryStatusTodo)
	}

	entry.Status = domain.EntryStatusDone
	entry.Comment = "verified by operator"
	if err := store.UpdateEntry(ctx, entry); err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}

	got, err := store.GetEntry(ctx, "app-1", domain.EntryBusinessPartnerNumber)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.Status != domain.EntryStatusDone {
		t.Errorf("Status = %q, want %q", got.Status, domain.EntryStatusDone)
	}
	if got.Comment != "verified by operator" {
		t.Errorf("Comment = %q, want %q", got.Comment, "verified by operator")
	}

	// Re-apply with the stale version.
	err = store.UpdateEntry(ctx, entry)
	if !domain.IsVersionConflict(err) {
		t.Errorf("expected VersionConflictError, got %v", err)
	}
}

func TestGetEntry_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetEntry(context.Background(), "nonexistent", domain.EntryRegistrationVerification)
	if !domain.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx domain.Store) error {
		if err := tx.CreateProcess(ctx, domain.NewProcess("p-1", domain.ProcessPartnerRegistration)); err != nil {
			return err
		}
		if err := tx.CreateStep(ctx, domain.NewProcessStep("s-1", "p-1", domain.StepVerifyRegistration)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := store.GetProcess(ctx, "p-1"); !domain.IsNotFound(err) {
		t.Errorf("process should have been rolled back, got %v", err)
	}
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.InTx(ctx, func(tx domain.Store) error {
		if err := tx.CreateProcess(ctx, domain.NewProcess("p-1", domain.ProcessPartnerRegistration)); err != nil {
			return err
		}
		return tx.CreateStep(ctx, domain.NewProcessStep("s-1", "p-1", domain.StepVerifyRegistration))
	})
	if err != nil {
		t.Fatalf("InTx failed: %v", err)
	}

	steps, err := store.GetSteps(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	if len(steps) != 1 {
		t.Errorf("got %d steps, want 1", len(steps))
	}
}
