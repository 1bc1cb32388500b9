package app_test

import (
	"context"
	"testing"

	"github.com/neomorfeo/onboardiq/internal/app"
	"github.com/neomorfeo/onboardiq/internal/domain"
)

func TestCreateProcess_CreatesStepsAndSchedulesAdvance(t *testing.T) {
	store := newMemStore()
	scheduler := &mockScheduler{}
	pub := &mockPublisher{}
	svc := app.NewProcessService(store, scheduler, pub)
	ctx := context.Background()

	process, err := svc.CreateProcess(ctx, domain.ProcessMailing, []domain.StepType{
		domain.StepSendMail,
		domain.StepSendMail, // duplicate must collapse
	})
	if err != nil {
		t.Fatalf("CreateProcess failed: %v", err)
	}

	steps, err := store.GetSteps(ctx, process.ID)
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("steps = %d, want 1 (duplicates collapsed)", len(steps))
	}
	if steps[0].Status != domain.StepStatusTodo {
		t.Errorf("step status = %q, want TODO", steps[0].Status)
	}

	if len(scheduler.scheduled) != 1 || scheduler.scheduled[0] != process.ID {
		t.Errorf("scheduled = %v, want one advance for %s", scheduler.scheduled, process.ID)
	}
	if len(pub.events) != 1 || pub.events[0].Kind != domain.EventProcessOpened {
		t.Errorf("events = %v, want one %s", pub.events, domain.EventProcessOpened)
	}
}

func TestEnterChecklistPhase_CreatesEntriesAndInitialSteps(t *testing.T) {
	store := newMemStore()
	svc := app.NewProcessService(store, &mockScheduler{}, &mockPublisher{})
	ctx := context.Background()

	application, err := svc.EnterChecklistPhase(ctx, "a-1")
	if err != nil {
		t.Fatalf("EnterChecklistPhase failed: %v", err)
	}

	entries, err := store.GetEntries(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetEntries failed: %v", err)
	}
	if len(entries) != len(domain.EntryTypes) {
		t.Fatalf("entries = %d, want %d", len(entries), len(domain.EntryTypes))
	}
	for _, e := range entries {
		if e.Status != domain.EntryStatusTodo {
			t.Errorf("entry %s status = %q, want TO_DO", e.Type, e.Status)
		}
	}

	steps, err := store.GetSteps(ctx, application.ProcessID)
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("initial steps = %d, want 2", len(steps))
	}
}

func TestEnterChecklistPhase_Twice_Conflicts(t *testing.T) {
	svc := app.NewProcessService(newMemStore(), &mockScheduler{}, &mockPublisher{})
	ctx := context.Background()

	if _, err := svc.EnterChecklistPhase(ctx, "a-1"); err != nil {
		t.Fatalf("first EnterChecklistPhase failed: %v", err)
	}
	_, err := svc.EnterChecklistPhase(ctx, "a-1")
	if !domain.IsConflict(err) {
		t.Fatalf("second EnterChecklistPhase error = %v, want Conflict", err)
	}
}

func TestEnterChecklistPhase_FailedSaveLeavesNothing(t *testing.T) {
	store := newMemStore()
	svc := app.NewProcessService(store, &mockScheduler{}, &mockPublisher{})
	ctx := context.Background()

	store.failOn = "CreateEntry"
	store.failSkip = 2 // fail on the third entry
	if _, err := svc.EnterChecklistPhase(ctx, "a-1"); err == nil {
		t.Fatal("EnterChecklistPhase succeeded, want simulated failure")
	}

	if _, err := store.GetApplication(ctx, "a-1"); !domain.IsNotFound(err) {
		t.Errorf("application persisted despite failed transaction")
	}
	entries, _ := store.GetEntries(ctx, "a-1")
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0 after rollback", len(entries))
	}
}

func TestGetProcessStatus_DerivesTerminality(t *testing.T) {
	store := newMemStore()
	svc := app.NewProcessService(store, &mockScheduler{}, &mockPublisher{})
	ctx := context.Background()

	process, err := svc.CreateProcess(ctx, domain.ProcessMailing, []domain.StepType{domain.StepSendMail})
	if err != nil {
		t.Fatalf("CreateProcess failed: %v", err)
	}

	status, err := svc.GetProcessStatus(ctx, process.ID)
	if err != nil {
		t.Fatalf("GetProcessStatus failed: %v", err)
	}
	if status.Terminal {
		t.Error("Terminal = true with an outstanding step")
	}

	steps, _ := store.GetSteps(ctx, process.ID)
	steps[0].Status = domain.StepStatusDone
	if err := store.UpdateStep(ctx, steps[0]); err != nil {
		t.Fatalf("UpdateStep failed: %v", err)
	}

	status, err = svc.GetProcessStatus(ctx, process.ID)
	if err != nil {
		t.Fatalf("GetProcessStatus failed: %v", err)
	}
	if !status.Terminal {
		t.Error("Terminal = false with no outstanding step")
	}
}
