package cron_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/neomorfeo/onboardiq/internal/adapter/cron"
	"github.com/neomorfeo/onboardiq/internal/domain"
)

type stubRepo struct {
	domain.ProcessRepository

	pending []string
	cutoff  time.Time
	limit   int
	err     error
}

func (s *stubRepo) ListPendingProcesses(_ context.Context, olderThan time.Time, limit int) ([]string, error) {
	s.cutoff = olderThan
	s.limit = limit
	return s.pending, s.err
}

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []string
	failFor   map[string]error
}

func (r *recordingScheduler) ScheduleAdvance(_ context.Context, processID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failFor[processID]; err != nil {
		return err
	}
	r.scheduled = append(r.scheduled, processID)
	return nil
}

func TestSweep_SchedulesPendingProcesses(t *testing.T) {
	repo := &stubRepo{pending: []string{"p-1", "p-2", "p-3"}}
	sched := &recordingScheduler{}
	sweeper := cron.NewSweeper(repo, sched, 10*time.Minute, 50, slog.New(slog.DiscardHandler))

	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if len(sched.scheduled) != 3 {
		t.Fatalf("scheduled %d processes, want 3", len(sched.scheduled))
	}
	if repo.limit != 50 {
		t.Errorf("limit = %d, want 50", repo.limit)
	}
	if age := time.Since(repo.cutoff); age < 10*time.Minute {
		t.Errorf("cutoff only %v old, want at least 10m", age)
	}
}

func TestSweep_SkipsFailedSchedules(t *testing.T) {
	repo := &stubRepo{pending: []string{"p-1", "p-2"}}
	sched := &recordingScheduler{failFor: map[string]error{"p-1": errors.New("queue down")}}
	sweeper := cron.NewSweeper(repo, sched, time.Minute, 10, slog.New(slog.DiscardHandler))

	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if len(sched.scheduled) != 1 || sched.scheduled[0] != "p-2" {
		t.Errorf("scheduled = %v, want [p-2]", sched.scheduled)
	}
}

func TestSweep_PropagatesListError(t *testing.T) {
	repo := &stubRepo{err: errors.New("db closed")}
	sweeper := cron.NewSweeper(repo, &recordingScheduler{}, time.Minute, 10, slog.New(slog.DiscardHandler))

	if err := sweeper.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewTrigger_InvalidSpec(t *testing.T) {
	sweeper := cron.NewSweeper(&stubRepo{}, &recordingScheduler{}, time.Minute, 10, slog.New(slog.DiscardHandler))

	_, err := cron.NewTrigger("not a cron spec", sweeper, slog.New(slog.DiscardHandler))
	if !errors.Is(err, cron.ErrInvalidCronSpec) {
		t.Errorf("expected ErrInvalidCronSpec, got %v", err)
	}
}

func TestNewTrigger_NextRun(t *testing.T) {
	sweeper := cron.NewSweeper(&stubRepo{}, &recordingScheduler{}, time.Minute, 10, slog.New(slog.DiscardHandler))

	trigger, err := cron.NewTrigger("*/5 * * * *", sweeper, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewTrigger failed: %v", err)
	}

	next := trigger.NextRun()
	if !next.After(time.Now()) {
		t.Errorf("NextRun = %v, want a future time", next)
	}
}
