package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/onboardiq/internal/domain"
)

const tracerName = "github.com/neomorfeo/onboardiq/internal/adapter/otel"

// TracingStore wraps a domain.Store with OpenTelemetry tracing. Each method
// creates a span with semantic attributes and records errors. InTx hands the
// callback a traced view of the transaction-bound store so nested calls keep
// producing spans.
type TracingStore struct {
	next   domain.Store
	tracer trace.Tracer
}

// Compile-time check: TracingStore implements domain.Store.
var _ domain.Store = (*TracingStore)(nil)

// NewTracingStore creates a tracing decorator around the given store.
func NewTracingStore(next domain.Store) *TracingStore {
	return &TracingStore{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (s *TracingStore) CreateProcess(ctx context.Context, p domain.Process) error {
	ctx, span := s.tracer.Start(ctx, "Store.CreateProcess",
		trace.WithAttributes(
			attribute.String("process.id", p.ID),
			attribute.String("process.type", string(p.Type)),
		),
	)
	defer span.End()

	return s.record(span, s.next.CreateProcess(ctx, p))
}

func (s *TracingStore) GetProcess(ctx context.Context, id string) (domain.Process, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetProcess",
		trace.WithAttributes(attribute.String("process.id", id)),
	)
	defer span.End()

	p, err := s.next.GetProcess(ctx, id)
	return p, s.record(span, err)
}

func (s *TracingStore) CreateStep(ctx context.Context, step domain.ProcessStep) error {
	ctx, span := s.tracer.Start(ctx, "Store.CreateStep",
		trace.WithAttributes(
			attribute.String("process.id", step.ProcessID),
			attribute.String("step.type", string(step.Type)),
		),
	)
	defer span.End()

	return s.record(span, s.next.CreateStep(ctx, step))
}

func (s *TracingStore) GetSteps(ctx context.Context, processID string) ([]domain.ProcessStep, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetSteps",
		trace.WithAttributes(attribute.String("process.id", processID)),
	)
	defer span.End()

	steps, err := s.next.GetSteps(ctx, processID)
	if err == nil {
		span.SetAttributes(attribute.Int("result.count", len(steps)))
	}
	return steps, s.record(span, err)
}

func (s *TracingStore) UpdateStep(ctx context.Context, step domain.ProcessStep) error {
	ctx, span := s.tracer.Start(ctx, "Store.UpdateStep",
		trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.type", string(step.Type)),
			attribute.String("step.status", string(step.Status)),
		),
	)
	defer span.End()

	return s.record(span, s.next.UpdateStep(ctx, step))
}

func (s *TracingStore) ListPendingProcesses(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ListPendingProcesses",
		trace.WithAttributes(attribute.Int("limit", limit)),
	)
	defer span.End()

	ids, err := s.next.ListPendingProcesses(ctx, olderThan, limit)
	if err == nil {
		span.SetAttributes(attribute.Int("result.count", len(ids)))
	}
	return ids, s.record(span, err)
}

func (s *TracingStore) CreateApplication(ctx context.Context, app domain.Application) error {
	ctx, span := s.tracer.Start(ctx, "Store.CreateApplication",
		trace.WithAttributes(
			attribute.String("application.id", app.ID),
			attribute.String("process.id", app.ProcessID),
		),
	)
	defer span.End()

	return s.record(span, s.next.CreateApplication(ctx, app))
}

func (s *TracingStore) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetApplication",
		trace.WithAttributes(attribute.String("application.id", id)),
	)
	defer span.End()

	app, err := s.next.GetApplication(ctx, id)
	return app, s.record(span, err)
}

func (s *TracingStore) GetApplicationByProcess(ctx context.Context, processID string) (domain.Application, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetApplicationByProcess",
		trace.WithAttributes(attribute.String("process.id", processID)),
	)
	defer span.End()

	app, err := s.next.GetApplicationByProcess(ctx, processID)
	return app, s.record(span, err)
}

func (s *TracingStore) CreateEntry(ctx context.Context, entry domain.ChecklistEntry) error {
	ctx, span := s.tracer.Start(ctx, "Store.CreateEntry",
		trace.WithAttributes(
			attribute.String("application.id", entry.ApplicationID),
			attribute.String("entry.type", string(entry.Type)),
		),
	)
	defer span.End()

	return s.record(span, s.next.CreateEntry(ctx, entry))
}

func (s *TracingStore) GetEntries(ctx context.Context, applicationID string) ([]domain.ChecklistEntry, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetEntries",
		trace.WithAttributes(attribute.String("application.id", applicationID)),
	)
	defer span.End()

	entries, err := s.next.GetEntries(ctx, applicationID)
	if err == nil {
		span.SetAttributes(attribute.Int("result.count", len(entries)))
	}
	return entries, s.record(span, err)
}

func (s *TracingStore) GetEntry(ctx context.Context, applicationID string, typ domain.EntryType) (domain.ChecklistEntry, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetEntry",
		trace.WithAttributes(
			attribute.String("application.id", applicationID),
			attribute.String("entry.type", string(typ)),
		),
	)
	defer span.End()

	entry, err := s.next.GetEntry(ctx, applicationID, typ)
	return entry, s.record(span, err)
}

func (s *TracingStore) UpdateEntry(ctx context.Context, entry domain.ChecklistEntry) error {
	ctx, span := s.tracer.Start(ctx, "Store.UpdateEntry",
		trace.WithAttributes(
			attribute.String("application.id", entry.ApplicationID),
			attribute.String("entry.type", string(entry.Type)),
			attribute.String("entry.status", string(entry.Status)),
		),
	)
	defer span.End()

	return s.record(span, s.next.UpdateEntry(ctx, entry))
}

func (s *TracingStore) InTx(ctx context.Context, fn func(domain.Store) error) error {
	ctx, span := s.tracer.Start(ctx, "Store.InTx")
	defer span.End()

	err := s.next.InTx(ctx, func(tx domain.Store) error {
		return fn(&TracingStore{next: tx, tracer: s.tracer})
	})
	return s.record(span, err)
}

func (s *TracingStore) record(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
