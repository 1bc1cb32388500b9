package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/neomorfeo/onboardiq/internal/adapter/amqp"
	"github.com/neomorfeo/onboardiq/internal/adapter/cron"
	"github.com/neomorfeo/onboardiq/internal/adapter/fsm"
	"github.com/neomorfeo/onboardiq/internal/adapter/lock"
	"github.com/neomorfeo/onboardiq/internal/adapter/otel"
	"github.com/neomorfeo/onboardiq/internal/adapter/portal"
	"github.com/neomorfeo/onboardiq/internal/adapter/river"
	"github.com/neomorfeo/onboardiq/internal/adapter/sqlite"
	"github.com/neomorfeo/onboardiq/internal/app"
	"github.com/neomorfeo/onboardiq/internal/config"
	"github.com/neomorfeo/onboardiq/internal/domain"
	"github.com/neomorfeo/onboardiq/internal/executor/mailing"
	"github.com/neomorfeo/onboardiq/internal/executor/registration"
	"github.com/neomorfeo/onboardiq/internal/executor/selfdescription"
)

// stack holds the wired adapters and services shared by the subcommands.
type stack struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *sqlite.Store
	scheduler  domain.AdvanceScheduler
	processes  *app.ProcessService
	checklists *app.ChecklistService
	runner     *app.Runner
	workClient *river.Client
	sweeper    *cron.Sweeper
	trigger    *cron.Trigger
	broker     *amqp.Publisher // nil when no AMQP URL is configured
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// buildStack wires the full application the way every subcommand needs it:
// instrumented database, migrations, broker, job queue and services.
func buildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	if err := domain.DefaultChecklist.Validate(); err != nil {
		return nil, fmt.Errorf("checklist configuration: %w", err)
	}

	db, err := otel.OpenDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	store, err := sqlite.NewFromDB(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	traced := otel.NewTracingStore(store)

	// Without a broker URL events are logged and mails stay local. Useful
	// for development; production always configures AMQP.
	var events domain.EventPublisher
	var sender domain.MailSender
	var broker *amqp.Publisher
	if cfg.AMQP.URL != "" {
		broker, err = amqp.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("amqp: %w", err)
		}
		events = otel.NewTracingPublisher(broker)
		sender = broker
	} else {
		lp := &logPublisher{logger: logger}
		events = lp
		sender = lp
	}

	insertClient, err := river.NewInsertOnlyClient(db)
	if err != nil {
		store.Close()
		return nil, err
	}
	scheduler := river.NewScheduler(insertClient)

	checklists, err := app.NewChecklistService(traced, fsm.New(), scheduler, events, logger, domain.DefaultChecklist)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("checklist service: %w", err)
	}
	processes := app.NewProcessService(traced, scheduler, events)

	runner := app.NewRunner(traced, lock.New(), checklists, events, logger)

	gateway := portal.NewClient(portal.Config{
		BaseURL: cfg.Portal.BaseURL,
		Timeout: cfg.Portal.Timeout.Std(),
	})
	executors := []domain.Executor{
		mailing.New(store, sender),
		registration.New(gateway, gateway, gateway),
		selfdescription.New(gateway),
	}
	for _, ex := range executors {
		if err := runner.Register(ex); err != nil {
			store.Close()
			return nil, fmt.Errorf("registering executor: %w", err)
		}
	}

	workClient, err := river.Setup(ctx, db, runner, logger, cfg.Worker.MaxWorkers)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("job queue: %w", err)
	}

	sweeper := cron.NewSweeper(store, scheduler, cfg.Sweep.StaleAfter.Std(), cfg.Sweep.BatchSize, logger)
	trigger, err := cron.NewTrigger(cfg.Sweep.Schedule, sweeper, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("sweep trigger: %w", err)
	}

	return &stack{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		scheduler:  scheduler,
		processes:  processes,
		checklists: checklists,
		runner:     runner,
		workClient: workClient,
		sweeper:    sweeper,
		trigger:    trigger,
		broker:     broker,
	}, nil
}

// close releases the stack's resources in reverse wiring order.
func (s *stack) close() {
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.logger.Warn("closing broker", "error", err)
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing database", "error", err)
	}
}

// logPublisher stands in for the AMQP broker when no URL is configured.
type logPublisher struct {
	logger *slog.Logger
}

func (p *logPublisher) Publish(ctx context.Context, event domain.PortalEvent) error {
	p.logger.InfoContext(ctx, "portal event",
		"kind", event.Kind,
		"process_id", event.ProcessID,
		"application_id", event.ApplicationID,
	)
	return nil
}

func (p *logPublisher) Send(ctx context.Context, mail domain.Mail) error {
	p.logger.InfoContext(ctx, "mail dispatch without broker",
		"request_id", mail.RequestID,
		"template", mail.Template,
	)
	return nil
}
