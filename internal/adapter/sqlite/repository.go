package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/neomorfeo/onboardiq/internal/domain"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so the
// same query code serves both direct calls and calls inside InTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements domain.Store using SQLite.
type Store struct {
	db *sql.DB
	q  querier
}

// New opens a SQLite database, runs migrations, and returns a ready store.
func New(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and returns a ready store.
// Use this when the *sql.DB has been pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &Store{db: db, q: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (s *Store) DB() *sql.DB {
	return s.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// InTx runs fn against a store bound to a single transaction. A non-nil error
// from fn rolls everything back.
func (s *Store) InTx(ctx context.Context, fn func(domain.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back after %w: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const timeFormat = "2006-01-02T15:04:05Z"

func (s *Store) CreateProcess(ctx context.Context, p domain.Process) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO processes (id, process_type, version, created_at)
		 VALUES (?, ?, ?, ?)`,
		p.ID, string(p.Type), p.Version, p.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting process: %w", err)
	}
	return nil
}

func (s *Store) GetProcess(ctx context.Context, id string) (domain.Process, error) {
	var p domain.Process
	var typ, createdAt string

	err := s.q.QueryRowContext(ctx,
		`SELECT id, process_type, version, created_at
		 FROM processes WHERE id = ?`, id,
	).Scan(&p.ID, &typ, &p.Version, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Process{}, &domain.NotFoundError{Resource: "process", ID: id}
		}
		return domain.Process{}, fmt.Errorf("scanning process: %w", err)
	}

	p.Type = domain.ProcessType(typ)
	p.CreatedAt, _ = time.Parse(timeFormat, createdAt)

	return p, nil
}

func (s *Store) CreateStep(ctx context.Context, step domain.ProcessStep) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO process_steps (id, process_id, step_type, status, message, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.ProcessID, string(step.Type), string(step.Status), step.Message,
		step.Version,
		step.CreatedAt.Format(timeFormat),
		step.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting process step: %w", err)
	}
	return nil
}

func (s *Store) GetSteps(ctx context.Context, processID string) ([]domain.ProcessStep, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, process_id, step_type, status, message, version, created_at, updated_at
		 FROM process_steps WHERE process_id = ?
		 ORDER BY created_at, id`, processID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing process steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.ProcessStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// UpdateStep writes the step back under optimistic concurrency: the row is
// only touched when its stored version still matches step.Version.
func (s *Store) UpdateStep(ctx context.Context, step domain.ProcessStep) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE process_steps
		 SET status = ?, message = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(step.Status), step.Message,
		time.Now().UTC().Format(timeFormat),
		step.ID, step.Version,
	)
	if err != nil {
		return fmt.Errorf("updating process step: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return s.stepUpdateMiss(ctx, step.ID)
	}

	return nil
}

// stepUpdateMiss distinguishes a lost compare-and-swap from a missing row.
func (s *Store) stepUpdateMiss(ctx context.Context, id string) error {
	var exists int
	err := s.q.QueryRowContext(ctx,
		`SELECT 1 FROM process_steps WHERE id = ?`, id,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return &domain.NotFoundError{Resource: "process step", ID: id}
	}
	if err != nil {
		return fmt.Errorf("checking process step existence: %w", err)
	}
	return &domain.VersionConflictError{Resource: "process step", ID: id}
}

func (s *Store) ListPendingProcesses(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT DISTINCT process_id FROM process_steps
		 WHERE status IN (?, ?) AND updated_at < ?
		 ORDER BY process_id LIMIT ?`,
		string(domain.StepStatusTodo), string(domain.StepStatusInProgress),
		olderThan.UTC().Format(timeFormat), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending processes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning process id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (s *Store) CreateApplication(ctx context.Context, app domain.Application) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO applications (id, process_id, created_at)
		 VALUES (?, ?, ?)`,
		app.ID, app.ProcessID, app.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting application: %w", err)
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	return scanApplication(id, s.q.QueryRowContext(ctx,
		`SELECT id, process_id, created_at
		 FROM applications WHERE id = ?`, id,
	))
}

func (s *Store) GetApplicationByProcess(ctx context.Context, processID string) (domain.Application, error) {
	return scanApplication(processID, s.q.QueryRowContext(ctx,
		`SELECT id, process_id, created_at
		 FROM applications WHERE process_id = ?`, processID,
	))
}

func scanApplication(lookup string, row *sql.Row) (domain.Application, error) {
	var app domain.Application
	var createdAt string

	err := row.Scan(&app.ID, &app.ProcessID, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Application{}, &domain.NotFoundError{Resource: "application", ID: lookup}
		}
		return domain.Application{}, fmt.Errorf("scanning application: %w", err)
	}

	app.CreatedAt, _ = time.Parse(timeFormat, createdAt)

	return app, nil
}

func (s *Store) CreateEntry(ctx context.Context, entry domain.ChecklistEntry) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO checklist_entries (application_id, entry_type, status, comment, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ApplicationID, string(entry.Type), string(entry.Status), entry.Comment,
		entry.Version,
		entry.CreatedAt.Format(timeFormat),
		entry.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting checklist entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntries(ctx context.Context, applicationID string) ([]domain.ChecklistEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT application_id, entry_type, status, comment, version, created_at, updated_at
		 FROM checklist_entries WHERE application_id = ?
		 ORDER BY entry_type`, applicationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing checklist entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.ChecklistEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (s *Store) GetEntry(ctx context.Context, applicationID string, typ domain.EntryType) (domain.ChecklistEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT application_id, entry_type, status, comment, version, created_at, updated_at
		 FROM checklist_entries WHERE application_id = ? AND entry_type = ?`,
		applicationID, string(typ),
	)
	if err != nil {
		return domain.ChecklistEntry{}, fmt.Errorf("querying checklist entry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.ChecklistEntry{}, fmt.Errorf("querying checklist entry: %w", err)
		}
		return domain.ChecklistEntry{}, &domain.NotFoundError{Resource: "checklist entry", ID: applicationID + "/" + string(typ)}
	}

	return scanEntry(rows)
}

// UpdateEntry follows the same compare-and-swap discipline as UpdateStep.
func (s *Store) UpdateEntry(ctx context.Context, entry domain.ChecklistEntry) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE checklist_entries
		 SET status = ?, comment = ?, version = version + 1, updated_at = ?
		 WHERE application_id = ? AND entry_type = ? AND version = ?`,
		string(entry.Status), entry.Comment,
		time.Now().UTC().Format(timeFormat),
		entry.ApplicationID, string(entry.Type), entry.Version,
	)
	if err != nil {
		return fmt.Errorf("updating checklist entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return s.entryUpdateMiss(ctx, entry.ApplicationID, entry.Type)
	}

	return nil
}

func (s *Store) entryUpdateMiss(ctx context.Context, applicationID string, typ domain.EntryType) error {
	id := applicationID + "/" + string(typ)
	var exists int
	err := s.q.QueryRowContext(ctx,
		`SELECT 1 FROM checklist_entries WHERE application_id = ? AND entry_type = ?`,
		applicationID, string(typ),
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return &domain.NotFoundError{Resource: "checklist entry", ID: id}
	}
	if err != nil {
		return fmt.Errorf("checking checklist entry existence: %w", err)
	}
	return &domain.VersionConflictError{Resource: "checklist entry", ID: id}
}

func scanStep(rows *sql.Rows) (domain.ProcessStep, error) {
	var step domain.ProcessStep
	var typ, status, createdAt, updatedAt string

	err := rows.Scan(&step.ID, &step.ProcessID, &typ, &status, &step.Message,
		&step.Version, &createdAt, &updatedAt)
	if err != nil {
		return domain.ProcessStep{}, fmt.Errorf("scanning process step: %w", err)
	}

	step.Type = domain.StepType(typ)
	step.Status = domain.StepStatus(status)
	step.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	step.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	return step, nil
}

func scanEntry(rows *sql.Rows) (domain.ChecklistEntry, error) {
	var entry domain.ChecklistEntry
	var typ, status, createdAt, updatedAt string

	err := rows.Scan(&entry.ApplicationID, &typ, &status, &entry.Comment,
		&entry.Version, &createdAt, &updatedAt)
	if err != nil {
		return domain.ChecklistEntry{}, fmt.Errorf("scanning checklist entry: %w", err)
	}

	entry.Type = domain.EntryType(typ)
	entry.Status = domain.EntryStatus(status)
	entry.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	entry.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	return entry, nil
}
