// Package sqlite provides the embedded SQLite persistence implementation.
// It is the single source of truth for the engine: workflow definitions and
// versions, trigger state, run history, and the durable job queue all live in
// one database file.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/weftlabs/weft/pkg/persistence"
)

// Persistence implements persistence.Persistence on SQLite.
type Persistence struct {
	db       *sqlx.DB
	logger   *slog.Logger
	workflow *WorkflowRepository
	trigger  *TriggerRepository
	run      *RunRepository
	job      *JobRepository
}

// NewPersistence opens (or creates) the database at dsn, applies pragmas and
// schema, and returns the store. Use ":memory:" for tests.
func NewPersistence(ctx context.Context, logger *slog.Logger, dsn string) (*Persistence, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	// A single writer connection sidesteps SQLITE_BUSY under concurrent
	// claim transactions; WAL keeps readers unblocked.
	db.SetMaxOpenConns(1)

	if err := configurePragmas(db); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}

	p := &Persistence{
		db:       db,
		logger:   logger.With("module", "sqlite_persistence"),
		workflow: &WorkflowRepository{db: db},
		trigger:  &TriggerRepository{db: db},
		run:      &RunRepository{db: db},
		job:      &JobRepository{db: db},
	}

	if err := p.initSchema(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return p, nil
}

func configurePragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=30000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return err
		}
	}

	return nil
}

func (p *Persistence) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			version     INTEGER NOT NULL,
			definition  TEXT NOT NULL,
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS workflow_versions (
			workflow_id    TEXT NOT NULL,
			version        INTEGER NOT NULL,
			definition     TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			created_at     DATETIME NOT NULL,
			PRIMARY KEY (workflow_id, version)
		);`,
		`CREATE TABLE IF NOT EXISTS triggers (
			id            TEXT PRIMARY KEY,
			workflow_id   TEXT NOT NULL,
			type          TEXT NOT NULL,
			state         TEXT NOT NULL,
			configuration TEXT NOT NULL DEFAULT '{}',
			last_fired_at DATETIME,
			fire_count    INTEGER NOT NULL DEFAULT 0,
			dropped_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_triggers_workflow ON triggers (workflow_id);`,
		`CREATE TABLE IF NOT EXISTS trigger_events (
			id          TEXT PRIMARY KEY,
			trigger_id  TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			dedup_key   TEXT NOT NULL,
			payload     TEXT NOT NULL DEFAULT '{}',
			fired_at    DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trigger_events_dedup ON trigger_events (dedup_key, fired_at);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id               TEXT PRIMARY KEY,
			workflow_id      TEXT NOT NULL,
			workflow_version INTEGER NOT NULL,
			trigger_event_id TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			context          TEXT NOT NULL DEFAULT '{}',
			error            TEXT NOT NULL DEFAULT '',
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			created_at       DATETIME NOT NULL,
			started_at       DATETIME,
			finished_at      DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workflow_status ON runs (workflow_id, status);`,
		`CREATE TABLE IF NOT EXISTS node_runs (
			id          TEXT PRIMARY KEY,
			run_id      TEXT NOT NULL,
			node_id     TEXT NOT NULL,
			attempt     INTEGER NOT NULL,
			status      TEXT NOT NULL,
			input       TEXT NOT NULL DEFAULT 'null',
			output      TEXT NOT NULL DEFAULT 'null',
			error       TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL DEFAULT '',
			started_at  DATETIME NOT NULL,
			finished_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_node_runs_run ON node_runs (run_id, node_id, attempt);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id            TEXT PRIMARY KEY,
			kind          TEXT NOT NULL,
			run_id        TEXT NOT NULL,
			workflow_id   TEXT NOT NULL,
			priority      INTEGER NOT NULL DEFAULT 0,
			status        TEXT NOT NULL,
			attempts      INTEGER NOT NULL DEFAULT 0,
			max_attempts  INTEGER NOT NULL DEFAULT 1,
			next_retry_at DATETIME,
			locked_by     TEXT NOT NULL DEFAULT '',
			locked_at     DATETIME,
			last_error    TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs (status, priority DESC, created_at ASC);`,
		`CREATE TABLE IF NOT EXISTS job_attempts (
			id         TEXT PRIMARY KEY,
			job_id     TEXT NOT NULL,
			attempt    INTEGER NOT NULL,
			worker_id  TEXT NOT NULL,
			error      TEXT NOT NULL DEFAULT '',
			category   TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			ended_at   DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_attempts_job ON job_attempts (job_id, attempt);`,
	}

	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return nil
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return p.workflow
}

func (p *Persistence) Triggers() persistence.TriggerRepository {
	return p.trigger
}

func (p *Persistence) Runs() persistence.RunRepository {
	return p.run
}

func (p *Persistence) Jobs() persistence.JobRepository {
	return p.job
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}

	return nil
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json column: %w", err)
	}

	return string(data), nil
}

func unmarshalJSON(data string, v any) error {
	if data == "" || data == "null" {
		return nil
	}

	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal json column: %w", err)
	}

	return nil
}
