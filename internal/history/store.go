// Package history keeps an audit trail of upgrade runs in PostgreSQL.
//
// Each invocation writes one upgrade_runs row and upserts one upgrade_tasks
// row per controller it touched, keyed on (run_id, controller_id), so the
// table always holds the latest known state of every upgrade.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pilot-net/ctrl-upgrade/db/migrate"
	"github.com/pilot-net/ctrl-upgrade/internal/upgrade"
)

// Run outcomes stored in upgrade_runs.outcome.
const (
	OutcomeRunning   = "running"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

// StatusSubmissionFailed marks a controller whose upgrade request was refused.
const StatusSubmissionFailed = "SUBMISSION_FAILED"

var errNoRun = errors.New("history: no run started")

// Run describes an invocation as it starts.
type Run struct {
	ID     uuid.UUID
	Server string
	Mode   string // "list" or "upgrade"
	Host   HostInfo
}

// RunSummary is one row of the history listing.
type RunSummary struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    *time.Time
	Server        string
	TargetVersion string
	Mode          string
	Outdated      int
	Hostname      string
	Outcome       string
	Tasks         int
	Completed     int
	Failed        int
}

// Store records runs. It is used from a single goroutine.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	runID  uuid.UUID
}

// Open connects, verifies connectivity and applies pending migrations.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := migrate.Run(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}
	return &Store{pool: pool, logger: logger.With("component", "history")}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// StartRun inserts the run row. Subsequent events are attached to it.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO upgrade_runs (id, server, mode, hostname, os, platform, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, run.ID.String(), run.Server, run.Mode, run.Host.Hostname, run.Host.OS, run.Host.Platform, OutcomeRunning)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	s.runID = run.ID
	return nil
}

// Prepared implements upgrade.Recorder.
func (s *Store) Prepared(ctx context.Context, sess *upgrade.Session) error {
	if s.runID == uuid.Nil {
		return errNoRun
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE upgrade_runs SET target_version = $2, outdated_count = $3 WHERE id = $1
	`, s.runID.String(), sess.TargetVersion, len(sess.Outdated))
	return err
}

// Record implements upgrade.Recorder.
func (s *Store) Record(ctx context.Context, ev upgrade.Event) error {
	if s.runID == uuid.Nil {
		return errNoRun
	}
	row := taskRowFor(ev)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO upgrade_tasks (run_id, controller_id, controller_name, task_id, status, errors, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, controller_id) DO UPDATE SET
			controller_name = EXCLUDED.controller_name,
			task_id = COALESCE(EXCLUDED.task_id, upgrade_tasks.task_id),
			status = EXCLUDED.status,
			errors = EXCLUDED.errors,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`, s.runID.String(), row.controllerID, row.controllerName, row.taskID, row.status, row.errors, row.err, row.updatedAt)
	if err != nil {
		return fmt.Errorf("upserting task %s: %w", ev.ControllerID, err)
	}
	return nil
}

// FinishRun stamps the outcome of the current run.
func (s *Store) FinishRun(ctx context.Context, outcome string) error {
	if s.runID == uuid.Nil {
		return errNoRun
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE upgrade_runs SET finished_at = NOW(), outcome = $2 WHERE id = $1
	`, s.runID.String(), outcome)
	return err
}

// Recent returns the latest runs, newest first, with per-run task counts.
func (s *Store) Recent(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT r.id::text, r.started_at, r.finished_at, r.server, r.target_version, r.mode,
			r.outdated_count, r.hostname, r.outcome,
			COUNT(t.controller_id) FILTER (WHERE t.task_id IS NOT NULL),
			COUNT(t.controller_id) FILTER (WHERE t.status = 'COMPLETED'),
			COUNT(t.controller_id) FILTER (WHERE t.status IN ('FAILED', 'SUBMISSION_FAILED'))
		FROM upgrade_runs r
		LEFT JOIN upgrade_tasks t ON t.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(
			&r.ID, &r.StartedAt, &r.FinishedAt, &r.Server, &r.TargetVersion, &r.Mode,
			&r.Outdated, &r.Hostname, &r.Outcome,
			&r.Tasks, &r.Completed, &r.Failed,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// OutcomeFor maps a run error to a stored outcome.
func OutcomeFor(err error) string {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, context.Canceled):
		return OutcomeAborted
	default:
		return OutcomeFailed
	}
}

type taskRow struct {
	controllerID   string
	controllerName string
	taskID         *int64
	status         string
	errors         []byte
	err            string
	updatedAt      time.Time
}

func taskRowFor(ev upgrade.Event) taskRow {
	row := taskRow{
		controllerID:   ev.ControllerID,
		controllerName: ev.ControllerName,
		status:         string(ev.Status),
		err:            ev.Error,
		updatedAt:      ev.At,
	}
	if ev.Kind == upgrade.EventSubmissionFailed {
		row.status = StatusSubmissionFailed
	} else {
		id := int64(ev.TaskID)
		row.taskID = &id
	}
	if len(ev.Errors) > 0 && json.Valid(ev.Errors) {
		row.errors = ev.Errors
	}
	if row.updatedAt.IsZero() {
		row.updatedAt = time.Now().UTC()
	}
	return row
}
