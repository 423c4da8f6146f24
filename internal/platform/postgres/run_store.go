// Package postgres implements persistence interfaces against PostgreSQL,
// accessed through database/sql with the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bgtask/internal/ledger"
	"github.com/phrazzld/bgtask/internal/platform/logger"
)

// RunLedger implements ledger.Ledger using PostgreSQL.
type RunLedger struct {
	db ledger.DBTX
}

// NewRunLedger creates a RunLedger on the given connection or transaction.
func NewRunLedger(db ledger.DBTX) *RunLedger {
	return &RunLedger{db: db}
}

// WithTx returns a RunLedger bound to the provided transaction.
func (l *RunLedger) WithTx(tx *sql.Tx) *RunLedger {
	return &RunLedger{db: tx}
}

// RecordStart persists a new task run.
func (l *RunLedger) RecordStart(ctx context.Context, run *ledger.Run) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO task_runs (id, name, generator, status, error_message, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := l.db.ExecContext(ctx, query,
		run.ID,
		run.Name,
		run.Generator,
		run.Status,
		run.ErrorMessage,
		run.StartedAt,
	)
	if err != nil {
		log.Error("failed to record task run",
			"run_id", run.ID,
			"generator", run.Generator,
			"error", err)
		return fmt.Errorf("failed to record task run: %w", err)
	}

	return nil
}

// RecordTerminal marks the run with its terminal status and finish time.
func (l *RunLedger) RecordTerminal(
	ctx context.Context,
	id uuid.UUID,
	status ledger.Status,
	errMsg string,
) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE task_runs
		SET status = $1, error_message = $2, finished_at = $3
		WHERE id = $4
	`

	result, err := l.db.ExecContext(ctx, query,
		status,
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		log.Error("failed to update task run status",
			"run_id", id,
			"status", status,
			"error", err)
		return fmt.Errorf("failed to update task run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check task run update: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrRunNotFound, id)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (l *RunLedger) GetRun(ctx context.Context, id uuid.UUID) (*ledger.Run, error) {
	query := `
		SELECT id, name, generator, status, error_message, started_at, finished_at
		FROM task_runs
		WHERE id = $1
	`

	var (
		run      ledger.Run
		finished sql.NullTime
	)
	err := l.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Name,
		&run.Generator,
		&run.Status,
		&run.ErrorMessage,
		&run.StartedAt,
		&finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task run: %w", err)
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}

	return &run, nil
}
