// Package ledger persists the lifecycle of background task runs. Recording
// is optional and advisory: a proxy keeps working when its ledger fails,
// the ledger is never consulted to drive the task protocol.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the persisted state of a task run.
type Status string

// A run is recorded as running when its worker is spawned and transitions
// exactly once to one of the terminal statuses.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
)

// ErrRunNotFound is returned when no run exists for the requested ID.
var ErrRunNotFound = errors.New("task run not found")

// Run is one background task execution.
type Run struct {
	ID           uuid.UUID
	Name         string
	Generator    string
	Status       Status
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Ledger records task-run lifecycle transitions.
type Ledger interface {
	// RecordStart persists a new run in the running state.
	RecordStart(ctx context.Context, run *Run) error

	// RecordTerminal marks the run with its terminal status. errMsg is
	// empty except for failed runs.
	RecordTerminal(ctx context.Context, id uuid.UUID, status Status, errMsg string) error

	// GetRun retrieves a run by ID, or ErrRunNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
}

// DBTX abstracts the database access layer. It is implemented by both
// *sql.DB and *sql.Tx, so ledger operations can run standalone or inside a
// caller-managed transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
