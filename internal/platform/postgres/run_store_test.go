package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bgtask/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResult implements sql.Result with a fixed affected-row count.
type fakeResult struct {
	rows int64
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, driver.ErrSkip }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

// fakeDBTX records executed statements. Query methods are unused by the
// exec-path tests.
type fakeDBTX struct {
	queries []string
	args    [][]any
	rows    int64
	execErr error
}

func (f *fakeDBTX) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	if f.execErr != nil {
		return nil, f.execErr
	}
	return fakeResult{rows: f.rows}, nil
}

func (f *fakeDBTX) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	panic("not used in exec-path tests")
}

func (f *fakeDBTX) QueryRowContext(context.Context, string, ...any) *sql.Row {
	panic("not used in exec-path tests")
}

func TestRecordStartInsertsRun(t *testing.T) {
	db := &fakeDBTX{rows: 1}
	store := NewRunLedger(db)

	run := &ledger.Run{
		ID:        uuid.New(),
		Name:      "sampling",
		Generator: "gaussian-samples",
		Status:    ledger.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.RecordStart(context.Background(), run))

	require.Len(t, db.queries, 1)
	assert.True(t, strings.Contains(db.queries[0], "INSERT INTO task_runs"))
	require.Len(t, db.args[0], 6)
	assert.Equal(t, run.ID, db.args[0][0])
	assert.Equal(t, ledger.StatusRunning, db.args[0][3])
}

func TestRecordTerminalUpdatesRun(t *testing.T) {
	db := &fakeDBTX{rows: 1}
	store := NewRunLedger(db)

	id := uuid.New()
	err := store.RecordTerminal(context.Background(), id, ledger.StatusFailed, "boom")
	require.NoError(t, err)

	require.Len(t, db.queries, 1)
	assert.True(t, strings.Contains(db.queries[0], "UPDATE task_runs"))
	assert.Equal(t, ledger.StatusFailed, db.args[0][0])
	assert.Equal(t, "boom", db.args[0][1])
	assert.Equal(t, id, db.args[0][3])
}

func TestRecordTerminalUnknownRun(t *testing.T) {
	db := &fakeDBTX{rows: 0}
	store := NewRunLedger(db)

	err := store.RecordTerminal(context.Background(), uuid.New(), ledger.StatusCompleted, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrRunNotFound)
}
