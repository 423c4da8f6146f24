package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTask is a Task with directly settable state.
type fakeTask struct {
	id        uuid.UUID
	name      string
	completed bool
	canceled  bool
	failed    bool
}

func (f *fakeTask) ID() uuid.UUID   { return f.id }
func (f *fakeTask) Name() string    { return f.name }
func (f *fakeTask) Completed() bool { return f.completed }
func (f *fakeTask) Canceled() bool  { return f.canceled }
func (f *fakeTask) Failed() bool    { return f.failed }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTrackerAddRemoveSnapshot(t *testing.T) {
	tracker := NewTracker()
	task := &fakeTask{id: uuid.New(), name: "sampling"}

	tracker.Add(task)
	states := tracker.Snapshot()
	require.Len(t, states, 1)
	assert.Equal(t, task.id, states[0].ID)
	assert.Equal(t, "sampling", states[0].Name)

	tracker.Remove(task.id)
	assert.Empty(t, tracker.Snapshot())
}

func TestSnapshotReflectsLiveState(t *testing.T) {
	tracker := NewTracker()
	task := &fakeTask{id: uuid.New(), name: "sampling"}
	tracker.Add(task)

	assert.False(t, tracker.Snapshot()[0].Completed)

	task.completed = true
	assert.True(t, tracker.Snapshot()[0].Completed)
}

func TestSnapshotDistinguishesFailedFromRunning(t *testing.T) {
	tracker := NewTracker()
	task := &fakeTask{id: uuid.New(), name: "sampling"}
	tracker.Add(task)

	state := tracker.Snapshot()[0]
	assert.False(t, state.Failed)

	task.failed = true
	state = tracker.Snapshot()[0]
	assert.True(t, state.Failed)
	assert.False(t, state.Completed)
	assert.False(t, state.Canceled)
}

func TestRouterListsTasks(t *testing.T) {
	tracker := NewTracker()
	task := &fakeTask{id: uuid.New(), name: "sampling", canceled: true}
	tracker.Add(task)

	server := httptest.NewServer(Router(tracker, testLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/tasks")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var states []TaskState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&states))
	require.Len(t, states, 1)
	assert.Equal(t, task.id, states[0].ID)
	assert.True(t, states[0].Canceled)
}

func TestRouterGetsSingleTask(t *testing.T) {
	tracker := NewTracker()
	task := &fakeTask{id: uuid.New(), name: "sampling", completed: true}
	tracker.Add(task)

	server := httptest.NewServer(Router(tracker, testLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/tasks/" + task.id.String())
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state TaskState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, task.id, state.ID)
	assert.True(t, state.Completed)
}

func TestRouterRejectsBadAndUnknownIDs(t *testing.T) {
	server := httptest.NewServer(Router(NewTracker(), testLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/tasks/not-a-uuid")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(server.URL + "/tasks/" + uuid.NewString())
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
