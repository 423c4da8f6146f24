// Package monitor exposes a read-only HTTP surface over the set of live
// task proxies, for local diagnostics while tasks run in the background.
package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Task is the view of a background task the monitor needs. TaskProxy
// satisfies it.
type Task interface {
	ID() uuid.UUID
	Name() string
	Completed() bool
	Canceled() bool
	Failed() bool
}

// TaskState is the JSON representation of one tracked task. All three
// terminal flags are exposed so a failed task is distinguishable from one
// still running.
type TaskState struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Completed bool      `json:"completed"`
	Canceled  bool      `json:"canceled"`
	Failed    bool      `json:"failed"`
}

// Tracker holds the tasks currently visible to the monitor. Proxies are
// added after construction and may be removed once the caller is done
// with them; state is read live at request time.
type Tracker struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]Task
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{tasks: make(map[uuid.UUID]Task)}
}

// Add registers a task with the tracker.
func (t *Tracker) Add(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[task.ID()] = task
}

// Remove drops a task from the tracker.
func (t *Tracker) Remove(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, id)
}

// Get returns the tracked task with the given ID.
func (t *Tracker) Get(id uuid.UUID) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[id]
	return task, ok
}

// Snapshot returns the current state of every tracked task.
func (t *Tracker) Snapshot() []TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make([]TaskState, 0, len(t.tasks))
	for _, task := range t.tasks {
		states = append(states, stateOf(task))
	}
	return states
}

func stateOf(task Task) TaskState {
	return TaskState{
		ID:        task.ID(),
		Name:      task.Name(),
		Completed: task.Completed(),
		Canceled:  task.Canceled(),
		Failed:    task.Failed(),
	}
}

// Router builds the monitor's HTTP routes over the given tracker.
func Router(tracker *Tracker, log *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Get("/tasks", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, log, http.StatusOK, tracker.Snapshot())
	})

	r.Get("/tasks/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, err := uuid.Parse(chi.URLParam(req, "id"))
		if err != nil {
			respondJSON(w, log, http.StatusBadRequest,
				map[string]string{"error": "invalid task id"})
			return
		}

		task, ok := tracker.Get(id)
		if !ok {
			respondJSON(w, log, http.StatusNotFound,
				map[string]string{"error": "task not found"})
			return
		}
		respondJSON(w, log, http.StatusOK, stateOf(task))
	})

	return r
}

func respondJSON(w http.ResponseWriter, log *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("failed to encode monitor response", "error", err)
	}
}
