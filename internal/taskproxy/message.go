package taskproxy

import (
	"encoding/json"
	"fmt"
)

// messageKind tags an envelope on the result channel. Exactly one terminal
// kind (completed, cancelled or failed) is sent per task, always last.
type messageKind string

const (
	kindItem      messageKind = "item"
	kindCompleted messageKind = "completed"
	kindCancelled messageKind = "cancelled"
	kindFailed    messageKind = "failed"
)

// envelope is the wire format of the result channel: a stream of
// newline-delimited JSON objects written by the worker and decoded by the
// proxy. Item payloads are opaque to the protocol; the generator and its
// caller agree on their shape.
type envelope struct {
	Kind    messageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// TaskError is returned by Fetch when the worker's generator failed. It
// carries the error text reported from the worker process; the original
// error value does not survive the process boundary.
type TaskError struct {
	TaskName string
	Message  string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed: %s", e.TaskName, e.Message)
}

// DecodeItems decodes a batch of fetched items into typed values,
// preserving order. It fails on the first item that does not match T.
func DecodeItems[T any](items []json.RawMessage) ([]T, error) {
	decoded := make([]T, 0, len(items))
	for i, raw := range items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode item %d: %w", i, err)
		}
		decoded = append(decoded, v)
	}
	return decoded, nil
}
