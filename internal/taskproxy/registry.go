package taskproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrEarlyCancellation is the internal early-cancellation signal. The yield
// function returns it once the cancellation flag has been set; generators
// must return it unchanged so the worker can report a cancelled (rather
// than failed) outcome.
var ErrEarlyCancellation = errors.New("task was cancelled")

// ErrUnknownGenerator is returned by New when no generator has been
// registered under the requested name.
var ErrUnknownGenerator = errors.New("unknown generator")

// Generator produces a sequence of items incrementally. It must call yield
// once per item and return nil when the sequence is exhausted. If yield
// returns an error the generator must stop and return that error unchanged.
// The context is cancelled when the caller requests cancellation, so
// long-running production steps can honor it between yields; the per-item
// cancellation check in yield is the guaranteed checkpoint either way.
//
// args is the JSON-encoded argument value the caller passed to New.
type Generator func(ctx context.Context, args json.RawMessage, yield func(v any) error) error

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Generator)
)

// Register makes a generator available under the given name. It must be
// called in both the parent and the worker process before any proxy is
// constructed or dispatched, which in practice means during program
// startup, before the IsWorker/RunWorker dispatch in main. Registering a
// duplicate or empty name panics, as with other process-wide registries.
func Register(name string, gen Generator) {
	if name == "" {
		panic("taskproxy: Register called with empty generator name")
	}
	if gen == nil {
		panic("taskproxy: Register called with nil generator")
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("taskproxy: generator %q registered twice", name))
	}
	registry[name] = gen
}

// lookup returns the generator registered under name, if any.
func lookup(name string) (Generator, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	gen, ok := registry[name]
	return gen, ok
}
