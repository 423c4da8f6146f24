package taskproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/phrazzld/bgtask/internal/platform/logger"
)

// Environment markers used to dispatch a spawned process into worker mode.
// The parent and worker run the same binary; main must check IsWorker and
// hand control to RunWorker before doing anything else.
const (
	envWorkerMarker = "BGTASK_WORKER"
	envGeneratorKey = "BGTASK_GENERATOR"
	envTaskNameKey  = "BGTASK_TASK_NAME"
	envLogAddrKey   = "BGTASK_LOG_ADDR"
)

// File descriptor slots the parent passes to the worker via ExtraFiles.
// fd 3 is the write end of the result channel, fd 4 the read end of the
// cancellation flag.
const (
	resultsFD = 3
	cancelFD  = 4
)

// IsWorker reports whether the current process was spawned as a task
// worker by a TaskProxy in a parent process.
func IsWorker() bool {
	return os.Getenv(envWorkerMarker) == "1"
}

// RunWorker executes the worker side of the task protocol and returns the
// process exit code. It drives the registered generator named in the
// environment, forwarding each produced item over the result channel and
// terminating the stream with exactly one sentinel: completed on normal
// exhaustion, cancelled when the cancellation flag was observed, failed on
// any other generator error. The result channel is closed on every path.
//
// Callers invoke it from main:
//
//	if taskproxy.IsWorker() {
//		os.Exit(taskproxy.RunWorker())
//	}
func RunWorker() int {
	results := os.NewFile(uintptr(resultsFD), "bgtask-results")
	cancelR := os.NewFile(uintptr(cancelFD), "bgtask-cancel")
	if results == nil || cancelR == nil {
		fmt.Fprintln(os.Stderr, "bgtask worker: result or cancellation descriptor missing")
		return 1
	}
	defer func() {
		_ = results.Close()
	}()

	// Logging handlers do not survive the process boundary; when the parent
	// supplied a log-collection address, install a fresh push handler as the
	// process default before the generator runs.
	if addr := os.Getenv(envLogAddrKey); addr != "" {
		if err := logger.SetupWorker(addr); err != nil {
			fmt.Fprintf(os.Stderr, "bgtask worker: log forwarding unavailable: %v\n", err)
		}
	}

	generatorName := os.Getenv(envGeneratorKey)
	log := slog.Default().With(
		"task_name", os.Getenv(envTaskNameKey),
		"generator", generatorName,
	)
	log.Debug("entering worker wrapper", "pid", os.Getpid())
	defer log.Debug("exiting worker wrapper")

	enc := json.NewEncoder(results)

	gen, ok := lookup(generatorName)
	if !ok {
		log.Error("generator not registered in worker process")
		_ = enc.Encode(envelope{
			Kind:  kindFailed,
			Error: fmt.Sprintf("generator %q not registered in worker process", generatorName),
		})
		return 1
	}

	args, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Error("failed to read generator arguments", "error", err)
		_ = enc.Encode(envelope{
			Kind:  kindFailed,
			Error: fmt.Sprintf("failed to read generator arguments: %v", err),
		})
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var flag atomic.Bool
	watchCancelFlag(cancelR, &flag, cancel)

	err = driveGenerator(ctx, gen, args, &flag, enc)
	switch {
	case err == nil:
		_ = enc.Encode(envelope{Kind: kindCompleted})
	case isCancellation(err, &flag):
		// Expected outcome, not an anomaly; no error-level log.
		_ = enc.Encode(envelope{Kind: kindCancelled})
	default:
		log.Error("generator failed", "error", err)
		_ = enc.Encode(envelope{Kind: kindFailed, Error: err.Error()})
	}
	return 0
}

// driveGenerator runs the generator in lock step with the result channel:
// the cancellation flag is checked once per produced item, then the item is
// sent before the next one is requested.
func driveGenerator(
	ctx context.Context,
	gen Generator,
	args []byte,
	flag *atomic.Bool,
	enc *json.Encoder,
) error {
	yield := func(v any) error {
		if flag.Load() {
			return ErrEarlyCancellation
		}

		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode item: %w", err)
		}
		if err := enc.Encode(envelope{Kind: kindItem, Payload: payload}); err != nil {
			return fmt.Errorf("failed to send item: %w", err)
		}
		return nil
	}

	return gen(ctx, args, yield)
}

// isCancellation classifies a generator error as the expected
// early-cancellation outcome. Generators that propagate their context error
// after the flag was raised count as cancelled too.
func isCancellation(err error, flag *atomic.Bool) bool {
	if errors.Is(err, ErrEarlyCancellation) {
		return true
	}
	return flag.Load() && errors.Is(err, context.Canceled)
}
