package taskproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bgtask/internal/ledger"
)

const (
	// DefaultCancelTimeout bounds Cancel when the caller passes no explicit
	// preference of its own.
	DefaultCancelTimeout = 1 * time.Second

	// teardownTimeout bounds the implicit Cancel performed by Close.
	teardownTimeout = 100 * time.Millisecond

	// resultBuffer sizes the in-process decode buffer between the pipe
	// reader and Fetch. Once it fills, backpressure moves to the OS pipe
	// and ultimately blocks the worker's sender, which is why Cancel keeps
	// draining after raising the flag.
	resultBuffer = 256

	// drainPollInterval paces Cancel's bounded drain loop while waiting for
	// the worker to observe the flag.
	drainPollInterval = 5 * time.Millisecond
)

// options collects construction-time settings for a TaskProxy.
type options struct {
	logger  *slog.Logger
	logAddr string
	ledger  ledger.Ledger
}

// Option configures a TaskProxy at construction.
type Option func(*options)

// WithLogger sets the logger used by the proxy on the caller side.
// Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithLogForwarding makes the worker process discard whatever logging setup
// it inherits and push its log records to the collector listening at addr
// (see logger.Collector). This is a diagnostics side channel; the result
// protocol is unaffected.
func WithLogForwarding(addr string) Option {
	return func(o *options) { o.logAddr = addr }
}

// WithLedger records the task run's lifecycle transitions in l. Recording
// failures are logged and never affect the task itself.
func WithLedger(l ledger.Ledger) Option {
	return func(o *options) { o.ledger = l }
}

// TaskProxy supervises one background task: it owns the worker process
// handle, the receiving end of the result channel and the cancellation
// flag. The worker is spawned by New; callers observe progress by polling
// Fetch and stop the task with Cancel or Close.
//
// A TaskProxy is safe for concurrent use, though the intended pattern is a
// single polling loop.
type TaskProxy struct {
	id        uuid.UUID
	name      string
	generator string

	mu         sync.Mutex
	completed  bool
	canceled   bool
	failed     bool
	pendingErr error     // failure drained by Cancel, owed to the next Fetch
	cmd        *exec.Cmd // nil once the handle has been released

	flag     *cancelFlag
	msgs     chan envelope
	pipeR    *os.File
	waitDone chan struct{}

	logger *slog.Logger
	ledger ledger.Ledger
}

// New constructs a proxy for the registered generator generatorName and
// immediately spawns the worker process executing it. args is JSON-encoded
// and handed to the generator in the worker. Failures inside the generator
// never surface here; they arrive later through Fetch. New fails only when
// the task cannot be launched at all (unknown generator, unencodable args,
// or a spawn error).
func New(name, generatorName string, args any, opts ...Option) (*TaskProxy, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	// The worker re-resolves the generator itself, but checking here turns
	// a typo into a construction error instead of a failed task.
	if _, ok := lookup(generatorName); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, generatorName)
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode generator arguments: %w", err)
	}

	pipeR, pipeW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate result channel: %w", err)
	}

	flag, cancelR, err := newCancelFlag()
	if err != nil {
		_ = pipeR.Close()
		_ = pipeW.Close()
		return nil, err
	}

	exe, err := os.Executable()
	if err != nil {
		_ = pipeR.Close()
		_ = pipeW.Close()
		_ = cancelR.Close()
		flag.release()
		return nil, fmt.Errorf("failed to locate worker executable: %w", err)
	}

	id := uuid.New()
	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(),
		envWorkerMarker+"=1",
		envGeneratorKey+"="+generatorName,
		envTaskNameKey+"="+name,
	)
	if o.logAddr != "" {
		cmd.Env = append(cmd.Env, envLogAddrKey+"="+o.logAddr)
	}
	cmd.Stdin = bytes.NewReader(argsJSON)
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{pipeW, cancelR}

	if err := cmd.Start(); err != nil {
		_ = pipeR.Close()
		_ = pipeW.Close()
		_ = cancelR.Close()
		flag.release()
		return nil, fmt.Errorf("failed to spawn worker process: %w", err)
	}

	// The worker owns these ends now.
	_ = pipeW.Close()
	_ = cancelR.Close()

	p := &TaskProxy{
		id:        id,
		name:      name,
		generator: generatorName,
		cmd:       cmd,
		flag:      flag,
		msgs:      make(chan envelope, resultBuffer),
		pipeR:     pipeR,
		waitDone:  make(chan struct{}),
		logger: o.logger.With(
			"task_id", id,
			"task_name", name,
			"generator", generatorName,
		),
		ledger: o.ledger,
	}

	go func() {
		_ = cmd.Wait()
		close(p.waitDone)
	}()
	go p.readLoop()

	p.logger.Debug("worker process started", "pid", cmd.Process.Pid)
	p.recordStart()

	return p, nil
}

// readLoop decodes envelopes off the result pipe into the buffered message
// channel, preserving send order, and closes the channel when the pipe
// closes. A closed channel with no prior terminal envelope is how Fetch
// detects that the worker died without finishing the protocol.
func (p *TaskProxy) readLoop() {
	dec := json.NewDecoder(p.pipeR)
	for {
		var env envelope
		if err := dec.Decode(&env); err != nil {
			break
		}
		p.msgs <- env
	}
	close(p.msgs)
}

// ID returns the unique identifier of this task run.
func (p *TaskProxy) ID() uuid.UUID { return p.id }

// Name returns the human-readable task name passed to New.
func (p *TaskProxy) Name() string { return p.name }

// Completed reports whether the worker finished its stream normally.
// Never blocks. Completed and Canceled are mutually exclusive.
func (p *TaskProxy) Completed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// Canceled reports whether the task ended early, either because the worker
// observed the cancellation flag or because it died without sending a
// terminal message. Never blocks.
func (p *TaskProxy) Canceled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canceled
}

// Failed reports whether the worker's generator failed. Never blocks.
// Distinct from Completed and Canceled so a failure is not mistaken for
// either clean outcome; the error itself is delivered through Fetch.
func (p *TaskProxy) Failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// Fetch drains the results currently buffered on the channel and returns
// the produced items in the exact order the worker sent them. It never
// blocks waiting for new data; repeated calls are how the caller observes
// progress over time. Once a terminal message has been observed, Fetch
// returns immediately with no items.
//
// When the worker's generator failed, the call that drains the failure
// returns the items produced before it together with a *TaskError; later
// calls are no-ops. If Cancel drained the failure first, the next Fetch
// returns the *TaskError on its own — the error is surfaced to the caller
// exactly once either way.
func (p *TaskProxy) Fetch() ([]json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetchLocked()
}

func (p *TaskProxy) fetchLocked() ([]json.RawMessage, error) {
	if p.pendingErr != nil {
		// A failure drained by Cancel is still owed to the caller; deliver
		// it exactly once.
		err := p.pendingErr
		p.pendingErr = nil
		return nil, err
	}
	if p.completed || p.canceled || p.failed {
		return nil, nil
	}

	var items []json.RawMessage
	for {
		select {
		case env, ok := <-p.msgs:
			if !ok {
				// Worker exited without a terminal message: implicit
				// cancellation, not a failure.
				p.logger.Debug("result channel severed, treating task as canceled")
				p.canceled = true
				p.recordTerminal(ledger.StatusCanceled, "")
				return items, nil
			}
			switch env.Kind {
			case kindItem:
				items = append(items, env.Payload)
			case kindCompleted:
				p.completed = true
				p.recordTerminal(ledger.StatusCompleted, "")
				return items, nil
			case kindCancelled:
				p.canceled = true
				p.recordTerminal(ledger.StatusCanceled, "")
				return items, nil
			case kindFailed:
				p.failed = true
				p.recordTerminal(ledger.StatusFailed, env.Error)
				return items, &TaskError{TaskName: p.name, Message: env.Error}
			default:
				p.logger.Warn("dropping message of unknown kind", "kind", env.Kind)
			}
		default:
			// Nothing more is immediately available.
			return items, nil
		}
	}
}

// Cancel requests a cooperative stop and joins the worker process, bounded
// by timeout in total. If the task already reached a terminal state it only
// finishes the join. After raising the flag it keeps draining the channel
// until the worker reacts or the deadline passes; the drain exists because
// a worker blocked on a full pipe can never observe the flag. Exceeding the
// timeout is tolerated: the handle is released regardless and the worker
// may outlive the call.
func (p *TaskProxy) Cancel(timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	p.mu.Lock()
	terminal := p.completed || p.canceled || p.failed
	p.mu.Unlock()

	if !terminal {
		p.flag.Set()
		for {
			p.mu.Lock()
			// Items drained here are discarded; this loop only exists to
			// unblock the worker and observe its terminal message. A
			// failure consumed here must not be swallowed with them: it is
			// stashed and returned by the next Fetch.
			_, err := p.fetchLocked()
			if err != nil {
				p.pendingErr = err
				p.logger.Warn("generator failure observed while cancelling, surfacing on next fetch",
					"error", err)
			}
			terminal = p.completed || p.canceled || p.failed
			p.mu.Unlock()

			if terminal || !time.Now().Before(deadline) {
				break
			}
			time.Sleep(drainPollInterval)
		}
	}

	p.join(time.Until(deadline))
}

// join waits up to d for the worker process to exit, then releases the
// handle whether or not it did.
func (p *TaskProxy) join(d time.Duration) {
	p.mu.Lock()
	pending := p.cmd != nil
	p.mu.Unlock()
	if !pending {
		return
	}

	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.waitDone:
	case <-timer.C:
		p.logger.Warn("worker process did not exit before join timeout")
	}

	p.mu.Lock()
	p.cmd = nil
	p.mu.Unlock()
}

// Close tears the proxy down: it cancels the task with a short bounded
// timeout and releases the receiving end of the result channel, so neither
// the worker process nor the channel outlives the proxy's scope. Always
// returns nil and is safe to defer immediately after New.
func (p *TaskProxy) Close() error {
	p.Cancel(teardownTimeout)
	// Severing the read end unblocks the reader goroutine and gives a
	// still-running worker a broken pipe on its next send.
	_ = p.pipeR.Close()
	return nil
}

func (p *TaskProxy) recordStart() {
	if p.ledger == nil {
		return
	}
	run := &ledger.Run{
		ID:        p.id,
		Name:      p.name,
		Generator: p.generator,
		Status:    ledger.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := p.ledger.RecordStart(context.Background(), run); err != nil {
		p.logger.Error("failed to record task start in ledger", "error", err)
	}
}

func (p *TaskProxy) recordTerminal(status ledger.Status, errMsg string) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.RecordTerminal(context.Background(), p.id, status, errMsg); err != nil {
		p.logger.Error("failed to record terminal task status in ledger",
			"status", status,
			"error", err)
	}
}
