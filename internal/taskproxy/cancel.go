package taskproxy

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// cancelFlag is the caller-side end of the cross-process cancellation flag.
// The flag is a dedicated pipe: setting it writes a single byte and closes
// the write end, so the transition is monotonic (false to true, never back)
// and visible to the worker without polling shared memory. If the calling
// process dies without setting the flag, the closed pipe reads as EOF in
// the worker, which observes that as cancellation too.
type cancelFlag struct {
	w    *os.File
	once sync.Once
	set  atomic.Bool
}

// newCancelFlag allocates the flag and returns the read end destined for
// the worker process. The caller keeps the returned flag; the worker end
// must be handed to the spawned process and closed in the parent.
func newCancelFlag() (*cancelFlag, *os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to allocate cancellation flag: %w", err)
	}
	return &cancelFlag{w: w}, r, nil
}

// Set raises the flag. Safe to call multiple times; only the first call has
// an effect.
func (f *cancelFlag) Set() {
	f.once.Do(func() {
		f.set.Store(true)
		// A write makes the flag observable immediately; the close covers
		// workers that only notice EOF.
		_, _ = f.w.Write([]byte{1})
		_ = f.w.Close()
	})
}

// IsSet reports whether the flag has been raised by this process.
func (f *cancelFlag) IsSet() bool {
	return f.set.Load()
}

// release closes the write end without raising the flag's local state.
// Used on construction failures before a worker exists.
func (f *cancelFlag) release() {
	f.once.Do(func() {
		_ = f.w.Close()
	})
}

// watchCancelFlag is the worker-process side: it blocks on the flag pipe in
// a goroutine and, as soon as a byte arrives or the pipe closes, stores
// true into set and cancels the generator's context. The read end is closed
// afterwards.
func watchCancelFlag(r *os.File, set *atomic.Bool, cancel context.CancelFunc) {
	go func() {
		buf := make([]byte, 1)
		_, _ = r.Read(buf)
		set.Store(true)
		cancel()
		_ = r.Close()
	}()
}
