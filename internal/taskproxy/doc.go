// Package taskproxy runs caller-supplied generators in dedicated worker
// processes and streams their results back incrementally. A TaskProxy owns
// the worker process, the receiving end of the result channel, and a shared
// cancellation flag; callers poll Fetch from their own loop to drain
// whatever the worker has produced so far, and Cancel requests a
// cooperative, bounded stop. Generators are registered by name because a
// function value cannot cross a process boundary; both the parent and the
// worker run the same binary, and the worker side is entered through
// IsWorker/RunWorker at the top of main.
package taskproxy
