// Package visibility decides which waiting threads an operator may see.
//
// Threads opened with an operator code carry a designated next agent. Such a
// thread is hidden from every other operator while it is queued, unless the
// viewer can view all threads and the filter is not enabled for supervisors.
package visibility

import (
	"context"

	"github.com/mattjoyce/threadgate/internal/thread"
)

// Config holds the filter options. It is fixed when the plugin is built.
type Config struct {
	// EnableForSupervisors also hides routed threads from operators that
	// hold thread.CanViewThreads.
	EnableForSupervisors bool `yaml:"enable_for_supervisors"`
}

// ThreadLoader loads the full record of a thread.
type ThreadLoader interface {
	Load(ctx context.Context, id int64) (*thread.Thread, error)
}

// LoadFailure records a queued thread whose record could not be loaded.
type LoadFailure struct {
	ThreadID int64
	Err      error
}

// Result is the outcome of one filter run.
type Result struct {
	Threads []thread.Summary
	Hidden  []int64
	Failed  []LoadFailure
	// Exempt is true when the operator bypassed filtering entirely.
	Exempt bool
}

// Exempt reports whether op sees the list unfiltered.
func Exempt(op *thread.Operator, cfg Config) bool {
	if op == nil {
		return true
	}
	return op.Can(thread.CanViewThreads) && !cfg.EnableForSupervisors
}

// Apply runs the filter and reports what it hid. The input slice is never
// modified; Result.Threads is a new, densely packed slice that keeps the input
// order. Queued threads whose record fails to load are kept.
func Apply(ctx context.Context, op *thread.Operator, cfg Config, threads []thread.Summary, loader ThreadLoader) Result {
	if Exempt(op, cfg) {
		return Result{Threads: threads, Exempt: true}
	}

	res := Result{Threads: make([]thread.Summary, 0, len(threads))}
	for _, s := range threads {
		if s.State != thread.StateQueue {
			res.Threads = append(res.Threads, s)
			continue
		}

		t, err := loader.Load(ctx, s.ID)
		if err != nil {
			res.Failed = append(res.Failed, LoadFailure{ThreadID: s.ID, Err: err})
			res.Threads = append(res.Threads, s)
			continue
		}
		if t.NextAgent != 0 && t.NextAgent != op.ID {
			res.Hidden = append(res.Hidden, s.ID)
			continue
		}
		res.Threads = append(res.Threads, s)
	}
	return res
}

// Filter returns the threads op may see.
func Filter(ctx context.Context, op *thread.Operator, cfg Config, threads []thread.Summary, loader ThreadLoader) []thread.Summary {
	return Apply(ctx, op, cfg, threads, loader).Threads
}
