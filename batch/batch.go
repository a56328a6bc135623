// Package batch runs collections of tasks with a bounded concurrency
// window.
//
// Items are processed in consecutive windows of at most Concurrency tasks.
// All tasks in a window launch together and the whole window settles before
// the next one starts, so peak concurrency is bounded exactly, not just on
// average. One item's failure never aborts its siblings or later windows:
// it is recorded in that item's outcome slot, and callers inspect the
// returned [Summary] to decide whether partial failure is an error at all.
package batch

import (
	"context"
	"fmt"
	"sync"
)

// DefaultConcurrency is the window size used when Options.Concurrency is
// zero or less.
const DefaultConcurrency = 5

// Outcome is the per-item result of a batch run, aligned to input order.
type Outcome[R any] struct {
	Index int
	Value R
	Err   error
}

// Summary aggregates a completed batch run.
type Summary struct {
	Total         int
	Succeeded     int
	Failed        int
	FailedIndices []int
}

// Err returns a single error describing all failed items, or nil when every
// item succeeded. Run itself never fails because of item failures; this
// exists for callers who want partial failure to be a hard error.
func (s Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	return fmt.Errorf("batch: %d of %d items failed (indices %v)", s.Failed, s.Total, s.FailedIndices)
}

// Options configures a batch run.
type Options struct {
	// Concurrency is the window size. Defaults to DefaultConcurrency.
	Concurrency int
	// OnProgress is invoked after each item settles with a monotonically
	// increasing completed count out of the fixed total.
	OnProgress func(completed, total int)
	// OnError is invoked for each failed item with its input index.
	OnError func(index int, err error)
}

// Worker processes one item.
type Worker[T, R any] func(ctx context.Context, item T) (R, error)

// Run processes items through worker and returns one outcome per item, in
// input order regardless of completion order. If ctx is cancelled, items in
// windows that have not started yet fail with the context error.
func Run[T, R any](ctx context.Context, items []T, worker Worker[T, R], opts Options) ([]Outcome[R], Summary) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	total := len(items)
	outcomes := make([]Outcome[R], total)
	var mu sync.Mutex
	completed := 0

	// Callbacks run under the lock so they are serialized: callers do not
	// need their own synchronization, and progress counts stay monotonic.
	settle := func(index int, value R, err error) {
		mu.Lock()
		defer mu.Unlock()
		outcomes[index] = Outcome[R]{Index: index, Value: value, Err: err}
		completed++
		if err != nil && opts.OnError != nil {
			opts.OnError(index, err)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(completed, total)
		}
	}

	for windowStart := 0; windowStart < total; windowStart += concurrency {
		if err := ctx.Err(); err != nil {
			// Mark everything that has not started yet.
			for i := windowStart; i < total; i++ {
				var zero R
				settle(i, zero, err)
			}
			break
		}
		windowEnd := min(windowStart+concurrency, total)
		var wg sync.WaitGroup
		for i := windowStart; i < windowEnd; i++ {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				value, err := worker(ctx, items[index])
				settle(index, value, err)
			}(i)
		}
		wg.Wait()
	}

	summary := Summary{Total: total}
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			summary.Failed++
			summary.FailedIndices = append(summary.FailedIndices, outcome.Index)
		} else {
			summary.Succeeded++
		}
	}
	return outcomes, summary
}
