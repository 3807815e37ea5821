// Package batch walks large collections in fixed-size chunks with
// bounded concurrency. It exists to avoid two failure modes when a
// dataset carries hundreds of thousands of records: exhausting memory
// or the call stack by traversing the whole collection at once, and
// overwhelming downstream services with unbounded concurrent calls.
//
// Chunk boundaries are the engine's single sanctioned yield point:
// cancellation and progress reporting both happen there, never inside
// a chunk.
package batch

import (
	"context"
	"fmt"
	"sync"
)

// Worker processes one item. Failures are recorded per item and do not
// abort the batch, except for resource exhaustion.
type Worker[T, R any] func(ctx context.Context, item T) (R, error)

// Failure records one item whose worker invocation failed.
type Failure[T any] struct {
	Item T
	Err  error
}

// Result aggregates a batch run. Every input item appears in exactly
// one of the two slices, in input order.
type Result[T, R any] struct {
	Successes []R
	Failures  []Failure[T]
}

// Total returns the number of items accounted for.
func (r Result[T, R]) Total() int {
	return len(r.Successes) + len(r.Failures)
}

// ProgressFunc receives cumulative counts after each chunk drains.
type ProgressFunc func(processed, total int)

// Option configures a Process call.
type Option func(*options)

type options struct {
	progress ProgressFunc
}

// WithProgress registers a callback invoked after each chunk.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// Process splits items into consecutive chunks of at most chunkSize and
// runs each chunk as a bounded-concurrency group: up to chunkSize
// worker invocations run concurrently, and chunk N+1 never starts
// before chunk N fully drains. Chunk size is a per-call-site choice:
// pure transformation loops take large chunks, operations that call
// external services take small ones.
//
// Cancellation is cooperative and checked only between chunks; an
// in-flight worker invocation is never interrupted. On cancellation the
// partial result is returned together with ctx.Err().
//
// A worker panic that names memory or allocation exhaustion stops the
// run at the chunk boundary: the partial result is returned together
// with a ResourceExhaustedError, so the caller sees the chunk-size
// defect instead of a quietly shrunk success list. Any other panic is
// recorded as that item's failure.
func Process[T, R any](ctx context.Context, items []T, chunkSize int, worker Worker[T, R], opts ...Option) (Result[T, R], error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if chunkSize < 1 {
		chunkSize = 1
	}

	result := Result[T, R]{}
	total := len(items)

	type outcome struct {
		value R
		err   error
	}

	for start := 0; start < total; start += chunkSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := start + chunkSize
		if end > total {
			end = total
		}
		chunk := items[start:end]
		outcomes := make([]outcome, len(chunk))

		var wg sync.WaitGroup
		for i := range chunk {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						cause := fmt.Errorf("worker panic: %v", r)
						if exhaustedPanic(r) {
							outcomes[i].err = &ResourceExhaustedError{Cause: cause}
						} else {
							outcomes[i].err = cause
						}
					}
				}()
				outcomes[i].value, outcomes[i].err = worker(ctx, chunk[i])
			}(i)
		}
		wg.Wait()

		// Outcomes are folded in input order so result ordering is
		// deterministic even though workers finish in any order.
		var exhausted error
		for i, out := range outcomes {
			if out.err != nil {
				result.Failures = append(result.Failures, Failure[T]{Item: chunk[i], Err: out.err})
				if exhausted == nil && IsResourceExhausted(out.err) {
					exhausted = out.err
				}
			} else {
				result.Successes = append(result.Successes, out.value)
			}
		}

		if o.progress != nil {
			o.progress(end, total)
		}

		if exhausted != nil {
			return result, exhausted
		}
	}

	return result, nil
}
