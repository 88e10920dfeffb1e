// Package parallel provides bounded-concurrency helpers for fanning work
// out over slices, bounding operations in time, retrying transient
// failures, and scoping resource cleanup.
//
// The helpers are generic and context-aware. All of them stop early when
// the context is cancelled and return the context's error.
package parallel

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Map applies fn to every item with at most workers goroutines in flight
// and returns the results in input order.
//
// The input is processed in chunks of size workers: every item in a chunk
// runs concurrently, and a chunk fully joins before the next one starts.
// Failure is all-or-nothing: the first error cancels the remaining work and
// is returned with no partial results.
func Map[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return []R{}, nil
	}
	if workers <= 0 {
		workers = 1
	}

	results := make([]R, len(items))
	for start := 0; start < len(items); start += workers {
		end := min(start+workers, len(items))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				result, err := fn(gctx, items[i])
				if err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
				results[i] = result
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// MapSemaphore applies fn to every item with at most workers in flight at
// once and returns the results in input order.
//
// Unlike Map, items are admitted individually in submission order rather
// than pre-partitioned into chunks, so a slow item delays only its own slot.
// Failure remains all-or-nothing.
func MapSemaphore[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return []R{}, nil
	}
	if workers <= 0 {
		workers = 1
	}

	results := make([]R, len(items))
	sem := semaphore.NewWeighted(int64(workers))

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			result, err := fn(gctx, item)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The group context is cancelled once Wait returns, so only the
	// caller's context tells us whether the batch was interrupted.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
