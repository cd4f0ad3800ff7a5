// Package batch runs per-record lookups with a bounded worker pool.
// Results land at the same index as their input, so report rows keep the
// fetch order and accumulator merges are deterministic regardless of
// worker count.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map processes items with up to workers goroutines and returns one result
// per item, in input order. The first error cancels remaining work;
// per-record recoverable failures belong inside process, not in its error.
func Map[T any, R any](ctx context.Context, items []T, workers int, process func(ctx context.Context, item T) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(normalizeWorkers(workers, len(items)))

	out := make([]R, len(items))
	for i := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			value, err := process(ctx, items[i])
			if err != nil {
				return err
			}
			out[i] = value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeWorkers(workers, itemCount int) int {
	if workers < 1 {
		workers = 1
	}
	if workers > itemCount {
		workers = itemCount
	}
	return workers
}
