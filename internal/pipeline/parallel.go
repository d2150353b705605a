package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// chunks returns the shard length and shard count for splitting n items
// across at most workers contiguous shards. Every shard but the last holds
// ceil(n/workers) items.
func chunks(n, workers int) (size, count int) {
	if n <= 0 {
		return 0, 0
	}
	workers = min(max(workers, 1), n)
	size = (n + workers - 1) / workers
	count = (n + size - 1) / size
	return size, count
}

// ParallelFor runs fn over contiguous shards of [0, n) with at most workers
// goroutines. The first error cancels the remaining shards.
func ParallelFor(ctx context.Context, n, workers int, fn func(shard, start, end int) error) error {
	size, count := chunks(n, workers)
	if count == 0 {
		return nil
	}
	if count == 1 {
		return fn(0, 0, n)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(count)
	for shard := 0; shard < count; shard++ {
		start := shard * size
		end := min(start+size, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(shard, start, end)
		})
	}
	return g.Wait()
}
