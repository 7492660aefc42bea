package runner

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Map runs fn over items with at most parallelism concurrent workers and
// streams results in completion order, not submission order. The returned
// channel closes once every worker has finished. Cancelling ctx stops
// dispatching new items; workers already running finish their item.
func Map[T, R any](ctx context.Context, parallelism int, items []T, fn func(context.Context, T) R) <-chan R {
	out := make(chan R)
	sem := semaphore.NewWeighted(int64(parallelism))

	go func() {
		defer close(out)

		var wg sync.WaitGroup
		for _, item := range items {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(item T) {
				defer wg.Done()
				defer sem.Release(1)
				out <- fn(ctx, item)
			}(item)
		}
		wg.Wait()
	}()

	return out
}
