package workpool

import (
	"context"
	"fmt"
)

type outcome[T any] struct {
	index int
	value T
	err   error
}

// Map calls fn for every index in [0, n) using at most workers goroutines and
// returns the results ordered by index, independent of completion order.
//
// The first failure cancels the context passed to running tasks and stops
// dispatch; tasks already running are drained. The returned error is the
// failure with the lowest index among those observed. With workers == 1 the
// tasks run in order on the calling goroutine.
func Map[T any](ctx context.Context, workers, n int, fn func(ctx context.Context, index int) (T, error)) ([]T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0, got %d", workers)
	}
	results := make([]T, n)
	if n == 0 {
		return results, nil
	}
	if workers == 1 {
		return results, serial(ctx, n, fn, results)
	}
	workers = min(workers, n)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workCh := make(chan int, workers)
	doneCh := make(chan outcome[T], workers)
	for range workers {
		go func() {
			for i := range workCh {
				v, err := fn(ctx, i)
				doneCh <- outcome[T]{index: i, value: v, err: err}
			}
		}()
	}
	defer close(workCh)

	var (
		next, inFlight int
		stopped        bool
		firstErr       error
		errIndex       = -1
	)
	for {
		for !stopped && inFlight < workers && next < n {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			workCh <- next
			next++
			inFlight++
		}
		if inFlight == 0 {
			break
		}
		out := <-doneCh
		inFlight--
		if out.err != nil {
			if errIndex < 0 || out.index < errIndex {
				errIndex, firstErr = out.index, out.err
			}
			stopped = true
			cancel()
			continue
		}
		results[out.index] = out.value
	}

	if firstErr != nil {
		return results, firstErr
	}
	if next < n {
		return results, ctx.Err()
	}
	return results, nil
}

func serial[T any](ctx context.Context, n int, fn func(context.Context, int) (T, error), results []T) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := fn(ctx, i)
		if err != nil {
			return err
		}
		results[i] = v
	}
	return nil
}
