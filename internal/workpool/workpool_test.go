package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapOrdersResultsByIndex(t *testing.T) {
	for _, workers := range []int{1, 3, 16} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			got, err := Map(context.Background(), workers, 20, func(_ context.Context, i int) (int, error) {
				// Later indices finish first.
				time.Sleep(time.Duration(20-i) * 100 * time.Microsecond)
				return i * i, nil
			})
			if err != nil {
				t.Fatalf("Map returned error: %v", err)
			}
			for i, v := range got {
				if v != i*i {
					t.Fatalf("result %d: got %d want %d", i, v, i*i)
				}
			}
		})
	}
}

func TestMapBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	_, err := Map(context.Background(), 3, 30, func(_ context.Context, i int) (struct{}, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("Map returned error: %v", err)
	}
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds 3", peak.Load())
	}
}

func TestMapStopsDispatchAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	var started atomic.Int32
	_, err := Map(context.Background(), 2, 100, func(ctx context.Context, i int) (int, error) {
		started.Add(1)
		if i == 3 {
			return 0, boom
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Millisecond):
		}
		return i, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if started.Load() >= 100 {
		t.Fatalf("queued tasks were started after failure: %d", started.Load())
	}
}

func TestMapReturnsLowestIndexError(t *testing.T) {
	release := make(chan struct{})
	_, err := Map(context.Background(), 2, 2, func(_ context.Context, i int) (int, error) {
		if i == 1 {
			defer close(release)
			return 0, fmt.Errorf("task %d", i)
		}
		<-release
		return 0, fmt.Errorf("task %d", i)
	})
	if err == nil || err.Error() != "task 0" {
		t.Fatalf("expected lowest-index error, got %v", err)
	}
}

func TestMapHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, workers := range []int{1, 4} {
		_, err := Map(ctx, workers, 10, func(context.Context, int) (int, error) {
			return 0, nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("workers=%d: expected context.Canceled, got %v", workers, err)
		}
	}
}

func TestMapRejectsZeroWorkers(t *testing.T) {
	if _, err := Map(context.Background(), 0, 1, func(context.Context, int) (int, error) { return 0, nil }); err == nil {
		t.Fatal("expected error for zero workers")
	}
}
