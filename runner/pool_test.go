package runner

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDeliversAllResults(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	out := Map(context.Background(), 3, items, func(_ context.Context, n int) int {
		return n * 2
	})

	var got []int
	for r := range out {
		got = append(got, r)
	}
	sort.Ints(got)
	assert.Equal(t, []int{2, 4, 6, 8, 10, 12, 14, 16}, got)
}

func TestMapBoundsConcurrency(t *testing.T) {
	const parallelism = 2

	var active, peak atomic.Int32
	var mu sync.Mutex

	items := make([]int, 16)
	out := Map(context.Background(), parallelism, items, func(_ context.Context, n int) int {
		cur := active.Add(1)
		mu.Lock()
		if cur > peak.Load() {
			peak.Store(cur)
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return n
	})

	for range out {
	}
	assert.LessOrEqual(t, peak.Load(), int32(parallelism))
}

func TestMapYieldsInCompletionOrder(t *testing.T) {
	// The slow first item must not block results from faster items.
	items := []time.Duration{200 * time.Millisecond, time.Millisecond, time.Millisecond}
	out := Map(context.Background(), 3, items, func(_ context.Context, d time.Duration) time.Duration {
		time.Sleep(d)
		return d
	})

	first := <-out
	assert.Equal(t, time.Millisecond, first)
	for range out {
	}
}

func TestMapCancelStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int32
	items := make([]int, 64)
	out := Map(ctx, 1, items, func(_ context.Context, n int) int {
		started.Add(1)
		cancel()
		return n
	})

	var count int
	for range out {
		count++
	}
	require.Less(t, count, len(items))
	assert.Equal(t, int32(count), started.Load())
}
