package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// squarer doubles as the loop body in most tests: it reads the bound item
// and a shared slot from the inherited scope.
func squarer(t *testing.T) *Task {
	t.Helper()
	return NewTask("square", []string{"item", "offset"}, "squared", func(_ context.Context, scope *Scope) (any, error) {
		item, err := scope.Get("item")
		if err != nil {
			return nil, err
		}
		offset, err := scope.Get("offset")
		if err != nil {
			return nil, err
		}
		n := item.(int)
		return n*n + offset.(int), nil
	})
}

func TestLoopRunPreservesOrderUnderConcurrency(t *testing.T) {
	t.Parallel()

	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	loop := NewLoop("squares", "items", "item", "results", squarer(t), WithWorkers(8))

	scope := NewScope()
	require.NoError(t, scope.Set("items", items))
	require.NoError(t, scope.Set("offset", 1))
	require.NoError(t, loop.Run(context.Background(), scope))

	raw, err := scope.Get("results")
	require.NoError(t, err)
	results := raw.([]LoopResult)
	require.Len(t, results, len(items), "one output entry per input item")

	for i, res := range results {
		require.False(t, res.Failed(), "item %d", i)
		assert.Equal(t, i, res.Index)
		assert.Equal(t, i*i+1, res.Value, "results are positional, not completion-ordered")
	}
}

func TestLoopRunIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	broken := errors.New("grader exhausted retries")
	body := NewTask("grade", []string{"item"}, "graded", func(_ context.Context, scope *Scope) (any, error) {
		item, err := scope.Get("item")
		if err != nil {
			return nil, err
		}
		if item.(int) == 1 {
			return nil, broken
		}
		return item.(int) * 10, nil
	})

	loop := NewLoop("grades", "items", "item", "results", body, WithWorkers(2))

	scope := NewScope()
	require.NoError(t, scope.Set("items", []int{0, 1, 2}))
	require.NoError(t, loop.Run(context.Background(), scope), "one failed item must not fail the loop")

	raw, err := scope.Get("results")
	require.NoError(t, err)
	results := raw.([]LoopResult)
	require.Len(t, results, 3)

	assert.Equal(t, 0, results[0].Value)
	assert.Equal(t, 20, results[2].Value)

	require.True(t, results[1].Failed())
	var itemErr *ItemError
	require.ErrorAs(t, results[1].Err, &itemErr)
	assert.Equal(t, 1, itemErr.Index)
	assert.ErrorIs(t, results[1].Err, broken)
}

func TestLoopRunEmptySequence(t *testing.T) {
	t.Parallel()

	loop := NewLoop("empty", "items", "item", "results", squarer(t))

	scope := NewScope()
	require.NoError(t, scope.Set("items", []int{}))
	require.NoError(t, scope.Set("offset", 0))
	require.NoError(t, loop.Run(context.Background(), scope))

	raw, err := scope.Get("results")
	require.NoError(t, err)
	assert.Empty(t, raw.([]LoopResult))
}

func TestLoopRunNonSequenceItemsSlot(t *testing.T) {
	t.Parallel()

	loop := NewLoop("bad", "items", "item", "results", squarer(t))

	scope := NewScope()
	require.NoError(t, scope.Set("items", "not a slice"))

	err := loop.Run(context.Background(), scope)
	var violation *ContractViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "bad", violation.Stage)
}

func TestLoopRunWorkerBoundRespected(t *testing.T) {
	t.Parallel()

	const workers = 3
	var active, peak atomic.Int64

	body := NewTask("count", []string{"item"}, "out", func(_ context.Context, scope *Scope) (any, error) {
		cur := active.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		defer active.Add(-1)
		if _, err := scope.Get("item"); err != nil {
			return nil, err
		}
		return "done", nil
	})

	loop := NewLoop("bounded", "items", "item", "results", body, WithWorkers(workers))

	scope := NewScope()
	require.NoError(t, scope.Set("items", make([]int, 32)))
	require.NoError(t, loop.Run(context.Background(), scope))

	assert.LessOrEqual(t, peak.Load(), int64(workers))
}

func TestLoopRunItemsDoNotWriteParentScope(t *testing.T) {
	t.Parallel()

	body := NewTask("writer", []string{"item"}, "out", func(_ context.Context, scope *Scope) (any, error) {
		item, err := scope.Get("item")
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("v%d", item.(int)), nil
	})
	loop := NewLoop("l", "items", "item", "results", body, WithWorkers(4))

	scope := NewScope()
	require.NoError(t, scope.Set("items", []int{0, 1, 2, 3}))
	require.NoError(t, loop.Run(context.Background(), scope))

	// Item bindings and body outputs stay in the per-item child scopes.
	assert.False(t, scope.Has("item"))
	assert.False(t, scope.Has("out"))
	assert.True(t, scope.Has("results"))
}

func TestLoopRunCancellationDiscardsPartials(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 1)
	body := NewTask("slow", []string{"item"}, "out", func(ctx context.Context, scope *Scope) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	loop := NewLoop("l", "items", "item", "results", body, WithWorkers(1))

	scope := NewScope()
	require.NoError(t, scope.Set("items", []int{0, 1, 2}))

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, scope) }()

	<-started
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, scope.Has("results"))
}

func TestLoopRunCancellationBestEffortKeepsPartials(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	var completed atomic.Int64
	body := NewTask("once", []string{"item"}, "out", func(ctx context.Context, scope *Scope) (any, error) {
		item, err := scope.Get("item")
		if err != nil {
			return nil, err
		}
		if item.(int) == 0 {
			completed.Add(1)
			cancel()
			return "first", nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	loop := NewLoop("l", "items", "item", "results", body, WithWorkers(1), WithBestEffortPartials())

	scope := NewScope()
	require.NoError(t, scope.Set("items", []int{0, 1, 2}))
	require.NoError(t, loop.Run(ctx, scope))

	raw, err := scope.Get("results")
	require.NoError(t, err)
	results := raw.([]LoopResult)
	require.Len(t, results, 3, "best-effort output still has one entry per item")

	assert.Equal(t, "first", results[0].Value)
	for _, res := range results[1:] {
		assert.True(t, res.Failed())
	}
}

func TestLoopInputsSubtractItemBinding(t *testing.T) {
	t.Parallel()

	loop := NewLoop("l", "items", "item", "results", squarer(t))
	assert.ElementsMatch(t, []string{"items", "offset"}, loop.Inputs())
	assert.Equal(t, "results", loop.Output())
}
