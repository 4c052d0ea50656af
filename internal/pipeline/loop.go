package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
)

// DefaultLoopWorkers bounds concurrent loop items when no explicit worker
// count is configured.
const DefaultLoopWorkers = 4

// LoopResult is one entry of a loop's output sequence. Exactly one of Value
// or Err is set. Entries are positionally aligned to the input sequence:
// Results[i] always corresponds to items[i], never matched by content.
type LoopResult struct {
	// Index is the item's position in the input sequence.
	Index int `json:"index"`

	// Value is the body stage's output for this item, nil when Err is set.
	Value any `json:"value,omitempty"`

	// Err records the item's terminal failure after its own retries were
	// exhausted. The loop still completes; the error is isolated here.
	Err *ItemError `json:"-"`
}

// Failed reports whether this entry records an isolated item failure.
func (r LoopResult) Failed() bool { return r.Err != nil }

// Loop is a composite Stage that invokes a body stage once per element of an
// input sequence slot, collecting outputs into an output sequence slot of
// equal length and matching order.
//
// Each invocation runs against a child scope that inherits every slot
// visible to the loop, with the current element bound to the body's item
// slot. Items never write to the parent scope, so item invocations are
// independent and run concurrently up to the worker bound. Completion order
// is unconstrained; the output sequence is reassembled in input order.
type Loop struct {
	name      string
	itemsSlot string
	itemSlot  string
	output    string
	body      Stage
	workers   int

	// bestEffort keeps results gathered before a cancellation instead of
	// discarding them. Off unless the caller explicitly asks for partials.
	bestEffort bool

	logger *slog.Logger
}

// LoopOption customizes loop behavior.
type LoopOption func(*Loop)

// WithWorkers bounds concurrent item invocations. Values below 1 fall back
// to serial execution.
func WithWorkers(n int) LoopOption {
	return func(l *Loop) {
		if n < 1 {
			n = 1
		}
		l.workers = n
	}
}

// WithBestEffortPartials returns results collected before a cancellation
// instead of discarding partial loop output.
func WithBestEffortPartials() LoopOption {
	return func(l *Loop) { l.bestEffort = true }
}

// NewLoop builds a loop stage. itemsSlot names the input sequence slot,
// itemSlot the slot each invocation binds the current element to, and
// output the slot receiving the []LoopResult.
func NewLoop(name, itemsSlot, itemSlot, output string, body Stage, opts ...LoopOption) *Loop {
	l := &Loop{
		name:      name,
		itemsSlot: itemsSlot,
		itemSlot:  itemSlot,
		output:    output,
		body:      body,
		workers:   DefaultLoopWorkers,
		logger:    slog.Default().With("component", "pipeline", "loop", name),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements Stage.
func (l *Loop) Name() string { return l.name }

// Inputs implements Stage: the loop needs its items slot plus every body
// input that is not the item binding (those are inherited from the parent).
func (l *Loop) Inputs() []string {
	inputs := []string{l.itemsSlot}
	for _, in := range l.body.Inputs() {
		if in != l.itemSlot {
			inputs = append(inputs, in)
		}
	}
	return inputs
}

// Output implements Stage.
func (l *Loop) Output() string { return l.output }

// Run fans the body stage across the input sequence and stores the ordered
// []LoopResult in the output slot. A single item's failure is recorded at
// its position; only cancellation or a non-sequence items slot aborts the
// loop itself.
func (l *Loop) Run(ctx context.Context, scope *Scope) error {
	raw, err := scope.Get(l.itemsSlot)
	if err != nil {
		return err
	}

	items, err := sequenceValues(raw)
	if err != nil {
		return &ContractViolationError{
			Stage:  l.name,
			Reason: fmt.Sprintf("items slot %q: %v", l.itemsSlot, err),
		}
	}

	results := make([]LoopResult, len(items))

	var wg sync.WaitGroup
	sem := make(chan struct{}, l.workers)

	cancelled := false
	for i, item := range items {
		// Stop scheduling once the run is cancelled; in-flight items finish
		// and their results are discarded below unless best-effort.
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(index int, item any) {
			defer wg.Done()
			defer func() { <-sem }()
			results[index] = l.runItem(ctx, scope, index, item)
		}(i, item)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil || cancelled {
		if !l.bestEffort {
			return context.Cause(ctx)
		}
		// Unstarted positions become explicit item errors so the output
		// still has one entry per input item.
		for i := range results {
			if results[i].Value == nil && results[i].Err == nil {
				results[i] = LoopResult{Index: i, Err: &ItemError{Index: i, Err: context.Cause(ctx)}}
			}
		}
	}

	return scope.Set(l.output, results)
}

// runItem invokes the body against a child scope with the current element
// bound, converting any failure into the item's LoopResult entry.
func (l *Loop) runItem(ctx context.Context, parent *Scope, index int, item any) LoopResult {
	child := parent.Child()
	if err := child.Set(l.itemSlot, item); err != nil {
		return LoopResult{Index: index, Err: &ItemError{Index: index, Err: err}}
	}

	if err := l.body.Run(ctx, child); err != nil {
		l.logger.Warn("loop item failed", "index", index, "error", err)
		return LoopResult{Index: index, Err: &ItemError{Index: index, Err: err}}
	}

	out, err := child.Get(l.body.Output())
	if err != nil {
		violation := &ContractViolationError{
			Stage:  l.body.Name(),
			Reason: "completed without populating output slot " + l.body.Output(),
		}
		return LoopResult{Index: index, Err: &ItemError{Index: index, Err: violation}}
	}

	return LoopResult{Index: index, Value: out}
}

// sequenceValues flattens any slice value into []any so loop bodies do not
// care about the sequence's static element type.
func sequenceValues(raw any) ([]any, error) {
	if items, ok := raw.([]any); ok {
		return items, nil
	}
	v := reflect.ValueOf(raw)
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected a sequence, got %T", raw)
	}
	items := make([]any, v.Len())
	for i := range items {
		items[i] = v.Index(i).Interface()
	}
	return items, nil
}
