package pipeline

import "context"

// Capability is an operation a stage may invoke while it runs: a search, a
// code-execution check, a parser, or another stage. Stages implement
// Capability themselves, so composing a stage as a tool of another stage
// needs no special casing.
type Capability interface {
	// Name identifies the capability for error attribution and logging.
	Name() string

	// Invoke performs the operation. Input and output are small string-keyed
	// documents; each capability documents its required keys.
	Invoke(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Stage is a unit of pipeline work. It declares the slots it reads and the
// single slot it writes; the executors use the declarations to check the
// slot graph before anything runs and to verify the output contract after
// each stage returns.
type Stage interface {
	// Name identifies the stage in errors and logs.
	Name() string

	// Inputs lists the slots that must be populated before the stage runs.
	Inputs() []string

	// Output names the slot the stage populates.
	Output() string

	// Run executes the stage against the scope. On success the output slot
	// must be populated; the executor treats a missing output as a contract
	// violation attributed to this stage.
	Run(ctx context.Context, scope *Scope) error
}

// ExecFunc computes a stage's output value from the scope. The executor
// stores the returned value in the stage's output slot; returning a nil
// value without an error is a contract violation.
type ExecFunc func(ctx context.Context, scope *Scope) (any, error)

// Task is the basic Stage: a descriptor plus an ExecFunc. Composite stages
// (Loop) implement Stage directly.
type Task struct {
	name   string
	inputs []string
	output string
	exec   ExecFunc
	tools  []Capability
}

// TaskOption customizes a Task descriptor.
type TaskOption func(*Task)

// WithTools declares the capabilities the task may invoke while running.
func WithTools(tools ...Capability) TaskOption {
	return func(t *Task) { t.tools = tools }
}

// NewTask builds a Task from its descriptor parts. The descriptor is
// immutable after construction.
func NewTask(name string, inputs []string, output string, exec ExecFunc, opts ...TaskOption) *Task {
	t := &Task{name: name, inputs: inputs, output: output, exec: exec}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tools returns the task's declared capability references.
func (t *Task) Tools() []Capability { return t.tools }

// Name implements Stage.
func (t *Task) Name() string { return t.name }

// Inputs implements Stage.
func (t *Task) Inputs() []string { return t.inputs }

// Output implements Stage.
func (t *Task) Output() string { return t.output }

// Run implements Stage by evaluating the exec func and populating the
// output slot with its result.
func (t *Task) Run(ctx context.Context, scope *Scope) error {
	v, err := t.exec(ctx, scope)
	if err != nil {
		return err
	}
	if v == nil {
		return &ContractViolationError{Stage: t.name, Reason: "exec returned no output value"}
	}
	return scope.Set(t.output, v)
}

// Invoke implements Capability, letting a Task serve as a tool of another
// stage. The input document is bound into a child scope slot-by-slot, the
// task runs against it, and the populated output slot is returned.
func (t *Task) Invoke(ctx context.Context, input map[string]any) (map[string]any, error) {
	scope := NewScope()
	for slot, value := range input {
		if err := scope.Set(slot, value); err != nil {
			return nil, err
		}
	}
	for _, slot := range t.inputs {
		if !scope.Has(slot) {
			return nil, &UnmetDependencyError{Stage: t.name, Slot: slot}
		}
	}
	if err := t.Run(ctx, scope); err != nil {
		return nil, err
	}
	out, err := scope.Get(t.output)
	if err != nil {
		return nil, err
	}
	return map[string]any{t.output: out}, nil
}
