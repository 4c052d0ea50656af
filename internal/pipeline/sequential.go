package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Sequence runs an ordered list of stages in series, threading a shared
// scope. The slot graph is validated when the sequence is built: every
// stage's declared inputs must be satisfied by the initial slots or by the
// output of an earlier stage.
type Sequence struct {
	name   string
	stages []Stage
	logger *slog.Logger
}

// NewSequence builds a sequence and eagerly validates its slot graph.
// initialSlots names the slots the caller will populate before Run.
// Returns *UnmetDependencyError naming the first unsatisfiable input.
func NewSequence(name string, initialSlots []string, stages ...Stage) (*Sequence, error) {
	available := make(map[string]struct{}, len(initialSlots))
	for _, slot := range initialSlots {
		available[slot] = struct{}{}
	}

	for _, stage := range stages {
		for _, input := range stage.Inputs() {
			if _, ok := available[input]; !ok {
				return nil, &UnmetDependencyError{Stage: stage.Name(), Slot: input}
			}
		}
		available[stage.Output()] = struct{}{}
	}

	return &Sequence{
		name:   name,
		stages: stages,
		logger: slog.Default().With("component", "pipeline", "sequence", name),
	}, nil
}

// Name implements Stage.
func (s *Sequence) Name() string { return s.name }

// Inputs implements Stage: a sequence requires whatever its first
// unsatisfied inputs are. Construction already proved the internal graph, so
// the external inputs are exactly those not produced by member stages.
func (s *Sequence) Inputs() []string {
	produced := make(map[string]struct{}, len(s.stages))
	var external []string
	seen := make(map[string]struct{})
	for _, stage := range s.stages {
		for _, input := range stage.Inputs() {
			if _, ok := produced[input]; ok {
				continue
			}
			if _, dup := seen[input]; dup {
				continue
			}
			seen[input] = struct{}{}
			external = append(external, input)
		}
		produced[stage.Output()] = struct{}{}
	}
	return external
}

// Output implements Stage: a sequence's output is its final stage's output.
func (s *Sequence) Output() string {
	if len(s.stages) == 0 {
		return ""
	}
	return s.stages[len(s.stages)-1].Output()
}

// Run executes each stage in order. Before a stage runs its inputs are
// re-checked against the live scope; after it returns its output slot must
// be populated. A stage failure aborts the remaining sequence — the caller
// receives the failure wrapped with the stage name, plus whatever scope
// state existed at that point. No partial payload is silently produced.
func (s *Sequence) Run(ctx context.Context, scope *Scope) error {
	for _, stage := range s.stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, input := range stage.Inputs() {
			if !scope.Has(input) {
				return &UnmetDependencyError{Stage: stage.Name(), Slot: input}
			}
		}

		start := time.Now()
		s.logger.Debug("stage starting", "stage", stage.Name(), "output", stage.Output())

		if err := stage.Run(ctx, scope); err != nil {
			s.logger.Error("stage failed",
				"stage", stage.Name(),
				"elapsed", time.Since(start),
				"slots", scope.Slots(),
				"error", err)
			return &StageError{Stage: stage.Name(), Err: err}
		}

		if !scope.Has(stage.Output()) {
			return &ContractViolationError{
				Stage:  stage.Name(),
				Reason: "completed without populating output slot " + stage.Output(),
			}
		}

		s.logger.Debug("stage complete", "stage", stage.Name(), "elapsed", time.Since(start))
	}
	return nil
}
