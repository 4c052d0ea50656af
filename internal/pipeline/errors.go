package pipeline

import "fmt"

// DuplicateSlotError reports a second write to an already-populated slot.
// Slots are write-once per run; a duplicate write is a programming error in
// the pipeline definition, never a recoverable runtime condition.
type DuplicateSlotError struct {
	Slot string
}

func (e *DuplicateSlotError) Error() string {
	return fmt.Sprintf("slot %q already populated", e.Slot)
}

// MissingSlotError reports a read of a slot no stage has populated.
type MissingSlotError struct {
	Slot string
}

func (e *MissingSlotError) Error() string {
	return fmt.Sprintf("slot %q not populated", e.Slot)
}

// UnmetDependencyError reports a stage whose declared input slot cannot be
// satisfied. The slot graph is static, so this is detected when the sequence
// is built, before anything runs.
type UnmetDependencyError struct {
	Stage string
	Slot  string
}

func (e *UnmetDependencyError) Error() string {
	return fmt.Sprintf("stage %q requires slot %q, which no earlier stage produces", e.Stage, e.Slot)
}

// ContractViolationError reports a stage that broke its output contract:
// either it completed without populating its declared output slot, or its
// structured output failed to parse against the declared shape. Contract
// violations are never retried; retrying does not reliably fix a
// structurally malformed response.
type ContractViolationError struct {
	Stage  string
	Reason string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("stage %q violated its output contract: %s", e.Stage, e.Reason)
}

// StageError wraps a stage's terminal failure with the stage name so the
// pipeline caller learns which stage failed and why.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ItemError records the isolated failure of a single loop item. It is stored
// at the item's position in the loop output rather than aborting the loop,
// so one malformed question cannot prevent grading the rest.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("loop item %d failed: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }
