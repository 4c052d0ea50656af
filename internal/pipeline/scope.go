// Package pipeline implements the grading pipeline's orchestration core: a
// write-once slot store threaded between stages, a sequential executor with
// static dependency checking, and a loop executor that fans a body stage
// across an input sequence with per-item failure isolation.
package pipeline

import "sync"

// Scope is the shared run context: a mapping from named slots to values.
// A slot is written exactly once per run by the stage that owns it and read
// any number of times downstream. Concurrent reads are safe; the write-once
// invariant makes a single guard per store sufficient.
//
// Loop items run against child scopes so their writes never race on the
// parent; see Child.
type Scope struct {
	mu     sync.RWMutex
	slots  map[string]any
	parent *Scope
}

// NewScope creates an empty root scope.
func NewScope() *Scope {
	return &Scope{slots: make(map[string]any)}
}

// Child creates a scope that inherits every slot visible in this scope.
// Writes go to the child only; the parent is never mutated through a child.
func (s *Scope) Child() *Scope {
	return &Scope{slots: make(map[string]any), parent: s}
}

// Set populates a slot. Returns *DuplicateSlotError if the slot is already
// populated in this scope or any ancestor.
func (s *Scope) Set(slot string, value any) error {
	if s.parent != nil && s.parent.Has(slot) {
		return &DuplicateSlotError{Slot: slot}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[slot]; ok {
		return &DuplicateSlotError{Slot: slot}
	}
	s.slots[slot] = value
	return nil
}

// Get reads a slot, consulting ancestors when the slot is not local.
// Returns *MissingSlotError if no scope in the chain has it.
func (s *Scope) Get(slot string) (any, error) {
	s.mu.RLock()
	v, ok := s.slots[slot]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}
	if s.parent != nil {
		return s.parent.Get(slot)
	}
	return nil, &MissingSlotError{Slot: slot}
}

// Has reports whether the slot is populated in this scope or an ancestor.
// It is side-effect-free.
func (s *Scope) Has(slot string) bool {
	s.mu.RLock()
	_, ok := s.slots[slot]
	s.mu.RUnlock()
	if ok {
		return true
	}
	return s.parent != nil && s.parent.Has(slot)
}

// Slots returns the names of every populated slot visible from this scope.
// Used in failure reports to show the context state at the point of failure.
func (s *Scope) Slots() []string {
	seen := make(map[string]struct{})
	var names []string
	for sc := s; sc != nil; sc = sc.parent {
		sc.mu.RLock()
		for name := range sc.slots {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
		sc.mu.RUnlock()
	}
	return names
}
