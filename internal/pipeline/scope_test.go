package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeWriteOnce(t *testing.T) {
	t.Parallel()

	scope := NewScope()
	require.NoError(t, scope.Set("questions", []string{"q1"}))

	err := scope.Set("questions", []string{"q2"})
	require.Error(t, err)

	var dup *DuplicateSlotError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "questions", dup.Slot)

	// The original value survives the rejected write.
	v, err := scope.Get("questions")
	require.NoError(t, err)
	assert.Equal(t, []string{"q1"}, v)
}

func TestScopeMissingSlot(t *testing.T) {
	t.Parallel()

	scope := NewScope()
	_, err := scope.Get("absent")
	require.Error(t, err)

	var missing *MissingSlotError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "absent", missing.Slot)
	assert.False(t, scope.Has("absent"))
}

func TestScopeChildInheritsParentSlots(t *testing.T) {
	t.Parallel()

	parent := NewScope()
	require.NoError(t, parent.Set("rubric", "r"))

	child := parent.Child()
	v, err := child.Get("rubric")
	require.NoError(t, err)
	assert.Equal(t, "r", v)

	// Child writes stay local.
	require.NoError(t, child.Set("question", "q1"))
	assert.False(t, parent.Has("question"))
	assert.True(t, child.Has("question"))
}

func TestScopeChildCannotShadowParentSlot(t *testing.T) {
	t.Parallel()

	parent := NewScope()
	require.NoError(t, parent.Set("rubric", "r"))

	child := parent.Child()
	var dup *DuplicateSlotError
	require.ErrorAs(t, child.Set("rubric", "other"), &dup)
}

func TestScopeSiblingChildrenAreIndependent(t *testing.T) {
	t.Parallel()

	parent := NewScope()
	require.NoError(t, parent.Set("shared", 1))

	a := parent.Child()
	b := parent.Child()
	require.NoError(t, a.Set("question", "qa"))
	require.NoError(t, b.Set("question", "qb"))

	va, err := a.Get("question")
	require.NoError(t, err)
	vb, err := b.Get("question")
	require.NoError(t, err)
	assert.Equal(t, "qa", va)
	assert.Equal(t, "qb", vb)
}

func TestScopeConcurrentReadersAndWriters(t *testing.T) {
	t.Parallel()

	scope := NewScope()
	require.NoError(t, scope.Set("seed", 0))

	const n = 64
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = scope.Set(fmt.Sprintf("slot_%d", i), i)
			_, _ = scope.Get("seed")
			_ = scope.Has("seed")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}
	assert.Len(t, scope.Slots(), n+1)
}

func TestScopeConcurrentDuplicateWritesExactlyOneWins(t *testing.T) {
	t.Parallel()

	scope := NewScope()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = scope.Set("contested", i)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		var dup *DuplicateSlotError
		assert.True(t, errors.As(err, &dup))
	}
	assert.Equal(t, 1, winners)
}
