package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuestions(t *testing.T) {
	t.Parallel()

	t.Run("numbered questions", func(t *testing.T) {
		t.Parallel()

		questions, err := ParseQuestions("Q1. What is photosynthesis?\nQ2. Define osmosis.\n")
		require.NoError(t, err)
		require.Len(t, questions, 2)

		assert.Equal(t, "q1", questions[0].ID)
		assert.Equal(t, "What is photosynthesis?", questions[0].Text)
		assert.Equal(t, "q2", questions[1].ID)
		assert.Equal(t, "Define osmosis.", questions[1].Text)
	})

	t.Run("alternate prefixes and blank lines", func(t *testing.T) {
		t.Parallel()

		questions, err := ParseQuestions("q1) First?\n\nQ2: Second?\n")
		require.NoError(t, err)
		require.Len(t, questions, 2)
		assert.Equal(t, "First?", questions[0].Text)
		assert.Equal(t, "Second?", questions[1].Text)
	})

	t.Run("continuation lines append to previous question", func(t *testing.T) {
		t.Parallel()

		questions, err := ParseQuestions("Q1. Explain the water cycle\nincluding evaporation and rainfall.\nQ2. Define osmosis.")
		require.NoError(t, err)
		require.Len(t, questions, 2)
		assert.Equal(t, "Explain the water cycle including evaporation and rainfall.", questions[0].Text)
	})

	t.Run("ids follow input order not source numbering", func(t *testing.T) {
		t.Parallel()

		questions, err := ParseQuestions("Q7. First in file.\nQ7. Duplicate number.")
		require.NoError(t, err)
		require.Len(t, questions, 2)
		assert.Equal(t, "q1", questions[0].ID)
		assert.Equal(t, "q2", questions[1].ID)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()

		_, err := ParseQuestions("  \n \n")
		assert.ErrorIs(t, err, ErrNoQuestions)
	})
}

func TestParseMarkingGuide(t *testing.T) {
	t.Parallel()

	t.Run("sums item allocations", func(t *testing.T) {
		t.Parallel()

		rubric, err := ParseMarkingGuide("Q1: Definition (2 marks), Example (1 mark)\nQ2: Explanation (3 marks)\n")
		require.NoError(t, err)
		require.Len(t, rubric.Items, 3)

		assert.Equal(t, "definition", rubric.Items[0].Label)
		assert.InDelta(t, 2, rubric.Items[0].Points, 1e-9)
		assert.Equal(t, "example", rubric.Items[1].Label)
		assert.InDelta(t, 1, rubric.Items[1].Points, 1e-9)
		assert.InDelta(t, 6, rubric.MaxScore, 1e-9)
	})

	t.Run("explicit max overrides sum", func(t *testing.T) {
		t.Parallel()

		rubric, err := ParseMarkingGuide("Accuracy (2 marks)\nClarity (1 mark)\nmax_score: 5\n")
		require.NoError(t, err)
		assert.InDelta(t, 5, rubric.MaxScore, 1e-9)
	})

	t.Run("fractional points", func(t *testing.T) {
		t.Parallel()

		rubric, err := ParseMarkingGuide("Working shown (1.5 marks)")
		require.NoError(t, err)
		require.Len(t, rubric.Items, 1)
		assert.InDelta(t, 1.5, rubric.Items[0].Points, 1e-9)
	})

	t.Run("no items", func(t *testing.T) {
		t.Parallel()

		_, err := ParseMarkingGuide("grade fairly please")
		assert.ErrorIs(t, err, ErrNoRubricItems)
	})
}

func TestParseCapabilities(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	out, err := ParseQuestionsCapability().Invoke(ctx, map[string]any{"text": "Q1. One?\nQ2. Two?"})
	require.NoError(t, err)
	assert.Equal(t, 2, out["count"])

	_, err = ParseQuestionsCapability().Invoke(ctx, map[string]any{})
	assert.Error(t, err)

	out, err = ParseMarkingGuideCapability().Invoke(ctx, map[string]any{"text": "Accuracy (3 marks)"})
	require.NoError(t, err)
	assert.Contains(t, out, "rubric")
}
