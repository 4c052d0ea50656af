package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	t.Parallel()

	env, err := New(TypeItemFailed, "workflow", "exam-001", "run-abc", map[string]any{"question_id": "q2"})
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, TypeItemFailed, env.Type)
	assert.Equal(t, "workflow", env.Source)
	assert.Equal(t, SchemaVersion, env.Version)
	assert.False(t, env.Timestamp.IsZero())
	assert.Equal(t, "exam-001", env.ExamID)
	assert.Equal(t, "run-abc", env.RunID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "q2", payload["question_id"])
}

func TestNewEnvelopeNilPayload(t *testing.T) {
	t.Parallel()

	env, err := New(TypeRunStarted, "workflow", "e", "r", nil)
	require.NoError(t, err)
	assert.Nil(t, env.Payload)
}

func TestNewEnvelopeUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	_, err := New(TypeRunStarted, "workflow", "e", "r", make(chan int))
	assert.Error(t, err)
}

func TestEnvelopeIDsAreUnique(t *testing.T) {
	t.Parallel()

	a, err := New(TypeRunStarted, "workflow", "e", "r", nil)
	require.NoError(t, err)
	b, err := New(TypeRunStarted, "workflow", "e", "r", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}
