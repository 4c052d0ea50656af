package grading

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradr-ai/gradr/internal/configuration"
	"github.com/gradr-ai/gradr/internal/domain"
	"github.com/gradr-ai/gradr/internal/llm"
	"github.com/gradr-ai/gradr/internal/llm/transport"
	"github.com/gradr-ai/gradr/internal/pipeline"
	"github.com/gradr-ai/gradr/internal/retrieval"
	"github.com/gradr-ai/gradr/internal/summary"
	"github.com/gradr-ai/gradr/internal/tools"
)

type stubClient struct {
	content  string
	requests []*transport.Request
}

func (c *stubClient) Complete(_ context.Context, req *transport.Request) (*transport.Response, error) {
	c.requests = append(c.requests, req)
	return &transport.Response{Content: c.content, FinishReason: transport.FinishStop}, nil
}

func gradingBackend() configuration.StageBackend {
	return configuration.StageBackend{Provider: "google", Model: "gemini-2.5-flash"}
}

func gradingScope(t *testing.T, q domain.Question) *pipeline.Scope {
	t.Helper()

	scope := pipeline.NewScope()
	require.NoError(t, scope.Set(SlotQuestion, q))
	require.NoError(t, scope.Set(SlotRubric, domain.Rubric{
		Items:    []domain.RubricItem{{Label: "accuracy", Points: 3}, {Label: "clarity", Points: 2}},
		MaxScore: 5,
	}))
	require.NoError(t, scope.Set(summary.SlotSummary, domain.EvidenceSummary{
		ConsensusAnswer: "plants convert light to chemical energy",
		Bullets:         []string{"light dependent", "produces glucose"},
		Confidence:      0.9,
		Sources:         []string{"wikipedia.org"},
	}))
	require.NoError(t, scope.Set(retrieval.SlotEvidence, domain.EvidenceSet{
		QuestionHash: "abcd1234",
		Results: []domain.EvidenceItem{
			{Snippet: "photosynthesis converts light energy", Source: "wikipedia.org", Confidence: 0.9},
		},
		Timestamp: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}))
	return scope
}

func TestGradingStageParsesBackendGrade(t *testing.T) {
	t.Parallel()

	client := &stubClient{content: `{"question_id":"q1","score":4,"max_score":5,"justification":"Accuracy full, clarity partial.","confidence":0.85}`}
	stage := NewStage(client, gradingBackend(), llm.StructuredOptions{Repair: llm.DefaultRepairConfig()})

	scope := gradingScope(t, domain.Question{ID: "q1", Text: "What is photosynthesis?", StudentAnswer: "Plants make food from light."})
	require.NoError(t, stage.Run(context.Background(), scope))

	raw, err := scope.Get(SlotGraded)
	require.NoError(t, err)
	grade := raw.(domain.GradedQuestion)

	assert.Equal(t, "q1", grade.QuestionID)
	assert.InDelta(t, 4, grade.Score, 1e-9)
	assert.InDelta(t, 5, grade.MaxScore, 1e-9)
	assert.InDelta(t, 0.85, grade.Confidence, 1e-9)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, transport.OpGrading, req.Operation)
	assert.Equal(t, "gemini-2.5-flash", req.Model)
	assert.Contains(t, req.Prompt, "plants make food from light.", "prompt carries the normalized answer")
}

func TestGradingStageBlankAnswerSkipsBackend(t *testing.T) {
	t.Parallel()

	client := &stubClient{content: `ignored`}
	stage := NewStage(client, gradingBackend(), llm.StructuredOptions{})

	scope := gradingScope(t, domain.Question{ID: "q2", Text: "Define osmosis.", StudentAnswer: "  \n "})
	require.NoError(t, stage.Run(context.Background(), scope))

	raw, err := scope.Get(SlotGraded)
	require.NoError(t, err)
	grade := raw.(domain.GradedQuestion)

	assert.Zero(t, grade.Score)
	assert.InDelta(t, 5, grade.MaxScore, 1e-9)
	assert.InDelta(t, 0.7, grade.Confidence, 1e-9, "an ungraded answer never earns full confidence")
	assert.LessOrEqual(t, grade.Confidence, 0.7)
	assert.Empty(t, client.requests, "blank answers never reach the backend")
}

func TestGradingStageBreakdownOverridesMisaddedTotal(t *testing.T) {
	t.Parallel()

	// The model awarded 3 + 1.5 per item but reported 5 as the total.
	client := &stubClient{content: `{"question_id":"q1","score":5,"max_score":5,"justification":"x","confidence":0.8,"points_awarded":[3,1.5]}`}
	stage := NewStage(client, gradingBackend(), llm.StructuredOptions{})

	scope := gradingScope(t, domain.Question{ID: "q1", Text: "t", StudentAnswer: "an answer"})
	require.NoError(t, stage.Run(context.Background(), scope))

	raw, err := scope.Get(SlotGraded)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, raw.(domain.GradedQuestion).Score, 1e-9)
}

func TestGradingStageVerifiesBreakdownThroughCalculatorTool(t *testing.T) {
	t.Parallel()

	calls := 0
	calc := tools.NewFunc(tools.NameCalculate, func(_ context.Context, input map[string]any) (map[string]any, error) {
		calls++
		assert.Equal(t, "3 + 1.5", input["expression"])
		return map[string]any{"result": 4.5}, nil
	})

	client := &stubClient{content: `{"question_id":"q1","score":5,"max_score":5,"justification":"x","confidence":0.8,"points_awarded":[3,1.5]}`}
	stage := NewStage(client, gradingBackend(), llm.StructuredOptions{}, calc)

	scope := gradingScope(t, domain.Question{ID: "q1", Text: "t", StudentAnswer: "an answer"})
	require.NoError(t, stage.Run(context.Background(), scope))

	raw, err := scope.Get(SlotGraded)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, raw.(domain.GradedQuestion).Score, 1e-9)
	assert.Equal(t, 1, calls, "breakdown verification runs through the declared calculator")
}

func TestGradingStageNormalizesThroughDeclaredTool(t *testing.T) {
	t.Parallel()

	calls := 0
	normalize := tools.NewFunc(tools.NameNormalize, func(_ context.Context, input map[string]any) (map[string]any, error) {
		calls++
		assert.Equal(t, "Whatever Text", input["text"])
		return map[string]any{"normalized": ""}, nil
	})

	client := &stubClient{content: "ignored"}
	stage := NewStage(client, gradingBackend(), llm.StructuredOptions{}, normalize)

	scope := gradingScope(t, domain.Question{ID: "q1", Text: "t", StudentAnswer: "Whatever Text"})
	require.NoError(t, stage.Run(context.Background(), scope))

	raw, err := scope.Get(SlotGraded)
	require.NoError(t, err)
	assert.Zero(t, raw.(domain.GradedQuestion).Score, "the declared tool's normalization decides blankness")
	assert.Equal(t, 1, calls)
	assert.Empty(t, client.requests)
}

func TestGradingStageMalformedOutputIsFailure(t *testing.T) {
	t.Parallel()

	client := &stubClient{content: "three out of five, nice work"}
	stage := NewStage(client, gradingBackend(), llm.StructuredOptions{Repair: llm.DefaultRepairConfig()})

	scope := gradingScope(t, domain.Question{ID: "q1", Text: "t", StudentAnswer: "answer"})
	err := stage.Run(context.Background(), scope)
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrMalformedOutput)
	assert.False(t, scope.Has(SlotGraded))
}

func TestGradingStageDeclaresTools(t *testing.T) {
	t.Parallel()

	calc := pipeline.NewTask("calc", []string{"expression"}, "result",
		func(context.Context, *pipeline.Scope) (any, error) { return 1, nil })
	stage := NewStage(&stubClient{}, gradingBackend(), llm.StructuredOptions{}, calc)

	require.Len(t, stage.Tools(), 1)
	assert.Equal(t, "calc", stage.Tools()[0].Name())
	assert.ElementsMatch(t,
		[]string{SlotQuestion, SlotRubric, summary.SlotSummary, retrieval.SlotEvidence},
		stage.Inputs())
	assert.Equal(t, SlotGraded, stage.Output())
}
