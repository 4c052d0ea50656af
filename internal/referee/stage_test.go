package referee

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradr-ai/gradr/internal/configuration"
	"github.com/gradr-ai/gradr/internal/domain"
	"github.com/gradr-ai/gradr/internal/grading"
	"github.com/gradr-ai/gradr/internal/llm"
	"github.com/gradr-ai/gradr/internal/llm/transport"
	"github.com/gradr-ai/gradr/internal/pipeline"
	"github.com/gradr-ai/gradr/internal/retrieval"
	"github.com/gradr-ai/gradr/internal/summary"
)

type stubClient struct {
	content  string
	requests []*transport.Request
}

func (c *stubClient) Complete(_ context.Context, req *transport.Request) (*transport.Response, error) {
	c.requests = append(c.requests, req)
	return &transport.Response{Content: c.content, FinishReason: transport.FinishStop}, nil
}

func refereeBackend() configuration.StageBackend {
	return configuration.StageBackend{Provider: "google", Model: "gemini-2.5-flash"}
}

func refereeScope(t *testing.T, results []pipeline.LoopResult) *pipeline.Scope {
	t.Helper()

	scope := pipeline.NewScope()
	require.NoError(t, scope.Set(SlotGradedQuestions, results))
	require.NoError(t, scope.Set(retrieval.SlotQuestions, []domain.Question{
		{ID: "q1", Text: "What is photosynthesis?", StudentAnswer: "plants make food"},
		{ID: "q2", Text: "Define osmosis.", StudentAnswer: "water moves through membranes"},
	}))
	require.NoError(t, scope.Set(grading.SlotRubric, domain.Rubric{
		Items:    []domain.RubricItem{{Label: "accuracy", Points: 5}},
		MaxScore: 5,
	}))
	require.NoError(t, scope.Set(summary.SlotSummary, domain.EvidenceSummary{
		ConsensusAnswer: "consensus",
		Bullets:         []string{"point"},
		Confidence:      0.8,
	}))
	return scope
}

func graded(id string, score float64) domain.GradedQuestion {
	return domain.GradedQuestion{
		QuestionID:    id,
		Score:         score,
		MaxScore:      5,
		Justification: "rubric points addressed",
		Confidence:    0.8,
	}
}

func runReferee(t *testing.T, client llm.Client, policy string, results []pipeline.LoopResult) domain.ValidationReport {
	t.Helper()

	stage := NewStage(client, refereeBackend(), llm.StructuredOptions{Repair: llm.DefaultRepairConfig()}, policy)
	scope := refereeScope(t, results)
	require.NoError(t, stage.Run(context.Background(), scope))

	raw, err := scope.Get(SlotReport)
	require.NoError(t, err)
	return raw.(domain.ValidationReport)
}

func TestRefereeStageCleanGradesPass(t *testing.T) {
	t.Parallel()

	client := &stubClient{content: `{"issues":[]}`}
	report := runReferee(t, client, configuration.CorrectionClamp, []pipeline.LoopResult{
		{Index: 0, Value: graded("q1", 4)},
		{Index: 1, Value: graded("q2", 5)},
	})

	assert.True(t, report.OK)
	assert.Empty(t, report.Issues)
	require.Len(t, report.Corrected, 2)
	require.Len(t, client.requests, 1)
	assert.Equal(t, transport.OpReferee, client.requests[0].Operation)
}

func TestRefereeStageClampPolicy(t *testing.T) {
	t.Parallel()

	client := &stubClient{content: `{"issues":[]}`}

	overMax := graded("q1", 7) // score 7 of max 5
	report := runReferee(t, client, configuration.CorrectionClamp, []pipeline.LoopResult{
		{Index: 0, Value: overMax},
		{Index: 1, Value: graded("q2", 3)},
	})

	assert.False(t, report.OK, "a corrected entry still counts as an issue")
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "q1", report.Issues[0].QuestionID)
	assert.True(t, report.Issues[0].Corrected)
	assert.Contains(t, report.Issues[0].Problem, "exceeds max_score")

	require.Len(t, report.Corrected, 2)
	assert.InDelta(t, 5, report.Corrected[0].Score, 1e-9, "clamped to max")
	require.NoError(t, report.Corrected[0].Validate())
}

func TestRefereeStageDropPolicy(t *testing.T) {
	t.Parallel()

	client := &stubClient{content: `{"issues":[]}`}

	report := runReferee(t, client, configuration.CorrectionDrop, []pipeline.LoopResult{
		{Index: 0, Value: graded("q1", -2)},
		{Index: 1, Value: graded("q2", 3)},
	})

	assert.False(t, report.OK)
	require.Len(t, report.Issues, 1)
	assert.False(t, report.Issues[0].Corrected)

	require.Len(t, report.Corrected, 1, "dropped entry is absent")
	assert.Equal(t, "q2", report.Corrected[0].QuestionID)
}

func TestRefereeStageSkipsFailedLoopItems(t *testing.T) {
	t.Parallel()

	client := &stubClient{content: `{"issues":[]}`}

	report := runReferee(t, client, configuration.CorrectionClamp, []pipeline.LoopResult{
		{Index: 0, Value: graded("q1", 4)},
		{Index: 1, Err: &pipeline.ItemError{Index: 1, Err: context.DeadlineExceeded}},
	})

	assert.True(t, report.OK)
	require.Len(t, report.Corrected, 1, "failed items are not validated or corrected")
}

func TestRefereeStageFlagsHallucinations(t *testing.T) {
	t.Parallel()

	client := &stubClient{content: `{"issues":[
		{"question_id":"q2","problem":"justification cites a formula absent from answer and evidence"},
		{"question_id":"q99","problem":"unknown entry is ignored"},
		{"question_id":"q1","problem":""}
	]}`}

	report := runReferee(t, client, configuration.CorrectionClamp, []pipeline.LoopResult{
		{Index: 0, Value: graded("q1", 4)},
		{Index: 1, Value: graded("q2", 5)},
	})

	assert.False(t, report.OK)
	require.Len(t, report.Issues, 1, "unknown IDs and empty problems are dropped")
	assert.Equal(t, "q2", report.Issues[0].QuestionID)
	assert.False(t, report.Issues[0].Corrected)
	assert.Len(t, report.Corrected, 2, "flag-only issues do not alter grades")
}

func TestRefereeStageEmptyResultsSkipBackend(t *testing.T) {
	t.Parallel()

	client := &stubClient{content: `{"issues":[]}`}
	report := runReferee(t, client, configuration.CorrectionClamp, []pipeline.LoopResult{
		{Index: 0, Err: &pipeline.ItemError{Index: 0, Err: context.DeadlineExceeded}},
	})

	assert.True(t, report.OK)
	assert.Empty(t, report.Corrected)
	assert.Empty(t, client.requests, "nothing to check when every item failed")
}

func TestRefereeStageTimestampIndependence(t *testing.T) {
	// The structural pass is deterministic: two runs over the same grades
	// produce identical reports regardless of wall time.
	t.Parallel()

	client := &stubClient{content: `{"issues":[]}`}
	results := []pipeline.LoopResult{{Index: 0, Value: graded("q1", 7)}}

	first := runReferee(t, client, configuration.CorrectionClamp, results)
	time.Sleep(time.Millisecond)
	second := runReferee(t, client, configuration.CorrectionClamp, results)
	assert.Equal(t, first, second)
}
