// Package grading implements the per-question grading stage. The workflow
// runs one instance of this stage per exam question under the loop executor,
// so a failed question never prevents the rest from being graded.
package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gradr-ai/gradr/internal/configuration"
	"github.com/gradr-ai/gradr/internal/domain"
	"github.com/gradr-ai/gradr/internal/llm"
	"github.com/gradr-ai/gradr/internal/llm/transport"
	"github.com/gradr-ai/gradr/internal/pipeline"
	"github.com/gradr-ai/gradr/internal/retrieval"
	"github.com/gradr-ai/gradr/internal/summary"
	"github.com/gradr-ai/gradr/internal/tools"
)

// Slot names read and written by this stage. SlotQuestion is bound per item
// by the loop executor.
const (
	SlotQuestion = "question"
	SlotRubric   = "rubric"
	SlotGraded   = "graded_question"
)

const instruction = "You are a grading assistant. Your input includes a question, the student's " +
	"answer, and a parsed marking guide. You also have a summary of gathered evidence and the raw " +
	"evidence snippets. TASKS (in order):\n" +
	"1) Align the student's answer to rubric items; compute a numeric score and max_score.\n" +
	"2) Provide a concise justification (1-3 sentences) citing which rubric points were satisfied or not.\n" +
	"3) Provide a confidence value between 0 and 1.\n" +
	"4) Output MUST be strictly JSON with the schema: " +
	`{"question_id":"...","score":<number>,"max_score":<number>,"justification":"...","confidence":<0-1>,"points_awarded":[<number per rubric item>]}` +
	"\n\nIMPORTANT: Use the rubric for numeric allocations. If the rubric is ambiguous, describe the " +
	"ambiguity clearly and set confidence <= 0.7.\n" +
	"\nProvide a single JSON object as the only content of your response."

// blankAnswerConfidence is the ambiguity ceiling applied when there is no
// answer to grade: the zero score is certain, but no evidence was consulted.
const blankAnswerConfidence = 0.7

// gradeOutput is the wire schema the backend must produce. PointsAwarded is a
// per-rubric-item breakdown used to verify the total arithmetically.
type gradeOutput struct {
	QuestionID    string    `json:"question_id"`
	Score         float64   `json:"score"`
	MaxScore      float64   `json:"max_score"`
	Justification string    `json:"justification"`
	Confidence    float64   `json:"confidence"`
	PointsAwarded []float64 `json:"points_awarded,omitempty"`
}

// NewStage builds the single-question grading task. The caps argument
// declares the capabilities available to the grader (typically the retrieval
// and summarizer stages as tools plus the calculator and normalizer). The
// grader invokes its declared tools by name: answer normalization runs
// through the normalize capability and breakdown verification through the
// calculator, so the descriptor's tool set is the set that actually runs.
// A tool the caller did not declare falls back to the local implementation.
func NewStage(client llm.Client, backend configuration.StageBackend, opts llm.StructuredOptions, caps ...pipeline.Capability) *pipeline.Task {
	exec := func(ctx context.Context, scope *pipeline.Scope) (any, error) {
		q, err := slotAs[domain.Question](scope, SlotQuestion)
		if err != nil {
			return nil, err
		}
		rubric, err := slotAs[domain.Rubric](scope, SlotRubric)
		if err != nil {
			return nil, err
		}
		sum, err := slotAs[domain.EvidenceSummary](scope, summary.SlotSummary)
		if err != nil {
			return nil, err
		}
		evidence, err := slotAs[domain.EvidenceSet](scope, retrieval.SlotEvidence)
		if err != nil {
			return nil, err
		}

		answer, err := normalizeAnswer(ctx, caps, q.StudentAnswer)
		if err != nil {
			return nil, err
		}
		if answer == "" {
			// A blank answer earns zero without consulting a backend.
			return domain.GradedQuestion{
				QuestionID:    q.ID,
				Score:         0,
				MaxScore:      rubric.MaxScore,
				Justification: "No answer was provided.",
				Confidence:    blankAnswerConfidence,
			}, nil
		}

		prompt, err := buildPrompt(q, answer, rubric, sum, evidence)
		if err != nil {
			return nil, err
		}
		req := &transport.Request{
			Operation:    transport.OpGrading,
			Provider:     backend.Provider,
			Model:        backend.Model,
			SystemPrompt: instruction,
			Prompt:       prompt,
			Temperature:  0,
		}

		var out gradeOutput
		if _, err := llm.CompleteStructured(ctx, client, req, &out, opts); err != nil {
			return nil, err
		}

		grade := domain.GradedQuestion{
			QuestionID:    q.ID,
			Score:         verifiedScore(ctx, caps, out),
			MaxScore:      rubric.MaxScore,
			Justification: out.Justification,
			Confidence:    out.Confidence,
		}
		return grade, nil
	}

	return pipeline.NewTask("question_grader",
		[]string{SlotQuestion, SlotRubric, summary.SlotSummary, retrieval.SlotEvidence},
		SlotGraded, exec, pipeline.WithTools(caps...))
}

func buildPrompt(q domain.Question, answer string, rubric domain.Rubric, sum domain.EvidenceSummary, evidence domain.EvidenceSet) (string, error) {
	rubricJSON, err := json.Marshal(rubric)
	if err != nil {
		return "", fmt.Errorf("marshal rubric: %w", err)
	}
	sumJSON, err := json.Marshal(sum)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	evJSON, err := json.Marshal(evidence)
	if err != nil {
		return "", fmt.Errorf("marshal evidence: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "question_id: %s\nquestion: %s\nstudent_answer: %s\n", q.ID, q.Text, answer)
	fmt.Fprintf(&sb, "rubric: %s\nfinal_summary: %s\nexternal_evidence: %s\n", rubricJSON, sumJSON, evJSON)
	return sb.String(), nil
}

// verifiedScore recomputes the reported score from the per-item breakdown
// when one is present. The breakdown sum is authoritative: models are better
// at per-item allocation than at adding the column up.
func verifiedScore(ctx context.Context, caps []pipeline.Capability, out gradeOutput) float64 {
	if len(out.PointsAwarded) == 0 {
		return out.Score
	}
	terms := make([]string, len(out.PointsAwarded))
	for i, p := range out.PointsAwarded {
		terms[i] = strconv.FormatFloat(p, 'f', -1, 64)
	}
	total, err := evaluateExpr(ctx, caps, strings.Join(terms, " + "))
	if err != nil {
		return out.Score
	}
	if math.Abs(total-out.Score) > 1e-9 {
		return total
	}
	return out.Score
}

// findTool returns the declared capability with the given name, or nil.
func findTool(caps []pipeline.Capability, name string) pipeline.Capability {
	for _, c := range caps {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// normalizeAnswer cleans the raw student answer through the declared
// normalize capability, falling back to the local normalizer when the
// grader carries none.
func normalizeAnswer(ctx context.Context, caps []pipeline.Capability, raw string) (string, error) {
	tool := findTool(caps, tools.NameNormalize)
	if tool == nil {
		return tools.NormalizeAnswer(raw), nil
	}
	out, err := tool.Invoke(ctx, map[string]any{"text": raw})
	if err != nil {
		return "", fmt.Errorf("tool %q: %w", tools.NameNormalize, err)
	}
	normalized, ok := out["normalized"].(string)
	if !ok {
		return "", fmt.Errorf("tool %q: missing normalized output", tools.NameNormalize)
	}
	return normalized, nil
}

// evaluateExpr sums the breakdown through the declared calculator
// capability, falling back to the local evaluator when the grader
// carries none.
func evaluateExpr(ctx context.Context, caps []pipeline.Capability, expr string) (float64, error) {
	tool := findTool(caps, tools.NameCalculate)
	if tool == nil {
		return tools.Evaluate(expr)
	}
	out, err := tool.Invoke(ctx, map[string]any{"expression": expr})
	if err != nil {
		return 0, fmt.Errorf("tool %q: %w", tools.NameCalculate, err)
	}
	result, ok := out["result"].(float64)
	if !ok {
		return 0, fmt.Errorf("tool %q: missing result output", tools.NameCalculate)
	}
	return result, nil
}

func slotAs[T any](scope *pipeline.Scope, slot string) (T, error) {
	var zero T
	raw, err := scope.Get(slot)
	if err != nil {
		return zero, err
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("slot %q: expected %T, got %T", slot, zero, raw)
	}
	return v, nil
}
