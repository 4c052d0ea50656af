// Package referee implements the validation stage that runs after the
// grading loop. It makes a deterministic structural pass over every graded
// entry (scores within bounds, confidence in range), applies the configured
// correction policy to out-of-range values, and then asks a backend model to
// flag justifications that claim facts unsupported by the student's answer,
// the rubric, or the gathered evidence.
package referee

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gradr-ai/gradr/internal/configuration"
	"github.com/gradr-ai/gradr/internal/domain"
	"github.com/gradr-ai/gradr/internal/grading"
	"github.com/gradr-ai/gradr/internal/llm"
	"github.com/gradr-ai/gradr/internal/llm/transport"
	"github.com/gradr-ai/gradr/internal/pipeline"
	"github.com/gradr-ai/gradr/internal/retrieval"
	"github.com/gradr-ai/gradr/internal/summary"
)

// Slot names read and written by this stage.
const (
	SlotGradedQuestions = "graded_questions"
	SlotReport          = "referee_report"
)

const instruction = "You are a grading referee. Input: graded exam entries with their " +
	"justifications, the students' answers, the rubric, and a summary of gathered evidence. " +
	"TASK: detect hallucinations. If a justification references facts not present in the " +
	"student's answer, the rubric, or the evidence, flag it. Do NOT flag scores or arithmetic; " +
	"those are checked separately. " +
	"Output MUST be valid JSON with the schema: " +
	`{"issues":[{"question_id":"...","problem":"..."}]}` +
	"\nReturn an empty issues array when every justification is supported."

// consistencyReport is the wire schema of the backend's hallucination check.
type consistencyReport struct {
	Issues []struct {
		QuestionID string `json:"question_id"`
		Problem    string `json:"problem"`
	} `json:"issues"`
}

// NewStage builds the referee task. policy selects how structurally invalid
// grades are repaired: configuration.CorrectionClamp forces values into range
// and keeps the entry, configuration.CorrectionDrop removes it from the
// corrected list. Either way the problem is recorded as an issue.
func NewStage(client llm.Client, backend configuration.StageBackend, opts llm.StructuredOptions, policy string) *pipeline.Task {
	exec := func(ctx context.Context, scope *pipeline.Scope) (any, error) {
		results, err := loopResults(scope)
		if err != nil {
			return nil, err
		}

		report := domain.ValidationReport{Corrected: make([]domain.GradedQuestion, 0, len(results))}
		for _, res := range results {
			if res.Failed() {
				continue
			}
			grade, ok := res.Value.(domain.GradedQuestion)
			if !ok {
				return nil, fmt.Errorf("loop result %d: expected domain.GradedQuestion, got %T", res.Index, res.Value)
			}
			corrected, changed := grade.Clamp()
			if !changed {
				report.Corrected = append(report.Corrected, grade)
				continue
			}
			issue := domain.ValidationIssue{
				QuestionID: grade.QuestionID,
				Problem:    describeViolation(grade),
			}
			if policy == configuration.CorrectionClamp {
				issue.Corrected = true
				report.Corrected = append(report.Corrected, corrected)
			}
			report.Issues = append(report.Issues, issue)
		}

		if len(report.Corrected) > 0 {
			issues, err := checkConsistency(ctx, client, backend, opts, scope, report.Corrected)
			if err != nil {
				return nil, err
			}
			report.Issues = append(report.Issues, issues...)
		}

		report.OK = len(report.Issues) == 0
		if err := report.Validate(); err != nil {
			return nil, err
		}
		return report, nil
	}

	return pipeline.NewTask("referee",
		[]string{SlotGradedQuestions, grading.SlotRubric, retrieval.SlotQuestions, summary.SlotSummary},
		SlotReport, exec)
}

func loopResults(scope *pipeline.Scope) ([]pipeline.LoopResult, error) {
	raw, err := scope.Get(SlotGradedQuestions)
	if err != nil {
		return nil, err
	}
	results, ok := raw.([]pipeline.LoopResult)
	if !ok {
		return nil, fmt.Errorf("slot %q: expected []pipeline.LoopResult, got %T", SlotGradedQuestions, raw)
	}
	return results, nil
}

func describeViolation(g domain.GradedQuestion) string {
	var problems []string
	if g.Score > g.MaxScore {
		problems = append(problems, fmt.Sprintf("score %.2f exceeds max_score %.2f", g.Score, g.MaxScore))
	}
	if g.Score < 0 {
		problems = append(problems, fmt.Sprintf("score %.2f is negative", g.Score))
	}
	if g.Confidence < 0 || g.Confidence > 1 {
		problems = append(problems, fmt.Sprintf("confidence %.2f outside [0,1]", g.Confidence))
	}
	return strings.Join(problems, "; ")
}

// checkConsistency runs the backend hallucination pass over the corrected
// entries. Issues for unknown question IDs are dropped: the referee cannot
// flag what the loop never graded.
func checkConsistency(ctx context.Context, client llm.Client, backend configuration.StageBackend, opts llm.StructuredOptions, scope *pipeline.Scope, grades []domain.GradedQuestion) ([]domain.ValidationIssue, error) {
	questions, err := scope.Get(retrieval.SlotQuestions)
	if err != nil {
		return nil, err
	}
	rubric, err := scope.Get(grading.SlotRubric)
	if err != nil {
		return nil, err
	}
	sum, err := scope.Get(summary.SlotSummary)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"graded_questions": grades,
		"questions":        questions,
		"rubric":           rubric,
		"final_summary":    sum,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal referee input: %w", err)
	}

	req := &transport.Request{
		Operation:    transport.OpReferee,
		Provider:     backend.Provider,
		Model:        backend.Model,
		SystemPrompt: instruction,
		Prompt:       string(body),
		Temperature:  0,
	}

	var out consistencyReport
	if _, err := llm.CompleteStructured(ctx, client, req, &out, opts); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(grades))
	for _, g := range grades {
		known[g.QuestionID] = true
	}
	var issues []domain.ValidationIssue
	for _, is := range out.Issues {
		if !known[is.QuestionID] || is.Problem == "" {
			continue
		}
		issues = append(issues, domain.ValidationIssue{QuestionID: is.QuestionID, Problem: is.Problem})
	}
	return issues, nil
}
