// Package assembly implements the final aggregation stage. Unlike the other
// stages it never calls a backend: given the same inputs it always produces
// the same graded entries, failures, and aggregate statistics.
package assembly

import (
	"context"
	"fmt"
	"time"

	"github.com/gradr-ai/gradr/internal/domain"
	"github.com/gradr-ai/gradr/internal/pipeline"
	"github.com/gradr-ai/gradr/internal/referee"
	"github.com/gradr-ai/gradr/internal/retrieval"
)

// Slot names read and written by this stage. SlotHumanDecision is optional:
// the stage checks for it rather than declaring it as a required input.
const (
	SlotExamID        = "exam_id"
	SlotRunID         = "run_id"
	SlotHumanDecision = "human_decision"
	SlotFinalPayload  = "final_payload"
)

// NewStage builds the aggregator task. now supplies the payload timestamp;
// pass a fixed clock in tests.
func NewStage(now func() time.Time) *pipeline.Task {
	if now == nil {
		now = time.Now
	}
	exec := func(ctx context.Context, scope *pipeline.Scope) (any, error) {
		examID, err := stringSlot(scope, SlotExamID)
		if err != nil {
			return nil, err
		}
		runID, err := stringSlot(scope, SlotRunID)
		if err != nil {
			return nil, err
		}
		questions, err := questionSlot(scope)
		if err != nil {
			return nil, err
		}
		report, err := reportSlot(scope)
		if err != nil {
			return nil, err
		}
		results, err := resultSlot(scope)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, domain.ErrNoGradedQuestions
		}

		grades := report.Corrected
		if scope.Has(SlotHumanDecision) {
			raw, err := scope.Get(SlotHumanDecision)
			if err != nil {
				return nil, err
			}
			decision, ok := raw.(*domain.HumanDecision)
			if !ok {
				return nil, fmt.Errorf("slot %q: expected *domain.HumanDecision, got %T", SlotHumanDecision, raw)
			}
			grades, err = applyOverrides(grades, decision)
			if err != nil {
				return nil, err
			}
		}

		payload := &domain.FinalPayload{
			ExamID:          examID,
			RunID:           runID,
			GeneratedAt:     now().UTC(),
			GradedQuestions: grades,
			Failures:        collectFailures(results, questions),
			Report:          report,
			Stats:           aggregate(grades),
		}
		if err := payload.Validate(); err != nil {
			return nil, err
		}
		return payload, nil
	}

	return pipeline.NewTask("final_aggregator",
		[]string{SlotExamID, SlotRunID, retrieval.SlotQuestions, referee.SlotGradedQuestions, referee.SlotReport},
		SlotFinalPayload, exec)
}

// applyOverrides replaces graded entries with reviewer overrides matched by
// question ID. Overrides for unknown IDs and overrides that violate the
// grade invariants are rejected: a human decision must not reintroduce the
// problems the referee just corrected.
func applyOverrides(grades []domain.GradedQuestion, decision *domain.HumanDecision) ([]domain.GradedQuestion, error) {
	known := make(map[string]int, len(grades))
	for i, g := range grades {
		known[g.QuestionID] = i
	}
	out := make([]domain.GradedQuestion, len(grades))
	copy(out, grades)
	for id, override := range decision.Overrides {
		i, ok := known[id]
		if !ok {
			return nil, fmt.Errorf("human decision: override for unknown question %q", id)
		}
		override.QuestionID = id
		if err := override.Validate(); err != nil {
			return nil, fmt.Errorf("human decision: override for %q: %w", id, err)
		}
		out[i] = override
	}
	return out, nil
}

func collectFailures(results []pipeline.LoopResult, questions []domain.Question) []domain.ItemFailure {
	var failures []domain.ItemFailure
	for _, res := range results {
		if !res.Failed() {
			continue
		}
		id := fmt.Sprintf("item_%d", res.Index)
		if res.Index >= 0 && res.Index < len(questions) {
			id = questions[res.Index].ID
		}
		failures = append(failures, domain.ItemFailure{QuestionID: id, Error: res.Err.Error()})
	}
	return failures
}

func aggregate(grades []domain.GradedQuestion) domain.AggregateStats {
	var stats domain.AggregateStats
	if len(grades) == 0 {
		return stats
	}
	var total float64
	for _, g := range grades {
		total += g.Score
		if g.Confidence < domain.LowConfidenceThreshold {
			stats.LowConfidenceItems++
		}
	}
	stats.AvgScore = total / float64(len(grades))
	return stats
}

func stringSlot(scope *pipeline.Scope, slot string) (string, error) {
	raw, err := scope.Get(slot)
	if err != nil {
		return "", err
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("slot %q: expected string, got %T", slot, raw)
	}
	return s, nil
}

func questionSlot(scope *pipeline.Scope) ([]domain.Question, error) {
	raw, err := scope.Get(retrieval.SlotQuestions)
	if err != nil {
		return nil, err
	}
	qs, ok := raw.([]domain.Question)
	if !ok {
		return nil, fmt.Errorf("slot %q: expected []domain.Question, got %T", retrieval.SlotQuestions, raw)
	}
	return qs, nil
}

func reportSlot(scope *pipeline.Scope) (domain.ValidationReport, error) {
	raw, err := scope.Get(referee.SlotReport)
	if err != nil {
		return domain.ValidationReport{}, err
	}
	report, ok := raw.(domain.ValidationReport)
	if !ok {
		return domain.ValidationReport{}, fmt.Errorf("slot %q: expected domain.ValidationReport, got %T", referee.SlotReport, raw)
	}
	return report, nil
}

func resultSlot(scope *pipeline.Scope) ([]pipeline.LoopResult, error) {
	raw, err := scope.Get(referee.SlotGradedQuestions)
	if err != nil {
		return nil, err
	}
	results, ok := raw.([]pipeline.LoopResult)
	if !ok {
		return nil, fmt.Errorf("slot %q: expected []pipeline.LoopResult, got %T", referee.SlotGradedQuestions, raw)
	}
	return results, nil
}
