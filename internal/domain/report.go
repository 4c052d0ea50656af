package domain

import (
	"errors"
	"time"
)

// LowConfidenceThreshold is the fixed confidence below which a graded entry
// is counted as low-confidence in the aggregate statistics.
const LowConfidenceThreshold = 0.5

// ErrNoGradedQuestions indicates an aggregation over an empty result set.
var ErrNoGradedQuestions = errors.New("no graded questions")

// ValidationIssue records a single problem the referee stage found with a
// graded entry: a structural invariant violation or an unsupported factual
// claim in the justification.
type ValidationIssue struct {
	// QuestionID references the graded entry the issue concerns.
	QuestionID string `json:"question_id" validate:"required"`

	// Problem describes what was wrong, in reviewer-facing terms.
	Problem string `json:"problem" validate:"required"`

	// Corrected is true when the corrected list already repairs the issue
	// (e.g. a clamped score); false when it only flags it for review.
	Corrected bool `json:"corrected"`
}

// ValidationReport is the referee stage's output over the aggregate loop
// result: an overall flag, the ordered issue list, and the corrected entries.
type ValidationReport struct {
	// OK is true exactly when Issues is empty.
	OK bool `json:"ok"`

	// Issues lists every problem found, in graded-entry order.
	Issues []ValidationIssue `json:"issues" validate:"dive"`

	// Corrected holds the post-correction graded entries, positionally
	// aligned to the originals. Every entry satisfies the GradedQuestion
	// invariants.
	Corrected []GradedQuestion `json:"corrected" validate:"dive"`
}

// Validate checks the report against its structural constraints.
func (r *ValidationReport) Validate() error { return validate.Struct(r) }

// AggregateStats carries the summary statistics of a graded exam.
type AggregateStats struct {
	// AvgScore is the arithmetic mean score across all graded entries.
	AvgScore float64 `json:"avg_score"`

	// LowConfidenceItems counts entries with confidence below
	// LowConfidenceThreshold.
	LowConfidenceItems int `json:"low_confidence_items"`
}

// ItemFailure records a question the grading loop could not grade after its
// retries were exhausted. It occupies that question's position in the final
// payload instead of a GradedQuestion.
type ItemFailure struct {
	QuestionID string `json:"question_id" validate:"required"`
	Error      string `json:"error" validate:"required"`
}

// FinalPayload is the run output: the corrected graded questions, any
// per-question failures, the validation report, and aggregate statistics.
type FinalPayload struct {
	// ExamID identifies the graded exam.
	ExamID string `json:"exam_id" validate:"required"`

	// RunID identifies this pipeline run.
	RunID string `json:"run_id" validate:"required"`

	// GeneratedAt is the payload generation timestamp.
	GeneratedAt time.Time `json:"generated_at" validate:"required"`

	// GradedQuestions holds the corrected results in question order.
	// Questions with an ItemFailure are absent here and listed in Failures.
	GradedQuestions []GradedQuestion `json:"graded_questions" validate:"dive"`

	// Failures lists questions that could not be graded.
	Failures []ItemFailure `json:"failures,omitempty" validate:"dive"`

	// Report is the referee stage's validation report.
	Report ValidationReport `json:"referee_report"`

	// Stats summarizes the graded entries.
	Stats AggregateStats `json:"aggregated_stats"`
}

// Validate checks the payload against its structural constraints.
func (p *FinalPayload) Validate() error { return validate.Struct(p) }
