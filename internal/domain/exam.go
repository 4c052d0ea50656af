// Package domain defines the core types for exam grading: questions, rubrics,
// student answers, graded results, validation reports, and the final payload.
// All types carry struct validation tags and expose Validate methods so that
// orchestration code can enforce contracts at stage boundaries without
// depending on how the data was produced.
package domain

import "time"

// Question is a single exam question as extracted from the exam artifact.
type Question struct {
	// ID uniquely identifies the question within the exam (e.g. "q1").
	ID string `json:"question_id" validate:"required"`

	// Text is the question prompt shown to the student.
	Text string `json:"text" validate:"required"`

	// StudentAnswer is the student's free-text answer. May be empty when the
	// student skipped the question; grading still runs and scores it.
	StudentAnswer string `json:"student_answer"`
}

// Validate checks the question against its structural constraints.
func (q *Question) Validate() error { return validate.Struct(q) }

// RubricItem is a single scorable criterion from the marking guide.
type RubricItem struct {
	// Label names the criterion (e.g. "accuracy", "clarity").
	Label string `json:"label" validate:"required"`

	// Points is the mark allocation for this criterion.
	Points float64 `json:"points" validate:"min=0"`
}

// Rubric is the parsed marking guide for a question (or, when the guide does
// not distinguish questions, for the whole exam).
type Rubric struct {
	Items []RubricItem `json:"rubric_items" validate:"required,min=1,dive"`

	// MaxScore is the total attainable score. It is authoritative even when
	// the item points do not sum to it, since marking guides are frequently
	// inconsistent about partial credit.
	MaxScore float64 `json:"max_score" validate:"gt=0"`
}

// Validate checks the rubric against its structural constraints.
func (r *Rubric) Validate() error { return validate.Struct(r) }

// Exam is the run input: an exam identifier, the ordered question list with
// student answers, and the marking guide.
type Exam struct {
	ID        string     `json:"exam_id" validate:"required"`
	Questions []Question `json:"questions" validate:"required,min=1,dive"`
	Rubric    Rubric     `json:"rubric" validate:"required"`
}

// Validate checks the exam run input against its structural constraints.
func (e *Exam) Validate() error { return validate.Struct(e) }

// HumanDecision is an externally supplied override for specific graded
// entries, keyed by question identifier. It is applied by the aggregator
// after validation and takes precedence over model output.
type HumanDecision struct {
	// Overrides maps question IDs to replacement graded entries.
	Overrides map[string]GradedQuestion `json:"overrides"`

	// DecidedBy records who made the decision, for the audit trail.
	DecidedBy string `json:"decided_by,omitempty"`

	// DecidedAt records when the decision was made.
	DecidedAt time.Time `json:"decided_at,omitempty"`
}
