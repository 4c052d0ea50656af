package domain

import (
	"errors"
	"fmt"
)

// Grading errors returned by graded-question validation.
var (
	// ErrScoreExceedsMax indicates a score greater than its max_score.
	ErrScoreExceedsMax = errors.New("score exceeds max_score")

	// ErrScoreNegative indicates a negative score.
	ErrScoreNegative = errors.New("score is negative")

	// ErrConfidenceOutOfRange indicates a confidence outside [0,1].
	ErrConfidenceOutOfRange = errors.New("confidence must be between 0 and 1")
)

// GradedQuestion is the grading stage's output for a single question.
//
// Invariants: 0 <= Score <= MaxScore and 0 <= Confidence <= 1. Raw model
// output may violate them; the referee stage clamps and flags violations so
// that every entry in the final payload satisfies them.
type GradedQuestion struct {
	// QuestionID links the result back to the input question.
	QuestionID string `json:"question_id" validate:"required"`

	// Score is the awarded mark.
	Score float64 `json:"score"`

	// MaxScore is the attainable mark per the rubric.
	MaxScore float64 `json:"max_score" validate:"gt=0"`

	// Justification cites which rubric points were and were not satisfied.
	Justification string `json:"justification" validate:"required"`

	// Confidence is the model's confidence in the grade, in [0,1]. Grading
	// instructions require <= 0.7 whenever the rubric was ambiguous.
	Confidence float64 `json:"confidence"`
}

// Validate checks structural tags plus the numeric invariants that tags
// cannot express (score relative to max_score).
func (g *GradedQuestion) Validate() error {
	if err := validate.Struct(g); err != nil {
		return err
	}
	if g.Score < 0 {
		return fmt.Errorf("%w: got %g", ErrScoreNegative, g.Score)
	}
	if g.Score > g.MaxScore {
		return fmt.Errorf("%w: score %g, max_score %g", ErrScoreExceedsMax, g.Score, g.MaxScore)
	}
	if g.Confidence < 0 || g.Confidence > 1 {
		return fmt.Errorf("%w: got %g", ErrConfidenceOutOfRange, g.Confidence)
	}
	return nil
}

// Clamp returns a copy with Score forced into [0, MaxScore] and Confidence
// into [0,1], plus whether anything changed. Used by the referee stage's
// clamp-and-flag policy.
func (g GradedQuestion) Clamp() (GradedQuestion, bool) {
	clamped := g
	modified := false

	if clamped.Score < 0 {
		clamped.Score = 0
		modified = true
	} else if clamped.Score > clamped.MaxScore {
		clamped.Score = clamped.MaxScore
		modified = true
	}

	if clamped.Confidence < 0 {
		clamped.Confidence = 0
		modified = true
	} else if clamped.Confidence > 1 {
		clamped.Confidence = 1
		modified = true
	}

	return clamped, modified
}
