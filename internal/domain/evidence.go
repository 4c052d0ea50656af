package domain

import "time"

// MaxEvidenceSnippetLen caps snippet length so evidence stays compact enough
// to thread through grading prompts.
const MaxEvidenceSnippetLen = 120

// EvidenceItem is a single candidate answer or reference retrieved for an
// exam question from an external search.
type EvidenceItem struct {
	// Snippet is the retrieved text, at most MaxEvidenceSnippetLen characters.
	Snippet string `json:"snippet" validate:"required,max=120"`

	// Source is a short source string or URL.
	Source string `json:"source" validate:"required"`

	// Confidence is the retrieval confidence, in [0,1].
	Confidence float64 `json:"confidence" validate:"min=0,max=1"`
}

// EvidenceSet is the retrieval stage's output: external evidence gathered
// for the exam's questions.
type EvidenceSet struct {
	// QuestionHash is a short content hash correlating evidence with the
	// question text it was retrieved for.
	QuestionHash string `json:"question_hash" validate:"required"`

	// Results holds up to ten retrieved items, most relevant first.
	Results []EvidenceItem `json:"results" validate:"max=10,dive"`

	// Timestamp records when the evidence was retrieved.
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// Validate checks the evidence set against its structural constraints.
func (e *EvidenceSet) Validate() error { return validate.Struct(e) }

// EvidenceSummary is the summary stage's output: a compact digest of the
// most reliable evidence points plus a single-line consensus answer.
type EvidenceSummary struct {
	ConsensusAnswer string   `json:"consensus_answer" validate:"required"`
	Bullets         []string `json:"bullets" validate:"required,min=1,max=5,dive,required"`
	Confidence      float64  `json:"confidence" validate:"min=0,max=1"`
	Sources         []string `json:"sources"`
}

// Validate checks the summary against its structural constraints.
func (s *EvidenceSummary) Validate() error { return validate.Struct(s) }
