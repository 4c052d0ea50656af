package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gradr-ai/gradr/internal/domain"
	"github.com/gradr-ai/gradr/internal/pipeline"
)

// Parsing errors.
var (
	// ErrNoQuestions indicates question text with no parseable questions.
	ErrNoQuestions = errors.New("no questions found")

	// ErrNoRubricItems indicates a marking guide with no parseable items.
	ErrNoRubricItems = errors.New("no rubric items found")

	errMissingTextArg = errors.New(`capability input requires a "text" string`)
)

// questionLineRe matches "Q1. What is photosynthesis?" style lines, with an
// optional colon or parenthesis after the number.
var questionLineRe = regexp.MustCompile(`^[Qq](\d+)[.):]?\s+(.*)$`)

// rubricItemRe matches "Definition (2 marks)" style allocations.
var rubricItemRe = regexp.MustCompile(`([A-Za-z][A-Za-z ]*?)\s*\((\d+(?:\.\d+)?)\s*marks?\)`)

// ParseQuestions parses raw question text into an ordered question list.
//
// Expected format, one question per line:
//
//	Q1. What is photosynthesis?
//	Q2. Define osmosis.
//
// Lines that do not match the Qn prefix are treated as continuation text of
// the previous question. Question IDs follow input order ("q1", "q2", ...)
// regardless of the numbering in the text, so duplicated or skipped numbers
// in the source cannot produce colliding IDs.
func ParseQuestions(text string) ([]domain.Question, error) {
	var questions []domain.Question

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := questionLineRe.FindStringSubmatch(line); m != nil {
			questions = append(questions, domain.Question{
				ID:   fmt.Sprintf("q%d", len(questions)+1),
				Text: strings.TrimSpace(m[2]),
			})
			continue
		}

		if len(questions) > 0 {
			last := &questions[len(questions)-1]
			last.Text = last.Text + " " + line
		} else {
			// Leading unprefixed text stands alone as the first question.
			questions = append(questions, domain.Question{
				ID:   "q1",
				Text: line,
			})
		}
	}

	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	return questions, nil
}

// ParseMarkingGuide converts marking-guide text into a rubric.
//
// Example input:
//
//	Q1: Definition (2 marks), Example (1 mark)
//
// Each "(n marks)" allocation becomes a rubric item; the max score is the
// sum of allocations. An explicit "max_score: N" line overrides the sum.
func ParseMarkingGuide(text string) (domain.Rubric, error) {
	var rubric domain.Rubric
	var explicitMax float64

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(strings.ToLower(line), "max_score:"); ok {
			if v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64); err == nil {
				explicitMax = v
			}
			continue
		}

		for _, m := range rubricItemRe.FindAllStringSubmatch(line, -1) {
			points, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				continue
			}
			rubric.Items = append(rubric.Items, domain.RubricItem{
				Label:  strings.ToLower(strings.TrimSpace(m[1])),
				Points: points,
			})
		}
	}

	if len(rubric.Items) == 0 {
		return domain.Rubric{}, ErrNoRubricItems
	}

	for _, item := range rubric.Items {
		rubric.MaxScore += item.Points
	}
	if explicitMax > 0 {
		rubric.MaxScore = explicitMax
	}

	return rubric, nil
}

// ParseQuestionsCapability exposes ParseQuestions as a capability.
// Input: {"text": string}. Output: {"questions": []domain.Question, "count": int}.
func ParseQuestionsCapability() pipeline.Capability {
	return NewFunc("parse_questions", func(_ context.Context, input map[string]any) (map[string]any, error) {
		text, ok := stringArg(input, "text")
		if !ok {
			return nil, errMissingTextArg
		}
		questions, err := ParseQuestions(text)
		if err != nil {
			return nil, err
		}
		return map[string]any{"questions": questions, "count": len(questions)}, nil
	})
}

// ParseMarkingGuideCapability exposes ParseMarkingGuide as a capability.
// Input: {"text": string}. Output: {"rubric": domain.Rubric}.
func ParseMarkingGuideCapability() pipeline.Capability {
	return NewFunc("parse_marking_guide", func(_ context.Context, input map[string]any) (map[string]any, error) {
		text, ok := stringArg(input, "text")
		if !ok {
			return nil, errMissingTextArg
		}
		rubric, err := ParseMarkingGuide(text)
		if err != nil {
			return nil, err
		}
		return map[string]any{"rubric": rubric}, nil
	})
}
