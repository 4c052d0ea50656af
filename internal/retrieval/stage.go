// Package retrieval implements the evidence-gathering stage. It asks a
// lightweight backend model to collect candidate answers and authoritative
// references for the exam's questions and publishes them as a structured
// evidence set for the downstream summarizer and graders.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gradr-ai/gradr/internal/configuration"
	"github.com/gradr-ai/gradr/internal/domain"
	"github.com/gradr-ai/gradr/internal/llm"
	"github.com/gradr-ai/gradr/internal/llm/transport"
	"github.com/gradr-ai/gradr/internal/pipeline"
)

// Slot names read and written by this stage.
const (
	SlotQuestions = "questions"
	SlotEvidence  = "online_answers"
)

const instruction = "You gather evidence for exam grading. Given a list of exam questions, " +
	"collect up to 10 concise, relevant candidate answers or authoritative references " +
	"covering the set. Output MUST be valid JSON with the schema: " +
	`{"question_hash":"<short-hash>",` +
	`"results":[{"snippet":"...","source":"<short-source-or-url>","confidence":<0-1>}],` +
	`"timestamp":"<ISO8601>"}` +
	"\n\nConstraints: keep each snippet <= 120 characters, include a short source string, " +
	"include a numeric confidence 0-1. Use the question_hash value given in the request verbatim." +
	"\n\nExample:\n" +
	`{"question_hash":"abcd1234","results":[{"snippet":"X is the capital of Y","source":"wikipedia.org","confidence":0.9}],"timestamp":"2025-01-01T12:00:00Z"}`

// NewStage builds the evidence-retrieval task. It reads the question list and
// produces a domain.EvidenceSet keyed by a hash of the question texts.
func NewStage(client llm.Client, backend configuration.StageBackend, opts llm.StructuredOptions) *pipeline.Task {
	exec := func(ctx context.Context, scope *pipeline.Scope) (any, error) {
		raw, err := scope.Get(SlotQuestions)
		if err != nil {
			return nil, err
		}
		questions, ok := raw.([]domain.Question)
		if !ok {
			return nil, fmt.Errorf("slot %q: expected []domain.Question, got %T", SlotQuestions, raw)
		}

		hash := QuestionHash(questions)

		var sb strings.Builder
		fmt.Fprintf(&sb, "question_hash: %s\n\nQuestions:\n", hash)
		for _, q := range questions {
			fmt.Fprintf(&sb, "%s: %s\n", q.ID, q.Text)
		}

		req := &transport.Request{
			Operation:    transport.OpRetrieval,
			Provider:     backend.Provider,
			Model:        backend.Model,
			SystemPrompt: instruction,
			Prompt:       sb.String(),
			Temperature:  0.1,
		}

		var evidence domain.EvidenceSet
		if _, err := llm.CompleteStructured(ctx, client, req, &evidence, opts); err != nil {
			return nil, err
		}
		// The hash correlates evidence with the question set it was gathered
		// for; never trust the model to echo it back correctly.
		evidence.QuestionHash = hash
		if err := evidence.Validate(); err != nil {
			return nil, err
		}
		return evidence, nil
	}
	return pipeline.NewTask("online_answers", []string{SlotQuestions}, SlotEvidence, exec)
}

// QuestionHash returns a short stable hash over the question texts, used to
// correlate an evidence set with the question list it covers.
func QuestionHash(questions []domain.Question) string {
	h := sha256.New()
	for _, q := range questions {
		h.Write([]byte(q.ID))
		h.Write([]byte{0})
		h.Write([]byte(q.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:8]
}
