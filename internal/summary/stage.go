// Package summary implements the evidence-summarization stage: it condenses
// the retrieval stage's evidence set into a short consensus summary the
// graders can cite.
package summary

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gradr-ai/gradr/internal/configuration"
	"github.com/gradr-ai/gradr/internal/domain"
	"github.com/gradr-ai/gradr/internal/llm"
	"github.com/gradr-ai/gradr/internal/llm/transport"
	"github.com/gradr-ai/gradr/internal/pipeline"
	"github.com/gradr-ai/gradr/internal/retrieval"
)

// SlotSummary is the slot this stage publishes.
const SlotSummary = "final_summary"

const instruction = "You summarize gathered evidence for exam grading. Given the evidence JSON " +
	"in the request, produce a concise 3-5 bullet summary of the most reliable points and a " +
	"single-line consensus_answer. " +
	"Output MUST be valid JSON with keys: 'consensus_answer', 'bullets':[...], 'confidence' (0-1), 'sources':[...]." +
	"\n\nExample:\n" +
	`{"consensus_answer":"...","bullets":["...","..."],"confidence":0.82,"sources":["wikipedia.org"]}`

// NewStage builds the summarizer task. It reads the evidence set and produces
// a domain.EvidenceSummary.
func NewStage(client llm.Client, backend configuration.StageBackend, opts llm.StructuredOptions) *pipeline.Task {
	exec := func(ctx context.Context, scope *pipeline.Scope) (any, error) {
		raw, err := scope.Get(retrieval.SlotEvidence)
		if err != nil {
			return nil, err
		}
		evidence, ok := raw.(domain.EvidenceSet)
		if !ok {
			return nil, fmt.Errorf("slot %q: expected domain.EvidenceSet, got %T", retrieval.SlotEvidence, raw)
		}

		payload, err := json.Marshal(evidence)
		if err != nil {
			return nil, fmt.Errorf("marshal evidence: %w", err)
		}

		req := &transport.Request{
			Operation:    transport.OpSummary,
			Provider:     backend.Provider,
			Model:        backend.Model,
			SystemPrompt: instruction,
			Prompt:       "Evidence:\n" + string(payload),
			Temperature:  0.1,
		}

		var sum domain.EvidenceSummary
		if _, err := llm.CompleteStructured(ctx, client, req, &sum, opts); err != nil {
			return nil, err
		}
		if err := sum.Validate(); err != nil {
			return nil, err
		}
		return sum, nil
	}
	return pipeline.NewTask("summarizer", []string{retrieval.SlotEvidence}, SlotSummary, exec)
}
