package tools

import (
	"context"
	"strings"
	"unicode"

	"github.com/gradr-ai/gradr/internal/pipeline"
)

// NormalizeAnswer cleans a student answer for grading: lowercases,
// collapses runs of whitespace, and strips control characters. The cleaned
// form feeds the grading prompt; the original text is preserved on the
// question for the audit trail.
func NormalizeAnswer(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

// NameNormalize is the answer-normalization capability name.
const NameNormalize = "normalize_answers"

// NormalizeCapability exposes NormalizeAnswer as a capability.
// Input: {"text": string}. Output: {"normalized": string}.
func NormalizeCapability() pipeline.Capability {
	return NewFunc(NameNormalize, func(_ context.Context, input map[string]any) (map[string]any, error) {
		text, ok := stringArg(input, "text")
		if !ok {
			return nil, errMissingTextArg
		}
		return map[string]any{"normalized": NormalizeAnswer(text)}, nil
	})
}
