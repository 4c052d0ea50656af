package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gradr-ai/gradr/internal/pipeline"
)

// Ingestion errors.
var (
	// ErrNotText indicates an artifact that is not valid UTF-8 text.
	ErrNotText = errors.New("artifact is not text")

	errMissingLocatorArg = errors.New(`capability input requires a "locator" string`)
)

// ExtractText reads an exam artifact by storage locator and returns its
// extracted text. Locators are local paths, optionally with a file://
// scheme; remote stores plug in by fronting this capability.
func ExtractText(locator string) (string, error) {
	path := strings.TrimPrefix(locator, "file://")

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact %q: %w", locator, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %q", ErrNotText, locator)
	}

	return string(data), nil
}

// IngestCapability exposes ExtractText as a capability.
// Input: {"locator": string}. Output: {"text": string}.
func IngestCapability() pipeline.Capability {
	return NewFunc("extract_text", func(_ context.Context, input map[string]any) (map[string]any, error) {
		locator, ok := stringArg(input, "locator")
		if !ok {
			return nil, errMissingLocatorArg
		}
		text, err := ExtractText(locator)
		if err != nil {
			return nil, err
		}
		return map[string]any{"text": text}, nil
	})
}
