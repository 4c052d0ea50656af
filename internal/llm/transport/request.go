package transport

import (
	"net/http"
	"time"
)

// OperationType labels which pipeline stage a request serves. It feeds
// logging and metrics; the wire format does not depend on it.
type OperationType string

const (
	// OpRetrieval gathers external evidence for questions.
	OpRetrieval OperationType = "retrieval"

	// OpSummary condenses retrieved evidence.
	OpSummary OperationType = "summary"

	// OpGrading grades a single question.
	OpGrading OperationType = "grading"

	// OpReferee validates the aggregate grading output.
	OpReferee OperationType = "referee"
)

// FinishReason indicates why the backend stopped generating.
type FinishReason string

const (
	// FinishStop indicates normal completion.
	FinishStop FinishReason = "stop"

	// FinishLength indicates the token limit was reached.
	FinishLength FinishReason = "length"

	// FinishContentFilter indicates safety-filter truncation.
	FinishContentFilter FinishReason = "content_filter"
)

// Request is a normalized reasoning-backend request, provider-independent.
// Adapters translate it into provider-specific wire formats.
type Request struct {
	// Operation labels the calling stage for logging and metrics.
	Operation OperationType `json:"operation"`

	// Provider identifies which backend service to use.
	Provider string `json:"provider"` // "google"|"openai"|"anthropic"

	// Model specifies the exact model version.
	Model string `json:"model"`

	// SystemPrompt carries the stage's instruction block.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Prompt is the user-turn content: the question, answer, rubric, and
	// any threaded context rendered by the calling stage.
	Prompt string `json:"prompt"`

	// Generation parameters.
	MaxTokens   int64   `json:"max_tokens"`
	Temperature float64 `json:"temperature"`

	// Timeout bounds the single HTTP round trip; retries are budgeted
	// separately by the retry middleware.
	Timeout time.Duration `json:"timeout"`

	// TraceID correlates the request across log lines and retries.
	TraceID string `json:"trace_id"`
}

// Response is the normalized output from any provider.
type Response struct {
	// Content is the generated text, expected (but not guaranteed) to be a
	// single structured document.
	Content string `json:"content"`

	// FinishReason indicates why generation stopped.
	FinishReason FinishReason `json:"finish_reason"`

	// Usage tracks resource consumption.
	Usage NormalizedUsage `json:"usage"`

	// Headers preserves raw response headers for debugging.
	Headers http.Header `json:"-"`

	// RawBody preserves the original response body for audit.
	RawBody []byte `json:"-"`
}

// NormalizedUsage provides consistent usage metrics across providers.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}
