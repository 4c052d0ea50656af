package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/gradr-ai/gradr/internal/llm/transport"
)

// ErrMalformedOutput indicates backend text that failed to parse against
// the stage's declared output shape. Distinct from transient call failures
// and never retried: retrying does not reliably fix a structurally
// malformed response. Stages surface it as a contract violation.
var ErrMalformedOutput = errors.New("backend output does not match declared shape")

// strictFormatReminder is appended on the bounded re-prompt attempt when a
// stage is configured to re-ask for format compliance.
const strictFormatReminder = "\n\nIMPORTANT: Your previous response was not valid JSON. " +
	"Respond with ONLY a single valid JSON object matching the required schema. " +
	"No markdown, no prose, no code fences."

// StructuredOptions controls contract enforcement for a structured call.
type StructuredOptions struct {
	// Repair configures JSON extraction and syntax repair before the
	// content is rejected.
	Repair RepairConfig

	// Reprompt allows one bounded re-prompt requesting strict format
	// compliance after a parse failure. Default false: fail fast.
	Reprompt bool
}

// CompleteStructured calls the backend and decodes the response content
// into out. A response that cannot be decoded is ErrMalformedOutput; when
// Reprompt is set, one re-prompt with a strict-format reminder is attempted
// first. Transient call failures propagate unchanged so the retry
// middleware's classification stays authoritative.
func CompleteStructured(ctx context.Context, c Client, req *transport.Request, out any, opts StructuredOptions) (*transport.Response, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if DecodeStrict(resp.Content, out, opts.Repair) {
		return resp, nil
	}

	if !opts.Reprompt {
		return resp, fmt.Errorf("%w: %.200s", ErrMalformedOutput, resp.Content)
	}

	retryReq := *req
	retryReq.Prompt = req.Prompt + strictFormatReminder

	resp, err = c.Complete(ctx, &retryReq)
	if err != nil {
		return nil, err
	}
	if DecodeStrict(resp.Content, out, opts.Repair) {
		return resp, nil
	}

	return resp, fmt.Errorf("%w after strict-format re-prompt: %.200s", ErrMalformedOutput, resp.Content)
}
