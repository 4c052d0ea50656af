package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gradr-ai/gradr/internal/llm/transport"
)

// LoggingMiddleware logs the lifecycle of every backend request: start,
// completion with latency and token usage, or failure. Prompts are not
// logged; they can carry student answer text.
func LoggingMiddleware() transport.Middleware {
	logger := slog.Default().With("component", "llm")

	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			requestID := req.TraceID
			if requestID == "" {
				requestID = uuid.New().String()
				req.TraceID = requestID
			}

			logger.Debug("backend request starting",
				"request_id", requestID,
				"operation", req.Operation,
				"provider", req.Provider,
				"model", req.Model)

			start := time.Now()
			resp, err := next.Handle(ctx, req)
			latency := time.Since(start)

			if err != nil {
				logger.Warn("backend request failed",
					"request_id", requestID,
					"operation", req.Operation,
					"provider", req.Provider,
					"latency", latency,
					"error", err)
				return nil, err
			}

			logger.Debug("backend request complete",
				"request_id", requestID,
				"operation", req.Operation,
				"provider", req.Provider,
				"latency", latency,
				"total_tokens", resp.Usage.TotalTokens,
				"finish_reason", resp.FinishReason)

			return resp, nil
		})
	}
}
