// Package events defines the run-event envelope the grading pipeline emits
// for observability: run lifecycle, per-question failures, and referee
// corrections. Events are best-effort; a sink failure never fails a run.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the grading pipeline.
const (
	TypeRunStarted     = "grading.run_started"
	TypeRunCompleted   = "grading.run_completed"
	TypeRunFailed      = "grading.run_failed"
	TypeItemFailed     = "grading.item_failed"
	TypeGradeCorrected = "grading.grade_corrected"
)

// SchemaVersion is the current envelope schema version.
const SchemaVersion = "1.0.0"

// Envelope wraps a pipeline event with consistent metadata so downstream
// consumers can route, deduplicate, and correlate events across runs.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type identifies the event for routing, e.g. "grading.item_failed".
	Type string `json:"type"`

	// Source names the component that emitted the event.
	Source string `json:"source"`

	// Version enables schema evolution, following semantic versioning.
	Version string `json:"version"`

	// Timestamp records when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// ExamID identifies the exam the run concerns.
	ExamID string `json:"exam_id"`

	// RunID identifies the pipeline run, correlating all of a run's events.
	RunID string `json:"run_id"`

	// Payload carries the event-specific data as JSON.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope around a payload. The payload may be nil for
// events whose type carries all the information.
func New(eventType, source, examID, runID string, payload any) (Envelope, error) {
	env := Envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Version:   SchemaVersion,
		Timestamp: time.Now().UTC(),
		ExamID:    examID,
		RunID:     runID,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal event payload: %w", err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Sink receives pipeline events with best-effort delivery. Implementations
// must return quickly and tolerate duplicates; callers never fail their
// primary operation because a sink errored.
type Sink interface {
	Append(ctx context.Context, env Envelope) error
}

// LogSink writes events to a structured logger, the default sink.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink builds a sink over the given logger, or the default logger
// when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

// Append implements Sink.
func (s *LogSink) Append(ctx context.Context, env Envelope) error {
	s.logger.InfoContext(ctx, "pipeline event",
		"event_id", env.ID,
		"type", env.Type,
		"source", env.Source,
		"exam_id", env.ExamID,
		"run_id", env.RunID,
		"payload", string(env.Payload))
	return nil
}

// NoOpSink discards events. Useful in tests and when observability is
// externally disabled.
type NoOpSink struct{}

// Append implements Sink.
func (NoOpSink) Append(context.Context, Envelope) error { return nil }
