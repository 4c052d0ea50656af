// Package workflow assembles the grading pipeline and exposes the single
// entry point that takes an exam from raw questions to a final payload.
//
// The pipeline mirrors a fixed five-step sequence: evidence retrieval,
// summarization, a per-question grading loop, referee validation, and final
// aggregation. Each step publishes exactly one named slot in the run's scope,
// and the executor verifies the slot graph before anything runs.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gradr-ai/gradr/internal/assembly"
	"github.com/gradr-ai/gradr/internal/configuration"
	"github.com/gradr-ai/gradr/internal/domain"
	"github.com/gradr-ai/gradr/internal/grading"
	"github.com/gradr-ai/gradr/internal/llm"
	"github.com/gradr-ai/gradr/internal/llm/retry"
	"github.com/gradr-ai/gradr/internal/pipeline"
	"github.com/gradr-ai/gradr/internal/referee"
	"github.com/gradr-ai/gradr/internal/retrieval"
	"github.com/gradr-ai/gradr/internal/summary"
	"github.com/gradr-ai/gradr/internal/tools"
	"github.com/gradr-ai/gradr/pkg/events"
)

// Engine wires the configured backends into the grading pipeline and runs
// exams through it. An Engine is safe for concurrent use: every run gets its
// own scope.
type Engine struct {
	cfg    configuration.Config
	client llm.Client
	logger *slog.Logger
	sink   events.Sink
	now    func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClient substitutes the backend client, typically a stub in tests.
func WithClient(c llm.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock fixes the payload timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEventSink replaces the run-event sink. Defaults to logging events.
func WithEventSink(sink events.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// New validates the configuration and builds an Engine. Unless WithClient is
// given, a real client is constructed from the configured providers.
func New(cfg configuration.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("workflow config: %w", err)
	}
	e := &Engine{cfg: cfg, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.sink == nil {
		e.sink = events.NewLogSink(e.logger)
	}
	if e.client == nil {
		client, err := llm.New(cfg.ClientConfig())
		if err != nil {
			return nil, err
		}
		e.client = client
	}
	return e, nil
}

// GradeExam runs the full pipeline over the exam and returns the final
// payload. decision may be nil; when present its overrides replace the
// referee-corrected grades for the matching question IDs.
//
// Individual question failures do not abort the run: they appear in the
// payload's Failures list while every other question is still graded.
func (e *Engine) GradeExam(ctx context.Context, exam domain.Exam, decision *domain.HumanDecision) (*domain.FinalPayload, error) {
	if err := exam.Validate(); err != nil {
		return nil, fmt.Errorf("exam: %w", err)
	}

	runID := uuid.New().String()
	logger := e.logger.With("component", "workflow", "exam_id", exam.ID, "run_id", runID)

	scope := pipeline.NewScope()
	initial := []string{assembly.SlotExamID, assembly.SlotRunID, retrieval.SlotQuestions, grading.SlotRubric}
	if err := scope.Set(assembly.SlotExamID, exam.ID); err != nil {
		return nil, err
	}
	if err := scope.Set(assembly.SlotRunID, runID); err != nil {
		return nil, err
	}
	if err := scope.Set(retrieval.SlotQuestions, exam.Questions); err != nil {
		return nil, err
	}
	if err := scope.Set(grading.SlotRubric, exam.Rubric); err != nil {
		return nil, err
	}
	if decision != nil {
		if err := scope.Set(assembly.SlotHumanDecision, decision); err != nil {
			return nil, err
		}
		initial = append(initial, assembly.SlotHumanDecision)
	}

	seq, err := e.buildSequence(initial)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "grading run starting", "questions", len(exam.Questions))
	e.emit(ctx, events.TypeRunStarted, exam.ID, runID, map[string]any{"questions": len(exam.Questions)})

	if err := seq.Run(ctx, scope); err != nil {
		logger.ErrorContext(ctx, "grading run failed", "error", err)
		e.emit(ctx, events.TypeRunFailed, exam.ID, runID, map[string]any{"error": err.Error()})
		return nil, err
	}

	raw, err := scope.Get(assembly.SlotFinalPayload)
	if err != nil {
		return nil, err
	}
	payload, ok := raw.(*domain.FinalPayload)
	if !ok {
		return nil, fmt.Errorf("slot %q: expected *domain.FinalPayload, got %T", assembly.SlotFinalPayload, raw)
	}
	for _, failure := range payload.Failures {
		e.emit(ctx, events.TypeItemFailed, exam.ID, runID, failure)
	}
	for _, issue := range payload.Report.Issues {
		if issue.Corrected {
			e.emit(ctx, events.TypeGradeCorrected, exam.ID, runID, issue)
		}
	}
	e.emit(ctx, events.TypeRunCompleted, exam.ID, runID, payload.Stats)

	logger.InfoContext(ctx, "grading run complete",
		"graded", len(payload.GradedQuestions),
		"failures", len(payload.Failures),
		"avg_score", payload.Stats.AvgScore)
	return payload, nil
}

// emit sends a run event to the sink. Sink failures are logged and
// swallowed: events serve observability, never correctness.
func (e *Engine) emit(ctx context.Context, eventType, examID, runID string, payload any) {
	env, err := events.New(eventType, "workflow", examID, runID, payload)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to build run event", "type", eventType, "error", err)
		return
	}
	if err := e.sink.Append(ctx, env); err != nil {
		e.logger.WarnContext(ctx, "failed to emit run event", "type", eventType, "error", err)
	}
}

// buildSequence constructs the five pipeline stages in order and validates
// the slot graph against the run's initial slots.
func (e *Engine) buildSequence(initial []string) (*pipeline.Sequence, error) {
	opts := llm.StructuredOptions{
		Repair:   llm.DefaultRepairConfig(),
		Reprompt: e.cfg.Pipeline.StrictReprompt,
	}

	retrievalStage := retrieval.NewStage(e.client, e.cfg.Backends.Retrieval, opts)
	summaryStage := summary.NewStage(e.client, e.cfg.Backends.Summary, opts)

	controller, err := retry.NewController(e.cfg.Retry)
	if err != nil {
		return nil, err
	}
	caps := []pipeline.Capability{
		tools.WithRetry(retrievalStage, controller),
		tools.WithRetry(summaryStage, controller),
		tools.WithRetry(tools.CalculatorCapability(), controller),
		tools.WithRetry(tools.NormalizeCapability(), controller),
	}
	grader := grading.NewStage(e.client, e.cfg.Backends.Grading, opts, caps...)

	loopOpts := []pipeline.LoopOption{pipeline.WithWorkers(e.cfg.Pipeline.LoopWorkers)}
	if e.cfg.Pipeline.BestEffortPartials {
		loopOpts = append(loopOpts, pipeline.WithBestEffortPartials())
	}
	loop := pipeline.NewLoop("loop_over_questions",
		retrieval.SlotQuestions, grading.SlotQuestion, referee.SlotGradedQuestions,
		grader, loopOpts...)

	refereeStage := referee.NewStage(e.client, e.cfg.Backends.Referee, opts, e.cfg.Pipeline.CorrectionPolicy)
	aggregator := assembly.NewStage(e.now)

	return pipeline.NewSequence("grading_pipeline", initial,
		retrievalStage, summaryStage, loop, refereeStage, aggregator)
}
