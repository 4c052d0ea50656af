// Command gradr grades an exam end to end: it parses a question sheet and a
// marking guide, pairs the questions with student answers, runs the grading
// pipeline against the configured backends, and prints the final payload as
// JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/gradr-ai/gradr/internal/configuration"
	"github.com/gradr-ai/gradr/internal/domain"
	"github.com/gradr-ai/gradr/internal/tools"
	"github.com/gradr-ai/gradr/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gradr:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    = flag.String("config", "", "pipeline configuration file (YAML); defaults apply when empty")
		examID        = flag.String("exam", "", "exam identifier (required)")
		questionsPath = flag.String("questions", "", "question sheet text file (required)")
		guidePath     = flag.String("guide", "", "marking guide text file (required)")
		answersPath   = flag.String("answers", "", "student answers YAML file, question ID to answer text (required)")
		verbose       = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *examID == "" || *questionsPath == "" || *guidePath == "" || *answersPath == "" {
		flag.Usage()
		return fmt.Errorf("-exam, -questions, -guide and -answers are required")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := configuration.Default()
	if *configPath != "" {
		loaded, err := configuration.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	exam, err := loadExam(*examID, *questionsPath, *guidePath, *answersPath)
	if err != nil {
		return err
	}

	engine, err := workflow.New(cfg, workflow.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payload, err := engine.GradeExam(ctx, exam, nil)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// loadExam reads and parses the three input files and pairs answers with
// questions by question ID. A question without an answer is graded as blank.
func loadExam(examID, questionsPath, guidePath, answersPath string) (domain.Exam, error) {
	questionText, err := tools.ExtractText(questionsPath)
	if err != nil {
		return domain.Exam{}, fmt.Errorf("questions: %w", err)
	}
	questions, err := tools.ParseQuestions(questionText)
	if err != nil {
		return domain.Exam{}, fmt.Errorf("questions: %w", err)
	}

	guideText, err := tools.ExtractText(guidePath)
	if err != nil {
		return domain.Exam{}, fmt.Errorf("marking guide: %w", err)
	}
	rubric, err := tools.ParseMarkingGuide(guideText)
	if err != nil {
		return domain.Exam{}, fmt.Errorf("marking guide: %w", err)
	}

	raw, err := os.ReadFile(answersPath)
	if err != nil {
		return domain.Exam{}, fmt.Errorf("answers: %w", err)
	}
	answers := map[string]string{}
	if err := yaml.Unmarshal(raw, &answers); err != nil {
		return domain.Exam{}, fmt.Errorf("answers: %w", err)
	}
	for i := range questions {
		questions[i].StudentAnswer = answers[questions[i].ID]
	}

	exam := domain.Exam{ID: examID, Questions: questions, Rubric: rubric}
	if err := exam.Validate(); err != nil {
		return domain.Exam{}, err
	}
	return exam, nil
}
