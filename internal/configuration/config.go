// Package configuration assembles the pipeline's runtime settings. All
// configuration is explicit: a struct passed into the pipeline constructor,
// loadable from a YAML file, with no ambient environment mutation.
package configuration

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gradr-ai/gradr/internal/llm"
	"github.com/gradr-ai/gradr/internal/llm/providers"
	"github.com/gradr-ai/gradr/internal/llm/retry"
)

// Correction policies for structurally invalid graded entries.
const (
	// CorrectionClamp clamps out-of-range values into bounds and flags the
	// entry. The default.
	CorrectionClamp = "clamp"

	// CorrectionDrop removes the invalid entry from the corrected list.
	CorrectionDrop = "drop"
)

// Configuration validation errors.
var (
	errNoProviders         = errors.New("at least one provider must be configured")
	errUnknownPolicy       = errors.New("correction policy must be \"clamp\" or \"drop\"")
	errLoopWorkersInvalid  = errors.New("loop workers must be at least 1")
	errMissingStageBackend = errors.New("stage backend missing provider or model")
)

// StageBackend selects the provider and model a stage calls.
type StageBackend struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

// Backends assigns a backend per pipeline stage. The original deployment
// used a lightweight model for retrieval and summary and a stronger one for
// grading and validation; defaults follow that split.
type Backends struct {
	Retrieval StageBackend `json:"retrieval" yaml:"retrieval"`
	Summary   StageBackend `json:"summary" yaml:"summary"`
	Grading   StageBackend `json:"grading" yaml:"grading"`
	Referee   StageBackend `json:"referee" yaml:"referee"`
}

// Pipeline holds orchestration settings.
type Pipeline struct {
	// LoopWorkers bounds concurrent grading of questions.
	LoopWorkers int `json:"loop_workers" yaml:"loop_workers"`

	// CorrectionPolicy is CorrectionClamp or CorrectionDrop.
	CorrectionPolicy string `json:"correction_policy" yaml:"correction_policy"`

	// StrictReprompt allows one bounded re-prompt requesting strict format
	// compliance when a stage's output fails its contract. Off by default:
	// fail fast.
	StrictReprompt bool `json:"strict_reprompt" yaml:"strict_reprompt"`

	// BestEffortPartials returns partial loop output on cancellation
	// instead of discarding it.
	BestEffortPartials bool `json:"best_effort_partials" yaml:"best_effort_partials"`
}

// Config is the full pipeline configuration.
type Config struct {
	Providers map[string]providers.Config `json:"providers" yaml:"providers"`
	Retry     retry.Policy                `json:"retry" yaml:"retry"`
	Backends  Backends                    `json:"backends" yaml:"backends"`
	Pipeline  Pipeline                    `json:"pipeline" yaml:"pipeline"`

	// HTTPTimeout bounds a single backend round trip.
	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout"`
}

// Default returns the production defaults, matching the original deployment:
// Gemini backends, five retry attempts with backoff base seven, four loop
// workers, clamp-and-flag correction.
func Default() Config {
	return Config{
		Providers: map[string]providers.Config{},
		Retry:     retry.DefaultPolicy(),
		Backends: Backends{
			Retrieval: StageBackend{Provider: providers.ProviderGoogle, Model: "gemini-2.5-flash-lite"},
			Summary:   StageBackend{Provider: providers.ProviderGoogle, Model: "gemini-2.5-flash-lite"},
			Grading:   StageBackend{Provider: providers.ProviderGoogle, Model: "gemini-2.5-flash"},
			Referee:   StageBackend{Provider: providers.ProviderGoogle, Model: "gemini-2.5-flash"},
		},
		Pipeline: Pipeline{
			LoopWorkers:      4,
			CorrectionPolicy: CorrectionClamp,
		},
		HTTPTimeout: llm.DefaultHTTPTimeout,
	}
}

// Load reads a YAML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errNoProviders
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.Pipeline.LoopWorkers < 1 {
		return fmt.Errorf("%w, got %d", errLoopWorkersInvalid, c.Pipeline.LoopWorkers)
	}
	switch c.Pipeline.CorrectionPolicy {
	case CorrectionClamp, CorrectionDrop:
	default:
		return fmt.Errorf("%w, got %q", errUnknownPolicy, c.Pipeline.CorrectionPolicy)
	}
	for name, backend := range map[string]StageBackend{
		"retrieval": c.Backends.Retrieval,
		"summary":   c.Backends.Summary,
		"grading":   c.Backends.Grading,
		"referee":   c.Backends.Referee,
	} {
		if backend.Provider == "" || backend.Model == "" {
			return fmt.Errorf("%w: %s", errMissingStageBackend, name)
		}
	}
	return nil
}

// ClientConfig projects the client-relevant settings.
func (c *Config) ClientConfig() llm.Config {
	return llm.Config{
		Providers:   c.Providers,
		Retry:       c.Retry,
		HTTPTimeout: c.HTTPTimeout,
	}
}
