// Package retry implements the bounded retry/backoff controller that wraps
// every external call the pipeline makes: reasoning-backend requests and
// capability invocations alike. Transient failures are retried with
// exponential backoff; everything else propagates on the first attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	llmerrors "github.com/gradr-ai/gradr/internal/llm/errors"
	"github.com/gradr-ai/gradr/internal/llm/transport"
)

// Policy configuration errors.
var (
	errMaxAttemptsInvalid   = errors.New("max attempts must be greater than 0")
	errMultiplierInvalid    = errors.New("multiplier must be >= 1.0")
	errInitialDelayInvalid  = errors.New("initial delay must be >= 0")
	errContextCancelled     = errors.New("context cancelled before retry")
	errContextCancelledWait = errors.New("context cancelled during backoff")
)

// Policy bounds retries around a single external invocation. The attempts
// counter is per invocation and resets each call.
type Policy struct {
	// MaxAttempts is the total attempt budget, including the first call.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`

	// Multiplier is the multiplicative backoff base: the delay before
	// retry k is InitialDelay * Multiplier^(k-1).
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`

	// MaxInterval caps a single backoff delay. Zero means uncapped.
	MaxInterval time.Duration `json:"max_interval" yaml:"max_interval"`

	// UseJitter randomizes each delay between zero and the computed value
	// to spread concurrent retries. Off by default for predictable timing.
	UseJitter bool `json:"use_jitter" yaml:"use_jitter"`
}

// DefaultPolicy mirrors the production retry configuration: five attempts,
// one second initial delay, backoff base seven.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		Multiplier:   7,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, p.MaxAttempts)
	}
	if p.Multiplier < 1.0 {
		return fmt.Errorf("%w, got %g", errMultiplierInvalid, p.Multiplier)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("%w, got %v", errInitialDelayInvalid, p.InitialDelay)
	}
	return nil
}

// ExhaustedError is the terminal failure produced when a transient error
// persists through the full attempt budget. It carries the attempt count
// and the final underlying error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts exhausted: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Classifier decides whether an error is transient. The classification, not
// the attempt budget, is authoritative: a non-retryable failure propagates
// even when attempts remain.
type Classifier func(error) bool

// Controller executes calls under a retry policy. The zero value is not
// usable; construct with NewController.
type Controller struct {
	policy   Policy
	classify Classifier
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClassifier replaces the default transient-error classification.
func WithClassifier(c Classifier) Option {
	return func(r *Controller) { r.classify = c }
}

// WithSleeper replaces the backoff sleep. Tests inject a recording sleeper
// to assert the delay schedule without waiting it out.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Controller) { r.sleep = sleep }
}

// NewController builds a retry controller for the given policy.
func NewController(policy Policy, opts ...Option) (*Controller, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	r := &Controller{
		policy:   policy,
		classify: llmerrors.IsRetryableError,
		sleep:    sleepContext,
		logger:   slog.Default().With("component", "retry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Do runs fn under the controller's policy. On a transient failure it sleeps
// for the scheduled backoff and retries; on a non-retryable failure it
// returns after a single attempt. Exhausting the budget converts the
// transient failure into an *ExhaustedError.
func (r *Controller) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", errContextCancelled, err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("call succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		if !r.classify(err) {
			r.logger.Debug("non-retryable error", "attempt", attempt, "error", err)
			return err
		}

		lastErr = err
		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.backoff(attempt, err)
		r.logger.Debug("retrying after backoff", "attempt", attempt, "backoff", delay, "error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %w", errContextCancelledWait, err)
		}
	}

	return &ExhaustedError{Attempts: r.policy.MaxAttempts, Err: lastErr}
}

// sleepContext waits for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Middleware wraps a transport handler with the retry controller so every
// backend request shares the same retry semantics as capability calls.
func Middleware(policy Policy, opts ...Option) (transport.Middleware, error) {
	controller, err := NewController(policy, opts...)
	if err != nil {
		return nil, err
	}

	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			var resp *transport.Response
			err := controller.Do(ctx, func(ctx context.Context) error {
				var callErr error
				resp, callErr = next.Handle(ctx, req)
				return callErr
			})
			if err != nil {
				return nil, err
			}
			return resp, nil
		})
	}, nil
}
