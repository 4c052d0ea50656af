// Package llm provides a resilient client for reasoning-backend providers.
// A single middleware chain — logging, then retry, then the HTTP core —
// wraps every backend call so all stages share the same transient-failure
// handling.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	llmerrors "github.com/gradr-ai/gradr/internal/llm/errors"
	"github.com/gradr-ai/gradr/internal/llm/providers"
	"github.com/gradr-ai/gradr/internal/llm/retry"
	"github.com/gradr-ai/gradr/internal/llm/transport"
)

// DefaultHTTPTimeout bounds the underlying HTTP client when none is
// configured.
const DefaultHTTPTimeout = 120 * time.Second

// Client issues reasoning-backend requests. Implementations must be safe for
// concurrent use; loop items share one client.
type Client interface {
	// Complete sends the request through the middleware chain and returns
	// the backend's response. The returned text is untrusted; callers parse
	// it against their declared output shape.
	Complete(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Config assembles a client.
type Config struct {
	// Providers maps provider names to their connection settings.
	Providers map[string]providers.Config `json:"providers" yaml:"providers"`

	// Retry is the policy applied to every backend call.
	Retry retry.Policy `json:"retry" yaml:"retry"`

	// HTTPTimeout bounds the shared HTTP client.
	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout"`
}

type client struct {
	handler transport.Handler
}

// New builds a client whose handler chain is logging → retry → HTTP core.
func New(cfg Config) (Client, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", llmerrors.ErrUnknownProvider)
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	retryMW, err := retry.Middleware(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	core := transport.NewHTTPHandler(&http.Client{Timeout: timeout}, providers.NewRouter(cfg.Providers))
	return &client{
		handler: transport.Chain(core, LoggingMiddleware(), retryMW),
	}, nil
}

// NewWithHandler builds a client over an explicit handler. Tests use it to
// substitute stub backends while keeping the middleware chain real.
func NewWithHandler(h transport.Handler, middlewares ...transport.Middleware) Client {
	return &client{handler: transport.Chain(h, middlewares...)}
}

// Complete implements Client.
func (c *client) Complete(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	resp, err := c.handler.Handle(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Content == "" {
		return nil, llmerrors.ErrEmptyResponseContent
	}
	return resp, nil
}
