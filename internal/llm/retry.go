package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentic-nwb/orchestrator/internal/apierrors"
	"github.com/agentic-nwb/orchestrator/internal/config"
	"github.com/agentic-nwb/orchestrator/internal/logging"
	"github.com/agentic-nwb/orchestrator/internal/obs"
)

// maxAttempts is the total attempt budget shared by both fault
// classes (§4.5: "up to 5 attempts total").
const maxAttempts = 5

// linearBackOff implements backoff.BackOff with the generic-transient
// policy: 1+attempt seconds, growing by one second per attempt.
type linearBackOff struct {
	attempt int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	return time.Duration(l.attempt) * time.Second
}

func (l *linearBackOff) Reset() { l.attempt = 0 }

// newRateLimitBackOff builds the exponential 2^attempt policy
// (attempt 0 -> 1s, 1 -> 2s, 2 -> 4s, ...), undamped by jitter so the
// ±10% tolerance in the seed test scenarios is easy to hit.
func newRateLimitBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // bounded by attempt count below, not elapsed time
	b.Reset()
	return b
}

// Client is the agent-facing call_llm wrapper: synchronous to its
// caller, but may suspend during backoff, and honors ctx's deadline at
// every suspension point (§4.5 and §5's "suspension points").
type Client struct {
	provider Provider
	opts     Options
	logger   logging.Logger
	obs      *obs.Provider // nil-able
}

// NewClient builds a call_llm wrapper pinned to provider with the
// generation parameters sourced from cfg. obsProvider is nil-able;
// when set, Call emits a span per attempt and increments the retry
// counter on every backoff.
func NewClient(provider Provider, cfg *config.AgentConfig, logger logging.Logger, obsProvider *obs.Provider) *Client {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Client{
		provider: provider,
		opts: Options{
			Model:       cfg.ModelID,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			TopP:        cfg.TopP,
		},
		logger: logger.WithComponent("llm"),
		obs:    obsProvider,
	}
}

// Call runs call_llm(prompt, systemMessage) with the §4.5 retry
// policy: rate-limit faults get exponential 2^attempt backoff, other
// transient faults get linear 1+attempt backoff, non-transient faults
// (config, malformed input, unsupported model) never retry. Both
// backoff policies are driven through backoff.BackOff so the request
// is interruptible at every sleep boundary via ctx.
func (c *Client) Call(ctx context.Context, prompt, systemMessage string) (string, error) {
	rateLimitBackOff := backoff.WithContext(newRateLimitBackOff(), ctx)
	linearBackOffCtx := backoff.WithContext(&linearBackOff{}, ctx)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		attemptCtx := ctx
		var endSpan func()
		if c.obs != nil {
			spanCtx, span := c.obs.StartSpan(ctx, "llm.call_llm", attribute.Int("attempt", attempt))
			attemptCtx = spanCtx
			endSpan = span.End
		}
		out, err := c.provider.Complete(attemptCtx, prompt, systemMessage, c.opts)
		if endSpan != nil {
			endSpan()
		}
		if err == nil {
			return out, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		var wait time.Duration
		switch {
		case errors.Is(err, apierrors.ErrLLMRateLimited):
			wait = rateLimitBackOff.NextBackOff()
		case errors.Is(err, apierrors.ErrLLMTransient) || errors.Is(err, apierrors.ErrTransport):
			wait = linearBackOffCtx.NextBackOff()
		default:
			// Non-transient: configuration, unsupported model,
			// malformed input - surface immediately, no retry.
			c.logger.Error("call_llm non-retryable failure", map[string]interface{}{"attempt": attempt, "error": err.Error()})
			return "", fmt.Errorf("%w: %v", apierrors.ErrLLMCallFailed, err)
		}

		if c.obs != nil {
			c.obs.LLMRetries.Add(ctx, 1)
		}
		c.logger.Warn("call_llm retrying after fault", map[string]interface{}{"attempt": attempt, "wait_seconds": wait.Seconds(), "error": err.Error()})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	return "", fmt.Errorf("%w: %v", apierrors.ErrLLMCallFailed, lastErr)
}
