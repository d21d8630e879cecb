package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds the retries of transient provider failures.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // window of the first backoff, doubled per attempt
	MaxDelay    time.Duration // upper bound of a single backoff window
}

// DefaultRetryPolicy returns 3 attempts with a 1s exponential base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 16 * time.Second}
}

// RetryingProvider decorates an LLMProvider with bounded exponential backoff and
// full jitter. Only ErrTransport and ErrRateLimit are retried; rate limits back off
// twice as long. Streaming calls retry the connection phase only.
type RetryingProvider struct {
	inner  LLMProvider
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(window time.Duration) time.Duration
}

// RetryOption customises a RetryingProvider.
type RetryOption func(*RetryingProvider)

// WithRetryLogger sets the logger used for retry warnings.
func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(r *RetryingProvider) { r.logger = l }
}

// WithSleep replaces the backoff sleeper (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *RetryingProvider) { r.sleep = fn }
}

// NewRetryingProvider wraps inner with policy. A zero MaxAttempts means one attempt.
func NewRetryingProvider(inner LLMProvider, policy RetryPolicy, opts ...RetryOption) *RetryingProvider {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	r := &RetryingProvider{
		inner:  inner,
		policy: policy,
		logger: slog.Default(),
		sleep:  sleepCtx,
		jitter: fullJitter,
	}
	for _, fn := range opts {
		fn(r)
	}
	return r
}

// Unwrap returns the decorated provider.
func (r *RetryingProvider) Unwrap() LLMProvider { return r.inner }

// ChatCompletion retries the inner call on transient failures.
func (r *RetryingProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	err := r.do(ctx, "chat", func() error {
		var err error
		resp, err = r.inner.ChatCompletion(ctx, req)
		return err
	})
	return resp, err
}

// ChatCompletionStream retries until the stream is established; fragments are never replayed.
func (r *RetryingProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	var ch <-chan StreamChunk
	err := r.do(ctx, "stream", func() error {
		var err error
		ch, err = r.inner.ChatCompletionStream(ctx, req)
		return err
	})
	return ch, err
}

// ModelInfo delegates to the inner provider.
func (r *RetryingProvider) ModelInfo() ModelMeta { return r.inner.ModelInfo() }

// HealthCheck is not retried.
func (r *RetryingProvider) HealthCheck(ctx context.Context) error { return r.inner.HealthCheck(ctx) }

func (r *RetryingProvider) do(ctx context.Context, op string, call func() error) error {
	var err error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if err = call(); err == nil || !Retryable(err) {
			return err
		}
		if attempt == r.policy.MaxAttempts-1 {
			break
		}
		wait := r.jitter(r.window(attempt, err))
		meta := r.inner.ModelInfo()
		r.logger.Warn("llm call failed, retrying",
			"provider", meta.Provider, "model", meta.ID, "op", op,
			"attempt", attempt+1, "wait", wait, "error", err)
		if sleepErr := r.sleep(ctx, wait); sleepErr != nil {
			return fmt.Errorf("%w (retry aborted: %v)", err, sleepErr)
		}
	}
	return fmt.Errorf("after %d attempts: %w", r.policy.MaxAttempts, err)
}

// window is base*2^attempt capped at MaxDelay, doubled for rate limits.
func (r *RetryingProvider) window(attempt int, err error) time.Duration {
	d := r.policy.BaseDelay << attempt
	if r.policy.MaxDelay > 0 && d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	if errors.Is(err, ErrRateLimit) {
		d *= 2
	}
	return d
}

func fullJitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return rand.N(window + 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
