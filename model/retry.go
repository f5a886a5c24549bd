package model

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tailored-agentic-units/warden/observability"
)

// EventRetry is emitted before each retry of a transient failure.
const EventRetry observability.EventType = "model.retry"

type retryClient struct {
	next       Client
	maxRetries uint64
	initial    time.Duration
	max        time.Duration
	observer   observability.Observer
}

// WithRetry wraps next so transient failures are retried up to
// cfg.MaxRetries times with exponential backoff capped at cfg.MaxBackoff.
// Fatal failures and context cancellation return immediately.
func WithRetry(next Client, cfg Config, observer observability.Observer) (Client, error) {
	initial, err := parseDuration("initial_backoff", cfg.InitialBackoff)
	if err != nil {
		return nil, err
	}
	maxWait, err := parseDuration("max_backoff", cfg.MaxBackoff)
	if err != nil {
		return nil, err
	}
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &retryClient{
		next:       next,
		maxRetries: uint64(cfg.MaxRetries),
		initial:    initial,
		max:        maxWait,
		observer:   observer,
	}, nil
}

func (c *retryClient) Infer(ctx context.Context, req Request) (*Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initial
	policy.MaxInterval = c.max
	policy.MaxElapsedTime = 0

	var resp *Response
	operation := func() error {
		r, err := c.next.Infer(ctx, req)
		if err == nil {
			resp = r
			return nil
		}
		if !IsTransient(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		observability.Emit(ctx, c.observer, EventRetry, observability.LevelWarning, "model.Client",
			map[string]any{"attempt": attempt, "wait": wait.String(), "error": err.Error()})
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, err
	}
	return resp, nil
}
