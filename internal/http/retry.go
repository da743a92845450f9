package http

import (
	"context"
	"errors"
	"time"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

const (
	baseRetryDelay = 200 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// Retrier re-sends requests that failed for transient reasons
type Retrier struct {
	config types.RetryConfig
}

// NewRetrier creates a retrier; MaxRetries of 0 disables retrying
func NewRetrier(config types.RetryConfig) *Retrier {
	if config.Backoff == "" {
		config.Backoff = "exponential"
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Retrier{config: config}
}

// Do runs fn until it succeeds with a non-retryable status or attempts run out.
// A context error is returned as is and never retried.
func (r *Retrier) Do(ctx context.Context, fn func() (*types.HTTPResponse, error)) (*types.HTTPResponse, error) {
	var (
		lastErr  error
		lastResp *types.HTTPResponse
	)

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := fn()
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr, lastResp = err, nil
		case r.shouldRetry(resp.StatusCode):
			lastErr, lastResp = nil, resp
		default:
			return resp, nil
		}

		if attempt < r.config.MaxRetries {
			if err := r.sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

func (r *Retrier) shouldRetry(statusCode int) bool {
	for _, code := range r.config.RetryOn {
		if statusCode == code {
			return true
		}
	}
	return false
}

// Delay returns the wait before retry number attempt (0-based)
func (r *Retrier) Delay(attempt int) time.Duration {
	var delay time.Duration
	switch r.config.Backoff {
	case "linear":
		delay = time.Duration(attempt+1) * baseRetryDelay
	case "exponential":
		delay = baseRetryDelay << uint(min(attempt, 10))
	default:
		delay = baseRetryDelay
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func (r *Retrier) sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(r.Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
