// Package retry runs store and downstream round trips with bounded
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type Policy struct {
	Attempts   int
	BaseDelay  time.Duration
	Multiplier float64
}

// DefaultPolicy makes three attempts, waiting 1s then 2s between them.
var DefaultPolicy = Policy{Attempts: 3, BaseDelay: time.Second, Multiplier: 2.0}

// ErrExhausted wraps the last failure once every attempt has been used.
var ErrExhausted = errors.New("retry attempts exhausted")

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay returns the wait before the given retry (1-based).
func (p Policy) Delay(retry int) time.Duration {
	p = p.normalized()
	delay := float64(p.BaseDelay)
	for i := 1; i < retry; i++ {
		delay *= p.Multiplier
	}
	return time.Duration(delay)
}

func Do(ctx context.Context, policy Policy, logger *slog.Logger, op string, fn func(context.Context) error) error {
	_, err := DoValue(ctx, policy, logger, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func DoValue[T any](ctx context.Context, policy Policy, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.normalized()
	var zero T
	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		var permanent permanentError
		if errors.As(err, &permanent) {
			return zero, permanent.err
		}
		lastErr = err
		if attempt == policy.Attempts {
			break
		}
		delay := policy.Delay(attempt)
		if logger != nil {
			logger.Warn("retrying after failure", "op", op, "attempt", attempt, "delay", delay.String(), "error", err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}
	return zero, fmt.Errorf("%s: %w: %w", op, ErrExhausted, lastErr)
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
