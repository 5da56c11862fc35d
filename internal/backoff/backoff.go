// Package backoff retries fallible operations with exponential delays.
package backoff

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how an operation is retried. The zero value performs a
// single attempt.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64

	// RetryOn lists the recoverable failure kinds, matched with errors.Is.
	RetryOn []error
	// Retryable, when set, is consulted for errors not matched by RetryOn.
	Retryable func(error) bool

	Name   string
	Logger *slog.Logger
	Sleep  SleepFunc
}

// Do runs op until it succeeds, fails with a non-recoverable error, or the
// retries are exhausted. The last failure is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if !p.recoverable(err) {
			return result, err
		}

		if attempt >= p.MaxRetries {
			if p.MaxRetries > 0 {
				p.log(slog.LevelError, "giving up after retries", "retries", p.MaxRetries, "error", err)
			}
			return result, err
		}

		delay := p.Delay(attempt)
		p.log(slog.LevelWarn, "attempt failed, retrying",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return result, sleepErr
		}
	}
}

// Delay returns min(BaseDelay * ExponentialBase^attempt, MaxDelay) for a
// zero-based attempt. A zero MaxDelay means no wait.
func (p Policy) Delay(attempt int) time.Duration {
	factor := p.ExponentialBase
	if factor < 1 {
		factor = 1
	}

	delay := math.Min(float64(p.BaseDelay)*math.Pow(factor, float64(attempt)), float64(p.MaxDelay))
	switch {
	case delay <= 0 || math.IsNaN(delay):
		return 0
	case delay >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func (p Policy) recoverable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, kind := range p.RetryOn {
		if errors.Is(err, kind) {
			return true
		}
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return false
}

func (p Policy) log(level slog.Level, msg string, args ...any) {
	if p.Logger == nil {
		return
	}
	if p.Name != "" {
		args = append(args, "operation", p.Name)
	}
	p.Logger.Log(context.Background(), level, msg, args...)
}

// Sleep waits for d, returning early with the context error on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
