package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		Attempts:   attempts,
		Initial:    time.Millisecond,
		Max:        2 * time.Millisecond,
		Multiplier: 2,
	}
}

func TestRunRetriesTransientFailure(t *testing.T) {
	runner := NewRunner(Policy{Retry: fastRetry(3)})

	attempts := 0
	errTemp := errors.New("temporary")
	err := runner.Run(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, TransientErrors)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunStopsOnPermanentFailure(t *testing.T) {
	runner := NewRunner(Policy{Retry: fastRetry(3)})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := runner.Run(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, nil)
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRunGivesUpWhenContextCancelled(t *testing.T) {
	runner := NewRunner(Policy{Retry: RetryPolicy{Attempts: 5, Initial: time.Second, Max: time.Second}})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	errTemp := errors.New("temporary")
	start := time.Now()
	err := runner.Run(ctx, "op", func(context.Context) error {
		attempts++
		return errTemp
	}, TransientErrors)
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected last attempt error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", attempts)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("backoff was not interrupted by context")
	}
}

func TestRunOpensCircuitAfterFailures(t *testing.T) {
	runner := NewRunner(Policy{
		Retry: fastRetry(1),
		Breaker: BreakerPolicy{
			Enabled:       true,
			MinRequests:   2,
			FailureRatio:  0.5,
			OpenTimeout:   50 * time.Millisecond,
			HalfOpenCalls: 1,
		},
	})

	errTemp := errors.New("temporary")
	for i := 0; i < 2; i++ {
		err := runner.Run(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, PermanentErrors)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := runner.Run(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, PermanentErrors)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestTransientErrorsIgnoresCancellation(t *testing.T) {
	if v := TransientErrors(context.Canceled); v.Retry || v.CountFailure {
		t.Fatalf("expected cancellation to be neither retried nor counted, got %+v", v)
	}
	if v := TransientErrors(errors.New("x")); !v.Retry {
		t.Fatalf("expected generic error to be retried")
	}
}
