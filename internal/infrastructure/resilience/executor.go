package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Verdict tells the runner what a failed attempt means.
type Verdict struct {
	Retry        bool
	CountFailure bool
}

type Classifier func(err error) Verdict

// Runner applies retry with exponential backoff and, optionally, a circuit
// breaker per named operation.
type Runner struct {
	policy Policy

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewRunner(policy Policy) *Runner {
	return &Runner{
		policy:   policy.withDefaults(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (r *Runner) Run(ctx context.Context, name string, fn func(context.Context) error, classify Classifier) error {
	if fn == nil {
		return fmt.Errorf("resilience: nil operation %q", name)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "unnamed"
	}
	if classify == nil {
		classify = PermanentErrors
	}

	if !r.policy.Breaker.Enabled {
		return r.retry(ctx, name, fn, classify)
	}
	_, err := r.breaker(name, classify).Execute(func() (struct{}, error) {
		return struct{}{}, r.retry(ctx, name, fn, classify)
	})
	return err
}

func (r *Runner) retry(ctx context.Context, name string, fn func(context.Context) error, classify Classifier) error {
	policy := r.policy.Retry
	wait := policy.Initial

	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt == policy.Attempts || !classify(err).Retry {
			return err
		}

		slog.Warn("retry_attempt",
			"operation", name,
			"attempt", attempt,
			"max_attempts", policy.Attempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		if !sleep(ctx, wait) {
			return err
		}
		wait = min(time.Duration(float64(wait)*policy.Multiplier), policy.Max)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) breaker(name string, classify Classifier) *gobreaker.CircuitBreaker[struct{}] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	policy := r.policy.Breaker
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: policy.HalfOpenCalls,
		Timeout:     policy.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < policy.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= policy.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).CountFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	r.breakers[name] = cb
	return cb
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// PermanentErrors never retries and counts every error against the breaker.
func PermanentErrors(error) Verdict {
	return Verdict{CountFailure: true}
}

// TransientErrors retries everything except caller cancellation.
func TransientErrors(err error) Verdict {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Verdict{}
	}
	return Verdict{Retry: true, CountFailure: true}
}
