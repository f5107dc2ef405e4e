package resilience

import "time"

type RetryPolicy struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

type BreakerPolicy struct {
	Enabled       bool
	MinRequests   uint32
	FailureRatio  float64
	OpenTimeout   time.Duration
	HalfOpenCalls uint32
}

type Policy struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
}

func DefaultPolicy() Policy {
	return Policy{
		Retry: RetryPolicy{
			Attempts:   3,
			Initial:    100 * time.Millisecond,
			Max:        400 * time.Millisecond,
			Multiplier: 2.0,
		},
		Breaker: BreakerPolicy{
			Enabled:       true,
			MinRequests:   10,
			FailureRatio:  0.5,
			OpenTimeout:   30 * time.Second,
			HalfOpenCalls: 2,
		},
	}
}

// StartupPolicy retries dependency dials while containers come up. The
// breaker is off because each dial happens once per process.
func StartupPolicy() Policy {
	return Policy{
		Retry: RetryPolicy{
			Attempts:   10,
			Initial:    250 * time.Millisecond,
			Max:        5 * time.Second,
			Multiplier: 2.0,
		},
	}
}

func (p Policy) withDefaults() Policy {
	out := p
	def := DefaultPolicy()

	if out.Retry.Attempts <= 0 {
		out.Retry.Attempts = def.Retry.Attempts
	}
	if out.Retry.Initial <= 0 {
		out.Retry.Initial = def.Retry.Initial
	}
	if out.Retry.Max < out.Retry.Initial {
		out.Retry.Max = out.Retry.Initial
	}
	if out.Retry.Multiplier < 1.0 {
		out.Retry.Multiplier = def.Retry.Multiplier
	}

	if out.Breaker.MinRequests == 0 {
		out.Breaker.MinRequests = def.Breaker.MinRequests
	}
	if out.Breaker.FailureRatio <= 0 || out.Breaker.FailureRatio > 1 {
		out.Breaker.FailureRatio = def.Breaker.FailureRatio
	}
	if out.Breaker.OpenTimeout <= 0 {
		out.Breaker.OpenTimeout = def.Breaker.OpenTimeout
	}
	if out.Breaker.HalfOpenCalls == 0 {
		out.Breaker.HalfOpenCalls = def.Breaker.HalfOpenCalls
	}
	return out
}
