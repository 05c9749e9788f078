package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/yunaamelia/debian-vps-workstation/pkg/telemetry"
)

// Policy configures bounded exponential backoff with optional jitter.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// ExponentialBase is the backoff multiplier per attempt.
	ExponentialBase float64 `json:"exponential_base" yaml:"exponential_base"`

	// Jitter adds uniform(0, delay/10) to each backoff to spread retry
	// storms from concurrent workers.
	Jitter bool `json:"jitter" yaml:"jitter"`
}

// DefaultPolicy returns the retry defaults (3 retries, 1s..30s, base 2).
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// Delay returns the backoff before retrying the given zero-based attempt:
// min(initialDelay * base^attempt, maxDelay), plus jitter when enabled.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.ExponentialBase, float64(attempt))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}

	delay := time.Duration(d)
	if p.Jitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/10 + 1))
	}
	return delay
}

// RetryExhaustedError wraps the last underlying error after every attempt
// of a retry sequence failed.
type RetryExhaustedError struct {
	// Service is the guarded dependency the operation targeted.
	Service string

	// Attempts is the number of attempts made.
	Attempts int

	// Err is the error from the final attempt.
	Err error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("service %q failed after %d attempts: %v", e.Service, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// Operation is a fallible operation guarded by the retry executor.
type Operation func(ctx context.Context) error

// Executor wraps operations with retries and consults the per-service
// circuit breaker before every attempt.
type Executor struct {
	breakers *BreakerSet
	policy   Policy
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
}

// NewExecutor creates a retry executor with the given default policy.
func NewExecutor(breakers *BreakerSet, policy Policy, log *telemetry.Logger, metrics *telemetry.Metrics) *Executor {
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}
	return &Executor{
		breakers: breakers,
		policy:   policy,
		log:      log.NewComponentLogger("retry"),
		metrics:  metrics,
	}
}

// Breakers exposes the underlying breaker set for status reporting.
func (e *Executor) Breakers() *BreakerSet {
	return e.breakers
}

// Do executes op under the executor's default policy.
func (e *Executor) Do(ctx context.Context, service string, op Operation) error {
	return e.DoWithPolicy(ctx, service, e.policy, op)
}

// DoWithPolicy executes op, retrying failures with exponential backoff.
//
// The breaker for the service is consulted before every attempt; when it is
// open the call fails immediately with *CircuitOpenError and no attempt is
// made. A successful attempt in any state closes the breaker. A failed
// half-open trial reopens the breaker and ends the sequence at once. An
// exhausted sequence is reported to the breaker as exactly one failure event
// and returns *RetryExhaustedError wrapping the last error.
func (e *Executor) DoWithPolicy(ctx context.Context, service string, policy Policy, op Operation) error {
	br := e.breakers.Get(service)
	log := e.log.WithService(service)

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		allowed, grantState := br.Allow()
		if !allowed {
			e.metrics.RecordBreakerRejection(service)
			return &CircuitOpenError{Service: service, RetryAfter: br.RetryAfter()}
		}

		err := op(ctx)
		if err == nil {
			br.RecordSuccess()
			e.metrics.RecordRetryAttempt(service, "success")
			return nil
		}

		lastErr = err
		e.metrics.RecordRetryAttempt(service, "failure")

		if grantState == StateHalfOpen {
			// The single trial failed; the breaker reopens and further
			// attempts would be rejected anyway.
			br.RecordFailure()
			return &RetryExhaustedError{Service: service, Attempts: attempt + 1, Err: lastErr}
		}

		if attempt >= policy.MaxRetries {
			break
		}

		delay := policy.Delay(attempt)
		log.Zerolog().Debug().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", policy.MaxRetries+1).
			Dur("backoff", delay).
			Msg("Operation failed, backing off before retry")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// The whole sequence counts as a single breaker failure event so retry
	// storms do not trip the breaker on their own.
	br.RecordFailure()
	return &RetryExhaustedError{Service: service, Attempts: policy.MaxRetries + 1, Err: lastErr}
}
