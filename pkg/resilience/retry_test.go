package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
	}
}

func TestPolicyDelaySequence(t *testing.T) {
	p := Policy{
		MaxRetries:      5,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          false,
	}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
	}
	for attempt, wantDelay := range want {
		if got := p.Delay(attempt); got != wantDelay {
			t.Errorf("Delay(%d) = %s, want %s", attempt, got, wantDelay)
		}
	}
}

func TestPolicyDelayJitterBounds(t *testing.T) {
	p := Policy{
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}

	base := 4 * time.Second
	for i := 0; i < 100; i++ {
		got := p.Delay(2)
		if got < base || got > base+base/10 {
			t.Fatalf("Delay(2) = %s, want within [%s, %s]", got, base, base+base/10)
		}
	}
}

func TestExecutorSucceedsAfterTransientFailures(t *testing.T) {
	set := NewBreakerSet(DefaultBreakerConfig(), nil, nil)
	ex := NewExecutor(set, fastPolicy(), nil, nil)

	calls := 0
	err := ex.Do(context.Background(), "mirror", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("op called %d times, want 3", calls)
	}
	if got := set.Get("mirror").Status().State; got != StateClosed {
		t.Fatalf("breaker state = %s, want %s", got, StateClosed)
	}
}

func TestExecutorExhaustionIsOneBreakerFailure(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{Threshold: 2, OpenTimeout: time.Minute}, nil, nil)
	ex := NewExecutor(set, fastPolicy(), nil, nil)

	opErr := errors.New("mirror down")
	calls := 0
	err := ex.Do(context.Background(), "mirror", func(ctx context.Context) error {
		calls++
		return opErr
	})

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Do() = %v, want *RetryExhaustedError", err)
	}
	if exhausted.Attempts != 4 {
		t.Fatalf("Attempts = %d, want 4 (1 initial + 3 retries)", exhausted.Attempts)
	}
	if !errors.Is(err, opErr) {
		t.Fatal("RetryExhaustedError should wrap the last operation error")
	}
	if calls != 4 {
		t.Fatalf("op called %d times, want 4", calls)
	}

	// Four failed attempts count as one failure event: threshold 2 is not
	// reached and the breaker stays closed.
	if got := set.Get("mirror").Status().State; got != StateClosed {
		t.Fatalf("breaker state = %s, want %s", got, StateClosed)
	}
	if got := set.Get("mirror").Status().Failures; got != 1 {
		t.Fatalf("failure count = %d, want 1", got)
	}
}

func TestExecutorRejectsWhenOpen(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{Threshold: 1, OpenTimeout: time.Minute}, nil, nil)
	ex := NewExecutor(set, fastPolicy(), nil, nil)

	set.Get("mirror").RecordFailure()

	calls := 0
	err := ex.Do(context.Background(), "mirror", func(ctx context.Context) error {
		calls++
		return nil
	})

	var open *CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("Do() = %v, want *CircuitOpenError", err)
	}
	if open.Service != "mirror" {
		t.Fatalf("Service = %q, want mirror", open.Service)
	}
	if calls != 0 {
		t.Fatalf("op called %d times through an open breaker, want 0", calls)
	}
}

func TestExecutorFailedHalfOpenTrialEndsSequence(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{Threshold: 1, OpenTimeout: time.Millisecond}, nil, nil)
	ex := NewExecutor(set, fastPolicy(), nil, nil)

	set.Get("mirror").RecordFailure()
	time.Sleep(5 * time.Millisecond)

	calls := 0
	err := ex.Do(context.Background(), "mirror", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("still down")
	})

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Do() = %v, want *RetryExhaustedError", err)
	}
	if calls != 1 {
		t.Fatalf("op called %d times, want 1: a failed half-open trial must not be retried", calls)
	}
	if got := set.Get("mirror").Status().State; got != StateOpen {
		t.Fatalf("breaker state = %s, want %s", got, StateOpen)
	}
}

func TestExecutorSuccessfulTrialClosesBreaker(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{Threshold: 1, OpenTimeout: time.Millisecond}, nil, nil)
	ex := NewExecutor(set, fastPolicy(), nil, nil)

	set.Get("mirror").RecordFailure()
	time.Sleep(5 * time.Millisecond)

	err := ex.Do(context.Background(), "mirror", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if got := set.Get("mirror").Status().State; got != StateClosed {
		t.Fatalf("breaker state = %s, want %s", got, StateClosed)
	}
}

func TestExecutorContextCancellationDuringBackoff(t *testing.T) {
	set := NewBreakerSet(DefaultBreakerConfig(), nil, nil)
	policy := Policy{
		MaxRetries:      3,
		InitialDelay:    time.Hour,
		MaxDelay:        time.Hour,
		ExponentialBase: 2.0,
	}
	ex := NewExecutor(set, policy, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ex.Do(ctx, "mirror", func(ctx context.Context) error {
			return errors.New("fail")
		})
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Do() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation during backoff")
	}
}
