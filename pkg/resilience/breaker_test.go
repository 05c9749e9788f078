package resilience

import (
	"sync"
	"testing"
	"time"
)

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := NewBreaker("mirror", BreakerConfig{Threshold: 3, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if allowed, _ := b.Allow(); !allowed {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}

	b.RecordFailure()
	if allowed, _ := b.Allow(); allowed {
		t.Fatal("breaker still closed after reaching the failure threshold")
	}
	if got := b.Status().State; got != StateOpen {
		t.Fatalf("state = %s, want %s", got, StateOpen)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("mirror", BreakerConfig{Threshold: 3, OpenTimeout: time.Minute}, nil)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if allowed, _ := b.Allow(); !allowed {
		t.Fatal("breaker opened although a success reset the failure count")
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker("mirror", BreakerConfig{Threshold: 1, OpenTimeout: 10 * time.Millisecond}, nil)

	b.RecordFailure()
	if allowed, _ := b.Allow(); allowed {
		t.Fatal("breaker should be open immediately after tripping")
	}

	time.Sleep(20 * time.Millisecond)

	allowed, state := b.Allow()
	if !allowed {
		t.Fatal("breaker should admit a trial after the open timeout")
	}
	if state != StateHalfOpen {
		t.Fatalf("grant state = %s, want %s", state, StateHalfOpen)
	}
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	b := NewBreaker("mirror", BreakerConfig{Threshold: 1, OpenTimeout: time.Millisecond}, nil)
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	const goroutines = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _ := b.Allow(); allowed {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Fatalf("half-open granted %d trials, want exactly 1", granted)
	}
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	b := NewBreaker("mirror", BreakerConfig{Threshold: 1, OpenTimeout: time.Millisecond}, nil)
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	if allowed, _ := b.Allow(); !allowed {
		t.Fatal("expected a half-open trial")
	}
	b.RecordFailure()

	if got := b.Status().State; got != StateOpen {
		t.Fatalf("state after failed trial = %s, want %s", got, StateOpen)
	}
	if allowed, _ := b.Allow(); allowed {
		t.Fatal("breaker should reject calls right after a failed trial")
	}
}

func TestBreakerSuccessfulTrialCloses(t *testing.T) {
	b := NewBreaker("mirror", BreakerConfig{Threshold: 1, OpenTimeout: time.Millisecond}, nil)
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)

	if allowed, _ := b.Allow(); !allowed {
		t.Fatal("expected a half-open trial")
	}
	b.RecordSuccess()

	if got := b.Status().State; got != StateClosed {
		t.Fatalf("state after successful trial = %s, want %s", got, StateClosed)
	}
	if allowed, state := b.Allow(); !allowed || state != StateClosed {
		t.Fatalf("Allow() = (%v, %s), want (true, %s)", allowed, state, StateClosed)
	}
}

func TestBreakerTransitionsAreNotified(t *testing.T) {
	var mu sync.Mutex
	var transitions []BreakerState

	b := NewBreaker("mirror", BreakerConfig{Threshold: 1, OpenTimeout: time.Millisecond}, func(service string, state BreakerState) {
		if service != "mirror" {
			t.Errorf("transition for service %q, want mirror", service)
		}
		mu.Lock()
		transitions = append(transitions, state)
		mu.Unlock()
	})

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	b.Allow()
	b.RecordSuccess()

	want := []BreakerState{StateOpen, StateHalfOpen, StateClosed}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestBreakerSetPerServiceConfig(t *testing.T) {
	set := NewBreakerSet(
		BreakerConfig{Threshold: 5, OpenTimeout: time.Minute},
		map[string]BreakerConfig{"github": {Threshold: 1, OpenTimeout: time.Minute}},
		nil,
	)

	set.Get("github").RecordFailure()
	if allowed, _ := set.Get("github").Allow(); allowed {
		t.Fatal("github breaker should trip after one failure")
	}

	set.Get("mirror").RecordFailure()
	if allowed, _ := set.Get("mirror").Allow(); !allowed {
		t.Fatal("mirror breaker uses the default threshold and should still be closed")
	}

	if same := set.Get("github"); same != set.Get("github") {
		t.Fatal("Get should return the same breaker instance per service")
	}
}
