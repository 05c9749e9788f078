package resilience

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig holds per-service circuit breaker tunables.
type BreakerConfig struct {
	// Threshold is the number of consecutive failure events in the closed
	// state that trips the breaker open.
	Threshold int `json:"threshold" yaml:"threshold"`

	// OpenTimeout is how long the breaker stays open before admitting a
	// single half-open trial.
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

// DefaultBreakerConfig returns the defaults applied when a service has no
// explicit configuration (threshold 5, open timeout 60s).
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:   5,
		OpenTimeout: 60 * time.Second,
	}
}

// TransitionFunc is notified on every breaker state change.
type TransitionFunc func(service string, state BreakerState)

// Breaker is a failure-tracking state machine guarding one named external
// dependency. All methods are safe for concurrent use.
type Breaker struct {
	service string
	cfg     BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailureAt time.Time
	trialInFlight bool
	onTransition  TransitionFunc
}

// BreakerStatus is a snapshot of a breaker's current state.
type BreakerStatus struct {
	Service       string       `json:"service"`
	State         BreakerState `json:"state"`
	Failures      int          `json:"failures"`
	LastFailureAt time.Time    `json:"last_failure_at,omitzero"`
}

// NewBreaker creates a closed breaker for the given service. Zero-value
// config fields are filled with defaults.
func NewBreaker(service string, cfg BreakerConfig, onTransition TransitionFunc) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	return &Breaker{
		service:      service,
		cfg:          cfg,
		state:        StateClosed,
		onTransition: onTransition,
	}
}

// Allow reports whether an attempt is permitted, along with the state the
// grant was made in. A grant in StateHalfOpen is the single trial attempt;
// concurrent callers are blocked until the trial resolves.
func (b *Breaker) Allow() (bool, BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, StateClosed

	case StateOpen:
		if time.Since(b.lastFailureAt) >= b.cfg.OpenTimeout {
			b.transition(StateHalfOpen)
			b.trialInFlight = true
			return true, StateHalfOpen
		}
		return false, StateOpen

	case StateHalfOpen:
		if b.trialInFlight {
			return false, StateHalfOpen
		}
		b.trialInFlight = true
		return true, StateHalfOpen

	default:
		return false, b.state
	}
}

// RecordSuccess records a successful attempt. The failure counter resets and
// the breaker closes from any state.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure records a failure event. In the closed state the counter
// increments and trips the breaker at the threshold; a failed half-open
// trial reopens the breaker immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.lastFailureAt = time.Now()
			b.transition(StateOpen)
		}

	case StateHalfOpen:
		b.lastFailureAt = time.Now()
		b.trialInFlight = false
		b.transition(StateOpen)

	case StateOpen:
		b.lastFailureAt = time.Now()
	}
}

// RetryAfter returns how long until the breaker admits a half-open trial.
// Zero means a call may be allowed now.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}
	remaining := b.cfg.OpenTimeout - time.Since(b.lastFailureAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Status returns a snapshot of the breaker's current state.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerStatus{
		Service:       b.service,
		State:         b.state,
		Failures:      b.failures,
		LastFailureAt: b.lastFailureAt,
	}
}

// transition changes state and fires the notification hook.
// Caller must hold b.mu.
func (b *Breaker) transition(state BreakerState) {
	b.state = state
	if b.onTransition != nil {
		b.onTransition(b.service, state)
	}
}

// BreakerSet is a thread-safe collection of breakers keyed by service name.
// Breakers are created lazily on first use, with per-service configuration
// overriding the defaults.
type BreakerSet struct {
	mu           sync.Mutex
	breakers     map[string]*Breaker
	configs      map[string]BreakerConfig
	defaults     BreakerConfig
	onTransition TransitionFunc
}

// NewBreakerSet creates a breaker set with the given defaults and optional
// per-service overrides.
func NewBreakerSet(defaults BreakerConfig, configs map[string]BreakerConfig, onTransition TransitionFunc) *BreakerSet {
	def := DefaultBreakerConfig()
	if defaults.Threshold <= 0 {
		defaults.Threshold = def.Threshold
	}
	if defaults.OpenTimeout <= 0 {
		defaults.OpenTimeout = def.OpenTimeout
	}

	return &BreakerSet{
		breakers:     make(map[string]*Breaker),
		configs:      configs,
		defaults:     defaults,
		onTransition: onTransition,
	}
}

// Get returns the breaker for a service, creating it on first use.
func (s *BreakerSet) Get(service string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[service]; ok {
		return b
	}

	cfg, ok := s.configs[service]
	if !ok {
		cfg = s.defaults
	}
	b := NewBreaker(service, cfg, s.onTransition)
	s.breakers[service] = b
	return b
}

// Statuses returns a snapshot of every breaker created so far.
func (s *BreakerSet) Statuses() []BreakerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]BreakerStatus, 0, len(s.breakers))
	for _, b := range s.breakers {
		statuses = append(statuses, b.Status())
	}
	return statuses
}

// CircuitOpenError is returned when a call is rejected because the breaker
// for its service is open.
type CircuitOpenError struct {
	// Service is the name of the guarded dependency.
	Service string

	// RetryAfter is how long until a half-open trial will be admitted.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for service %q (retry after %s)", e.Service, e.RetryAfter)
}

// Is implements error matching for errors.Is.
func (e *CircuitOpenError) Is(target error) bool {
	t, ok := target.(*CircuitOpenError)
	if !ok {
		return false
	}
	return t.Service == "" || t.Service == e.Service
}
