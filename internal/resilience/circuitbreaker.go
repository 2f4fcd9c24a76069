// Package resilience provides the failure-handling primitives the tutoring
// pipeline leans on: a circuit breaker and a bounded retry helper.
//
// The LaTeX renderer runs behind a [CircuitBreaker] so that a dead MathJax
// service degrades every equation to the handwriting fallback immediately
// instead of stalling each turn on a full HTTP timeout. [Retry] covers the
// single-reconnect policy for STT streams and TTS session opens.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Probes all
	// succeeding closes the breaker; any probe failing re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker rejects calls before
	// probing again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget per half-open phase. Default: 3.
	HalfOpenMax int
}

// CircuitBreaker trips after consecutive failures and recovers through a
// probing phase. The current mode is derived from the failure counters and
// the trip time rather than stored, so a breaker that has cooled down reads
// as half-open without waiting for the next call.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu         sync.Mutex
	failures   int       // consecutive failures while closed
	trippedAt  time.Time // zero while the breaker has never tripped
	probes     int       // calls admitted in the current half-open phase
	probeFails int
}

// NewCircuitBreaker creates a breaker with cfg, filling in defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg}
}

// stateAt derives the mode at time now. Caller holds cb.mu.
func (cb *CircuitBreaker) stateAt(now time.Time) State {
	if cb.failures < cb.cfg.MaxFailures {
		return StateClosed
	}
	if now.Sub(cb.trippedAt) < cb.cfg.ResetTimeout {
		return StateOpen
	}
	return StateHalfOpen
}

// Execute runs fn unless the breaker is rejecting calls. Half-open probes
// count against the phase budget; exhausting it without closing rejects
// further calls until the next timeout.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	now := time.Now()
	probing := false
	switch cb.stateAt(now) {
	case StateOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		if cb.probes == 0 {
			slog.Info("circuit breaker probing", "name", cb.cfg.Name)
		}
		cb.probes++
		probing = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure(probing)
	} else {
		cb.onSuccess(probing)
	}
	return err
}

// onFailure updates counters after a failed call. Caller holds cb.mu.
func (cb *CircuitBreaker) onFailure(probing bool) {
	if probing {
		cb.probeFails++
		// One failed probe restarts the open phase.
		cb.trippedAt = time.Now()
		cb.probes = 0
		cb.probeFails = 0
		slog.Warn("circuit breaker re-opened", "name", cb.cfg.Name)
		return
	}
	cb.failures++
	if cb.failures == cb.cfg.MaxFailures {
		cb.trippedAt = time.Now()
		slog.Warn("circuit breaker opened",
			"name", cb.cfg.Name,
			"consecutive_failures", cb.failures)
	}
}

// onSuccess updates counters after a successful call. Caller holds cb.mu.
func (cb *CircuitBreaker) onSuccess(probing bool) {
	if probing {
		if cb.probes-cb.probeFails >= cb.cfg.HalfOpenMax {
			cb.reset()
			slog.Info("circuit breaker closed", "name", cb.cfg.Name)
		}
		return
	}
	cb.failures = 0
}

// State reports the breaker's current mode.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateAt(time.Now())
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
	slog.Info("circuit breaker manually reset", "name", cb.cfg.Name)
}

// reset clears all counters. Caller holds cb.mu.
func (cb *CircuitBreaker) reset() {
	cb.failures = 0
	cb.trippedAt = time.Time{}
	cb.probes = 0
	cb.probeFails = 0
}
