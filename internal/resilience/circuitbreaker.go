// Package resilience guards calls to flaky upstreams with a circuit breaker.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"guardian-trader/internal/errors"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"    // Normal operation
	CircuitOpen     CircuitState = "OPEN"      // Failing, rejecting requests
	CircuitHalfOpen CircuitState = "HALF_OPEN" // One trial call allowed through
)

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that open the circuit
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial call
	Cooldown time.Duration
}

// DefaultCircuitBreakerConfig returns the defaults used for the reasoner.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// ErrCircuitOpen is returned while the circuit rejects calls.
var ErrCircuitOpen = errors.Wrap(errors.ErrTransportUnavailable, "circuit breaker is open")

// CircuitBreaker stops calling an upstream after repeated failures and
// lets a single trial call through once the cooldown has passed.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	log    zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger zerolog.Logger) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		log:    logger.With().Str("breaker", name).Logger(),
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// Execute runs fn unless the circuit is open. Context cancellation by the
// caller is not counted as an upstream failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(ctx, err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			return ErrCircuitOpen
		}
		cb.transitionTo(CircuitHalfOpen)
		cb.probing = true
		return nil
	case CircuitHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.probing = false
	}

	switch {
	case err == nil:
		cb.failures = 0
		if cb.state != CircuitClosed {
			cb.transitionTo(CircuitClosed)
		}
	case ctx.Err() != nil:
		// The caller gave up; says nothing about the upstream.
	default:
		cb.failures++
		if cb.state == CircuitHalfOpen || cb.failures >= cb.config.FailureThreshold {
			cb.openedAt = cb.now()
			cb.transitionTo(CircuitOpen)
		}
	}
}

// transitionTo changes state. Caller holds the lock.
func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	if cb.state == state {
		return
	}
	cb.log.Warn().Str("from", string(cb.state)).Str("to", string(state)).Int("failures", cb.failures).Msg("Circuit breaker state changed")
	cb.state = state
	if state == CircuitClosed {
		cb.failures = 0
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(CircuitClosed)
	cb.failures = 0
	cb.probing = false
}
