package clients

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ideagen/harvester/pkg/errors"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests until the cooldown elapses
	StateOpen
	// StateHalfOpen allows probe requests to test recovery
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig is the configuration for a circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive probe successes before closing
	Cooldown         time.Duration // open duration before probing
}

// DefaultCircuitBreakerConfig returns conservative defaults for
// connector API clients.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker guards a platform API against hammering a failing
// upstream. It is shared by all goroutines using one APIClient.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *zap.Logger
	clock  Clock

	mu            sync.Mutex
	state         CircuitState
	failures      int
	successes     int
	openedAt      time.Time
	probeInFlight bool
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		config: config,
		logger: logger.With(zap.String("component", "circuit_breaker")),
		clock:  systemClock{},
	}
}

// Allow reports whether a request may proceed. An open circuit rejects
// requests until the cooldown elapses, then admits a single probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.config.Cooldown {
			return errors.New(errors.ErrorTypeConnection, "circuit breaker open")
		}
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.probeInFlight = true
		cb.logger.Info("circuit breaker half-open")
		return nil
	case StateHalfOpen:
		if cb.probeInFlight {
			return errors.New(errors.ErrorTypeConnection, "circuit breaker probing")
		}
		cb.probeInFlight = true
		return nil
	default:
		return errors.New(errors.ErrorTypeInternal, "circuit breaker in unknown state")
	}
}

// RecordSuccess notes a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probeInFlight = false
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.logger.Info("circuit breaker closed")
		}
	}
}

// RecordFailure notes a failed request. A failure while half-open
// reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.probeInFlight = false
		cb.open()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// open transitions to the open state. Caller holds cb.mu.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.clock.Now()
	cb.successes = 0
	cb.logger.Warn("circuit breaker opened",
		zap.Int("consecutive_failures", cb.failures),
		zap.Duration("cooldown", cb.config.Cooldown))
}
