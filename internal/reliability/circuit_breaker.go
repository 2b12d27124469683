package reliability

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the circuit breaker's current state
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
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

// ErrBreakerOpen is returned when the breaker rejects a call outright
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerConfig controls the circuit breaker thresholds
type BreakerConfig struct {
	MaxFailures      int           // consecutive failures before opening
	Timeout          time.Duration // open -> half-open wait
	SuccessThreshold int           // consecutive successes to close from half-open
	Name             string
}

// CircuitBreaker stops hammering an external source that keeps failing.
// After MaxFailures consecutive failures calls are rejected for Timeout,
// then probe calls are allowed until SuccessThreshold successes close it
// again.
type CircuitBreaker struct {
	config BreakerConfig

	mu              sync.Mutex
	state           BreakerState
	failures        int
	successes       int
	lastFailureTime time.Time

	log zerolog.Logger
}

// NewCircuitBreaker creates a breaker, filling zero config fields with
// defaults
func NewCircuitBreaker(config BreakerConfig, log zerolog.Logger) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Name == "" {
		config.Name = "breaker"
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		log:    log.With().Str("breaker", config.Name).Logger(),
	}
}

// Execute runs fn unless the breaker is open
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrBreakerOpen
	}

	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) > cb.config.Timeout {
			cb.setState(StateHalfOpen)
			cb.successes = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.successes = 0
		cb.lastFailureTime = time.Now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.config.MaxFailures {
				cb.setState(StateOpen)
			}
		case StateHalfOpen:
			cb.setState(StateOpen)
		}
		return
	}

	cb.failures = 0
	cb.successes++
	if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessThreshold {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) setState(state BreakerState) {
	if cb.state == state {
		return
	}
	cb.log.Warn().
		Str("from", cb.state.String()).
		Str("to", state.String()).
		Msg("Circuit breaker state changed")
	cb.state = state
}

// State returns the breaker's current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
