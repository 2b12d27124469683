// Package reliability provides the fault-tolerance building blocks used
// around flaky external collaborators, plus off-site database backups.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig controls exponential backoff with jitter
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	JitterRange float64 // 0.0 to 1.0
	Name        string
}

// DefaultRetryConfig returns sensible defaults for external HTTP sources
func DefaultRetryConfig(name string) RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		JitterRange: 0.1,
		Name:        name,
	}
}

// PermanentError wraps an error that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks an error as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Retryer runs operations with exponential backoff and jitter
type Retryer struct {
	config RetryConfig
	log    zerolog.Logger
	rng    *rand.Rand
}

// NewRetryer creates a retryer, filling zero config fields with defaults
func NewRetryer(config RetryConfig, log zerolog.Logger) *Retryer {
	defaults := DefaultRetryConfig(config.Name)
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.Multiplier <= 1.0 {
		config.Multiplier = defaults.Multiplier
	}
	if config.JitterRange < 0 || config.JitterRange > 1.0 {
		config.JitterRange = defaults.JitterRange
	}
	if config.Name == "" {
		config.Name = "retryer"
	}

	return &Retryer{
		config: config,
		log:    log.With().Str("retryer", config.Name).Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute runs fn until it succeeds, returns a permanent error, the
// context is cancelled, or attempts run out
func (r *Retryer) Execute(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				r.log.Info().Int("attempt", attempt).Msg("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			r.log.Error().Err(permanent.Err).Msg("Non-retryable error")
			return permanent.Err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		r.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Attempt failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", r.config.MaxAttempts, lastErr)
}

func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.BaseDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	// Jitter spreads out retries from concurrent callers
	if r.config.JitterRange > 0 {
		jitter := r.rng.Float64() * r.config.JitterRange * delay
		if r.rng.Float64() < 0.5 {
			delay -= jitter
		} else {
			delay += jitter
		}
	}

	if delay < float64(r.config.BaseDelay) {
		delay = float64(r.config.BaseDelay)
	}
	return time.Duration(delay)
}

// ExecuteWithCircuitBreaker runs fn behind the breaker on every attempt
func (r *Retryer) ExecuteWithCircuitBreaker(ctx context.Context, cb *CircuitBreaker, fn func() error) error {
	return r.Execute(ctx, func() error {
		return cb.Execute(fn)
	})
}
