// Package resilience implements the retry and circuit-breaker decorators
// that pkg/bus/resilient.go wraps around a Transport's Send and Commit
// calls. It knows nothing about brokers; it only classifies errors as
// worth retrying or not and tracks failure/success counts over time.
package resilience

import (
	"context"
	"time"

	"github.com/slimbus-go/slimbus/pkg/errors"
)

// State represents the current state of a circuit breaker.
type State string

const (
	StateClosed   State = "closed"    // calls pass through, failures are counted
	StateOpen     State = "open"      // calls fail fast without reaching the transport
	StateHalfOpen State = "half_open" // a single trial batch probes recovery
)

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Name identifies the wrapped transport operation (for logging), e.g.
	// "kafka.send" or "servicebus.commit".
	Name string

	// FailureThreshold is the number of consecutive failures before opening
	// the circuit.
	FailureThreshold int64

	// SuccessThreshold is the number of successes in half-open state needed
	// to close the circuit again.
	SuccessThreshold int64

	// Timeout is how long the circuit stays open before allowing a
	// half-open trial.
	Timeout time.Duration

	// OnStateChange is called when the circuit breaker changes state.
	OnStateChange func(name string, from, to State)
}

// Executor is a transport operation (Send or Commit) run under circuit
// breaker and/or retry protection.
type Executor func(ctx context.Context) error

// RetryConfig configures retry behavior for a transport operation.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialBackoff is the backoff duration before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration

	// Multiplier grows the backoff between retries.
	Multiplier float64

	// Jitter adds proportional randomness to each backoff, to avoid many
	// producers retrying a downed broker in lockstep.
	Jitter float64

	// RetryIf determines whether an error from the wrapped transport call
	// is worth retrying. Defaults to IsTransient, which retries
	// bus.CodeTransport/bus.CodeTimeout failures and errors that carry no
	// code at all, but not other coded errors — a misconfigured broker
	// (bus.CodeConfigInvalid) or a rejected payload will not succeed on
	// the next attempt either.
	RetryIf func(error) bool
}

// IsTransient is the default RetryIf: it retries errors tagged with the
// bus package's transport or timeout codes, and errors that are not an
// *errors.AppError at all; every other code (config, serialization,
// undeclared-type errors, an open circuit) is treated as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	code, ok := errors.CodeOf(err)
	if !ok {
		// Not an *errors.AppError — came straight from a broker SDK, so
		// treat it as a transient transport failure.
		return true
	}
	return code == "BUS_TRANSPORT_ERROR" || code == "BUS_TIMEOUT"
}

// DefaultCircuitBreakerConfig returns sensible defaults for a transport
// operation named by name.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// DefaultRetryConfig returns sensible defaults for a transport operation.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
		RetryIf:        IsTransient,
	}
}
