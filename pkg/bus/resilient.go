package bus

import (
	"context"

	"github.com/slimbus-go/slimbus/pkg/resilience"
)

// ResilientTransportConfig configures the circuit breaker and retry policy
// wrapped around a Transport's Send and Commit calls (§9.4).
type ResilientTransportConfig struct {
	CircuitBreaker resilience.CircuitBreakerConfig
	Retry          resilience.RetryConfig
}

// DefaultResilientTransportConfig returns the teacher's defaults for both
// the breaker and the retry policy, named after the wrapped transport.
func DefaultResilientTransportConfig(name string) ResilientTransportConfig {
	return ResilientTransportConfig{
		CircuitBreaker: resilience.DefaultCircuitBreakerConfig(name),
		Retry:          resilience.DefaultRetryConfig(),
	}
}

// resilientTransport wraps a Transport so that Send and Commit run through a
// circuit breaker and retry policy. Start, Stop and the callback wiring are
// passed through unchanged: a broken transport should stop producing, not
// stop consuming, so retries apply only to the producer-path calls the core
// makes on the caller's behalf.
type resilientTransport struct {
	inner Transport
	cb    *resilience.CircuitBreaker
	retry resilience.RetryConfig
}

// NewResilientTransport wraps inner so that repeated Send/Commit failures
// open the circuit breaker and fail fast instead of blocking the partition
// loop (§7.5 "transport error").
func NewResilientTransport(inner Transport, cfg ResilientTransportConfig) Transport {
	return &resilientTransport{
		inner: inner,
		cb:    resilience.NewCircuitBreaker(cfg.CircuitBreaker),
		retry: cfg.Retry,
	}
}

func (t *resilientTransport) Start(ctx context.Context, cb PartitionCallbacks) error {
	return t.inner.Start(ctx, cb)
}

func (t *resilientTransport) Stop(ctx context.Context) error {
	return t.inner.Stop(ctx)
}

func (t *resilientTransport) Commit(ctx context.Context, info PartitionInfo, off Offset) error {
	return resilience.RetryWithCircuitBreaker(ctx, t.cb, t.retry, func(ctx context.Context) error {
		return t.inner.Commit(ctx, info, off)
	})
}

func (t *resilientTransport) Send(ctx context.Context, path string, payload []byte, headers Headers) error {
	return resilience.RetryWithCircuitBreaker(ctx, t.cb, t.retry, func(ctx context.Context) error {
		return t.inner.Send(ctx, path, payload, headers)
	})
}
