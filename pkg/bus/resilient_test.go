package bus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slimbus-go/slimbus/pkg/bus"
	"github.com/slimbus-go/slimbus/pkg/resilience"
	"github.com/stretchr/testify/require"
)

type failingTransport struct {
	sendCalls int
	failUntil int
}

func (f *failingTransport) Start(ctx context.Context, cb bus.PartitionCallbacks) error { return nil }
func (f *failingTransport) Stop(ctx context.Context) error                             { return nil }
func (f *failingTransport) Commit(ctx context.Context, info bus.PartitionInfo, off bus.Offset) error {
	return nil
}
func (f *failingTransport) Send(ctx context.Context, path string, payload []byte, headers bus.Headers) error {
	f.sendCalls++
	if f.sendCalls <= f.failUntil {
		return errors.New("broker unavailable")
	}
	return nil
}

func TestResilientTransportRetriesThenSucceeds(t *testing.T) {
	inner := &failingTransport{failUntil: 2}
	cfg := bus.ResilientTransportConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "t", FailureThreshold: 10, SuccessThreshold: 1, Timeout: time.Second},
		Retry:          resilience.RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2},
	}
	rt := bus.NewResilientTransport(inner, cfg)

	err := rt.Send(context.Background(), "p", []byte("x"), nil)
	require.NoError(t, err)
	require.Equal(t, 3, inner.sendCalls)
}

func TestResilientTransportOpensCircuitAfterThreshold(t *testing.T) {
	inner := &failingTransport{failUntil: 100}
	cfg := bus.ResilientTransportConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "t", FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute},
		Retry:          resilience.RetryConfig{MaxAttempts: 1},
	}
	rt := bus.NewResilientTransport(inner, cfg)

	for i := 0; i < 2; i++ {
		require.Error(t, rt.Send(context.Background(), "p", []byte("x"), nil))
	}
	callsBeforeOpen := inner.sendCalls

	require.Error(t, rt.Send(context.Background(), "p", []byte("x"), nil))
	require.Equal(t, callsBeforeOpen, inner.sendCalls, "circuit should fail fast without calling inner transport")
}
