package bus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/slimbus-go/slimbus/pkg/bus"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	sent     []string
	commits  []bus.Offset
	sendErr  error
	commitErr error
}

func (r *recordingTransport) Start(ctx context.Context, cb bus.PartitionCallbacks) error { return nil }
func (r *recordingTransport) Stop(ctx context.Context) error                             { return nil }
func (r *recordingTransport) Commit(ctx context.Context, info bus.PartitionInfo, off bus.Offset) error {
	r.commits = append(r.commits, off)
	return r.commitErr
}
func (r *recordingTransport) Send(ctx context.Context, path string, payload []byte, headers bus.Headers) error {
	r.sent = append(r.sent, path)
	return r.sendErr
}

type strOffset string

func (s strOffset) Less(other bus.Offset) bool { return s < other.(strOffset) }
func (s strOffset) String() string             { return string(s) }

func TestInstrumentedTransportPassesThroughSend(t *testing.T) {
	inner := &recordingTransport{}
	it := bus.NewInstrumentedTransport(inner, "orders")

	require.NoError(t, it.Send(context.Background(), "orders", []byte("x"), bus.Headers{bus.HeaderRequestID: "r-1"}))
	require.Equal(t, []string{"orders"}, inner.sent)
}

func TestInstrumentedTransportPropagatesSendError(t *testing.T) {
	inner := &recordingTransport{sendErr: errors.New("boom")}
	it := bus.NewInstrumentedTransport(inner, "orders")

	err := it.Send(context.Background(), "orders", []byte("x"), nil)
	require.Error(t, err)
}

func TestInstrumentedTransportPassesThroughCommit(t *testing.T) {
	inner := &recordingTransport{}
	it := bus.NewInstrumentedTransport(inner, "orders")

	require.NoError(t, it.Commit(context.Background(), bus.PartitionInfo{Path: "orders"}, strOffset("5")))
	require.Len(t, inner.commits, 1)
}
