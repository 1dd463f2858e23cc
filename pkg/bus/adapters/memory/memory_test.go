package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/slimbus-go/slimbus/pkg/bus"
	"github.com/slimbus-go/slimbus/pkg/bus/adapters/memory"
	"github.com/stretchr/testify/require"
)

func TestTransportSendBeforeStartFails(t *testing.T) {
	tr := memory.New("g")
	err := tr.Send(context.Background(), "p", []byte("x"), nil)
	require.Error(t, err)
}

func TestTransportDeliversSynchronouslyAndAssignsOnFirstSend(t *testing.T) {
	tr := memory.New("g")

	var assigned int
	var delivered []string
	cb := bus.PartitionCallbacks{
		OnAssign:  func(ctx context.Context, info bus.PartitionInfo) { assigned++ },
		OnMessage: func(ctx context.Context, msg bus.InboundMessage) error { delivered = append(delivered, string(msg.Payload)); return nil },
		OnRevoke:  func(ctx context.Context, info bus.PartitionInfo) {},
		OnClose:   func(ctx context.Context, info bus.PartitionInfo) {},
		OnError:   func(err error) {},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Start(ctx, cb)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, tr.Send(context.Background(), "orders", []byte("a"), nil))
	require.NoError(t, tr.Send(context.Background(), "orders", []byte("b"), nil))

	require.Equal(t, 1, assigned)
	require.Equal(t, []string{"a", "b"}, delivered)
	require.Len(t, tr.Records(), 2)
}

func TestTransportStopRevokesAssignedPaths(t *testing.T) {
	tr := memory.New("g")

	var revoked []string
	cb := bus.PartitionCallbacks{
		OnAssign:  func(ctx context.Context, info bus.PartitionInfo) {},
		OnMessage: func(ctx context.Context, msg bus.InboundMessage) error { return nil },
		OnRevoke:  func(ctx context.Context, info bus.PartitionInfo) { revoked = append(revoked, info.Path) },
		OnClose:   func(ctx context.Context, info bus.PartitionInfo) {},
		OnError:   func(err error) {},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Start(ctx, cb)
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, tr.Send(context.Background(), "orders", []byte("a"), nil))
	require.NoError(t, tr.Stop(context.Background()))

	require.Equal(t, []string{"orders"}, revoked)
}
