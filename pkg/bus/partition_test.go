package bus_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/slimbus-go/slimbus/pkg/bus"
	"github.com/slimbus-go/slimbus/pkg/bus/adapters/memory"
	"github.com/slimbus-go/slimbus/pkg/bus/serde"
	"github.com/stretchr/testify/require"
)

type shipped struct{ OrderID string }

func reverserForPartitionTest() bus.TypeNameReverser {
	t := reflect.TypeOf(shipped{})
	return func(name string) (reflect.Type, bool) {
		if name == t.Name() {
			return t, true
		}
		return nil, false
	}
}

func newTestPartitionProcessor(t *testing.T, checkpoint bus.CheckpointConfig, onMsg func(shipped)) (*bus.PartitionProcessor, *memory.Transport) {
	t.Helper()

	ep := bus.Endpoint{
		Path:       "shipments",
		Group:      "fulfillment",
		Checkpoint: checkpoint,
		Subscribers: []bus.Subscriber{
			{
				DeclaredType: reflect.TypeOf(shipped{}),
				Factory: func(bus.ServiceScope) (any, error) {
					return bus.ConsumerFunc(func(ctx context.Context, message any) error {
						onMsg(message.(shipped))
						return nil
					}), nil
				},
			},
		},
	}

	provider := func(rt reflect.Type, payload []byte) (any, error) {
		return serde.JSON{}.Deserialize(rt, payload)
	}
	processor := bus.NewMessageProcessor(ep, nil, provider, reverserForPartitionTest(), nil, nil, nil)
	transport := memory.New("fulfillment")
	pp := bus.NewPartitionProcessor(ep, transport, processor, nil)
	return pp, transport
}

func TestPartitionProcessorDispatchesEachMessageWithCheckpointCount(t *testing.T) {
	var count int
	pp, transport := newTestPartitionProcessor(t, bus.CheckpointConfig{After: 2}, func(shipped) { count++ })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pp.Run(ctx)
	time.Sleep(5 * time.Millisecond)

	payload, _ := serde.JSON{}.Serialize(reflect.TypeOf(shipped{}), shipped{OrderID: "o-1"})
	headers := bus.Headers{bus.HeaderMessageType: "shipped"}

	require.NoError(t, transport.Send(context.Background(), "shipments", payload, headers))
	require.NoError(t, transport.Send(context.Background(), "shipments", payload, headers))

	require.Eventually(t, func() bool { return count == 2 }, time.Second, time.Millisecond)
}

func TestPartitionProcessorStopRevokesPartitions(t *testing.T) {
	pp, transport := newTestPartitionProcessor(t, bus.CheckpointConfig{}, func(shipped) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pp.Run(ctx)
	time.Sleep(5 * time.Millisecond)

	payload, _ := serde.JSON{}.Serialize(reflect.TypeOf(shipped{}), shipped{OrderID: "o-1"})
	require.NoError(t, transport.Send(context.Background(), "shipments", payload, bus.Headers{bus.HeaderMessageType: "shipped"}))

	require.NoError(t, pp.Stop(context.Background()))
}
