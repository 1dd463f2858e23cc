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

type greetRequest struct{ Name string }
type greetResponse struct{ Greeting string }

func typeReverser(types ...reflect.Type) bus.TypeNameReverser {
	byName := make(map[string]reflect.Type, len(types))
	for _, t := range types {
		byName[t.Name()] = t
	}
	return func(name string) (reflect.Type, bool) {
		t, ok := byName[name]
		return t, ok
	}
}

func newTestBus(t *testing.T) (*bus.Bus, *memory.Transport) {
	t.Helper()
	// One memory.Transport per endpoint: each holds a single callback set,
	// mirroring how a real adapter binds one consumer group to one topic.
	requestsTransport := memory.New("test-group")
	repliesTransport := memory.New("test-group-replies")

	b := bus.New(
		bus.Config{ReaperInterval: 10 * time.Millisecond, DefaultRequestTimeout: time.Second},
		serde.JSON{},
		bus.WithTypeNameResolver(func(t reflect.Type) string { return t.Name() }),
		bus.WithTypeNameReverser(typeReverser(reflect.TypeOf(greetRequest{}), reflect.TypeOf(greetResponse{}))),
	)

	err := b.RegisterEndpoint(bus.Endpoint{
		Path: "greet.requests",
		Subscribers: []bus.Subscriber{
			{
				MessageType:   "greetRequest",
				DeclaredType:  reflect.TypeOf(greetRequest{}),
				ResponseType:  reflect.TypeOf(greetResponse{}),
				SendResponses: true,
				Factory: func(bus.ServiceScope) (any, error) {
					return bus.RequestHandlerFunc(func(ctx context.Context, request any) (any, error) {
						req := request.(greetRequest)
						return greetResponse{Greeting: "hello " + req.Name}, nil
					}), nil
				},
			},
		},
	}, requestsTransport)
	require.NoError(t, err)

	require.NoError(t, b.RegisterReplyChannel("greet.replies", repliesTransport))

	return b, requestsTransport
}

func TestBusSendRoundTrip(t *testing.T) {
	b, _ := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(context.Background())

	resp, err := bus.Send[greetResponse](context.Background(), b, "greet.requests", greetRequest{Name: "ada"}, bus.SendOptions{ReplyTo: "greet.replies"})
	require.NoError(t, err)
	require.Equal(t, "hello ada", resp.Greeting)
}

func TestBusSendTimesOutWithNoReplyChannel(t *testing.T) {
	b, _ := newTestBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(context.Background())

	_, err := bus.Send[greetResponse](context.Background(), b, "greet.requests", greetRequest{Name: "ada"}, bus.SendOptions{ReplyTo: "", Timeout: 20 * time.Millisecond})
	require.Error(t, err)
}

func TestBusPublishDeliversFireAndForget(t *testing.T) {
	var received greetRequest
	done := make(chan struct{})

	transport := memory.New("events")
	b := bus.New(bus.Config{}, serde.JSON{},
		bus.WithTypeNameResolver(func(t reflect.Type) string { return t.Name() }),
		bus.WithTypeNameReverser(typeReverser(reflect.TypeOf(greetRequest{}))),
	)
	require.NoError(t, b.RegisterEndpoint(bus.Endpoint{
		Path: "greet.events",
		Subscribers: []bus.Subscriber{
			{
				DeclaredType: reflect.TypeOf(greetRequest{}),
				Factory: func(bus.ServiceScope) (any, error) {
					return bus.ConsumerFunc(func(ctx context.Context, message any) error {
						received = message.(greetRequest)
						close(done)
						return nil
					}), nil
				},
			},
		},
	}, transport))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))
	defer b.Stop(context.Background())

	require.NoError(t, b.Publish(context.Background(), "greet.events", greetRequest{Name: "grace"}, nil))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	require.Equal(t, "grace", received.Name)
}
