package bus

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/slimbus-go/slimbus/pkg/bus/serde"
	"github.com/stretchr/testify/require"
)

type orderPlaced struct{ OrderID string }
type orderPlacedAck struct{ OK bool }

func typeName(t reflect.Type) string { return t.Name() }

func reverserFor(types ...reflect.Type) TypeNameReverser {
	byName := make(map[string]reflect.Type, len(types))
	for _, t := range types {
		byName[typeName(t)] = t
	}
	return func(name string) (reflect.Type, bool) {
		t, ok := byName[name]
		return t, ok
	}
}

func jsonProvider(t reflect.Type, payload []byte) (any, error) {
	return serde.JSON{}.Deserialize(t, payload)
}

func noopProduce(ctx context.Context, reqHeaders Headers, response any, respHeaders Headers, sub Subscriber) error {
	return nil
}

func TestProcessMessageDispatchesToMatchingConsumer(t *testing.T) {
	var received orderPlaced
	ep := Endpoint{
		Path: "orders",
		Subscribers: []Subscriber{
			{
				MessageType:  "OrderPlaced",
				DeclaredType: reflect.TypeOf(orderPlaced{}),
				Factory: func(scope ServiceScope) (any, error) {
					return ConsumerFunc(func(ctx context.Context, message any) error {
						received = message.(orderPlaced)
						return nil
					}), nil
				},
			},
		},
	}

	p := NewMessageProcessor(ep, nil, jsonProvider, reverserFor(reflect.TypeOf(orderPlaced{})), nil, noopProduce, nil)
	payload, err := serde.JSON{}.Serialize(reflect.TypeOf(orderPlaced{}), orderPlaced{OrderID: "o-1"})
	require.NoError(t, err)

	result := p.ProcessMessage(context.Background(), payload, Headers{HeaderMessageType: typeName(reflect.TypeOf(orderPlaced{}))})
	require.NoError(t, result.Err)
	require.Equal(t, "o-1", received.OrderID)
}

func TestProcessMessageUndeclaredTypePolicyFail(t *testing.T) {
	ep := Endpoint{
		Path:             "orders",
		UndeclaredPolicy: PolicyFail,
		Subscribers: []Subscriber{
			{MessageType: "OrderPlaced", DeclaredType: reflect.TypeOf(orderPlaced{}), Factory: func(ServiceScope) (any, error) { return nil, nil }},
		},
	}
	p := NewMessageProcessor(ep, nil, jsonProvider, reverserFor(reflect.TypeOf(orderPlaced{})), nil, noopProduce, nil)

	result := p.ProcessMessage(context.Background(), []byte(`{}`), Headers{HeaderMessageType: "Unknown"})
	require.Error(t, result.Err)
}

func TestProcessMessageUndeclaredTypePolicyIgnore(t *testing.T) {
	ep := Endpoint{
		Path:             "orders",
		UndeclaredPolicy: PolicyIgnore,
		Subscribers: []Subscriber{
			{MessageType: "OrderPlaced", DeclaredType: reflect.TypeOf(orderPlaced{}), Factory: func(ServiceScope) (any, error) { return nil, nil }},
		},
	}
	p := NewMessageProcessor(ep, nil, jsonProvider, reverserFor(reflect.TypeOf(orderPlaced{})), nil, noopProduce, nil)

	result := p.ProcessMessage(context.Background(), []byte(`{}`), Headers{HeaderMessageType: "Unknown"})
	require.NoError(t, result.Err)
	require.Nil(t, result.Payload)
}

func TestProcessMessageRequestHandlerProducesResponse(t *testing.T) {
	var produced any
	produce := func(ctx context.Context, reqHeaders Headers, response any, respHeaders Headers, sub Subscriber) error {
		produced = response
		return nil
	}

	ep := Endpoint{
		Path: "orders",
		Subscribers: []Subscriber{
			{
				MessageType:   "OrderPlaced",
				DeclaredType:  reflect.TypeOf(orderPlaced{}),
				ResponseType:  reflect.TypeOf(orderPlacedAck{}),
				SendResponses: true,
				Factory: func(scope ServiceScope) (any, error) {
					return RequestHandlerFunc(func(ctx context.Context, request any) (any, error) {
						return orderPlacedAck{OK: true}, nil
					}), nil
				},
			},
		},
	}
	p := NewMessageProcessor(ep, nil, jsonProvider, reverserFor(reflect.TypeOf(orderPlaced{})), nil, produce, nil)
	payload, _ := serde.JSON{}.Serialize(reflect.TypeOf(orderPlaced{}), orderPlaced{OrderID: "o-1"})

	result := p.ProcessMessage(context.Background(), payload, Headers{HeaderMessageType: typeName(reflect.TypeOf(orderPlaced{})), HeaderRequestID: "req-1"})
	require.NoError(t, result.Err)
	require.Equal(t, orderPlacedAck{OK: true}, produced)
}

func TestProcessMessageHandlerErrorTravelsAsResponseNotDispatchError(t *testing.T) {
	var respHeaders Headers
	produce := func(ctx context.Context, reqHeaders Headers, response any, rh Headers, sub Subscriber) error {
		respHeaders = rh
		return nil
	}

	ep := Endpoint{
		Path: "orders",
		Subscribers: []Subscriber{
			{
				MessageType:   "OrderPlaced",
				DeclaredType:  reflect.TypeOf(orderPlaced{}),
				ResponseType:  reflect.TypeOf(orderPlacedAck{}),
				SendResponses: true,
				Factory: func(scope ServiceScope) (any, error) {
					return RequestHandlerFunc(func(ctx context.Context, request any) (any, error) {
						return nil, errors.New("insufficient stock")
					}), nil
				},
			},
		},
	}
	p := NewMessageProcessor(ep, nil, jsonProvider, reverserFor(reflect.TypeOf(orderPlaced{})), nil, produce, nil)
	payload, _ := serde.JSON{}.Serialize(reflect.TypeOf(orderPlaced{}), orderPlaced{OrderID: "o-1"})

	result := p.ProcessMessage(context.Background(), payload, Headers{HeaderMessageType: typeName(reflect.TypeOf(orderPlaced{})), HeaderRequestID: "req-1"})
	require.NoError(t, result.Err)
	require.Equal(t, "insufficient stock", respHeaders[HeaderError])
}

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

func TestProcessMessageDropsExpiredRequest(t *testing.T) {
	var handlerCalled bool
	ep := Endpoint{
		Path: "orders",
		Subscribers: []Subscriber{
			{
				MessageType:  "OrderPlaced",
				DeclaredType: reflect.TypeOf(orderPlaced{}),
				ResponseType: reflect.TypeOf(orderPlacedAck{}),
				Factory: func(scope ServiceScope) (any, error) {
					return RequestHandlerFunc(func(ctx context.Context, request any) (any, error) {
						handlerCalled = true
						return orderPlacedAck{OK: true}, nil
					}), nil
				},
			},
		},
	}
	clock := fixedClock{now: time.Now()}
	p := NewMessageProcessor(ep, nil, jsonProvider, reverserFor(reflect.TypeOf(orderPlaced{})), nil, noopProduce, clock)
	payload, _ := serde.JSON{}.Serialize(reflect.TypeOf(orderPlaced{}), orderPlaced{OrderID: "o-1"})

	expired := encodeExpires(clock.now.Add(-time.Minute))
	result := p.ProcessMessage(context.Background(), payload, Headers{HeaderMessageType: typeName(reflect.TypeOf(orderPlaced{})), HeaderExpires: expired})
	require.NoError(t, result.Err)
	require.False(t, handlerCalled)
}
