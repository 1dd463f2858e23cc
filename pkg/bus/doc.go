/*
Package bus implements a transport-agnostic publish/subscribe and
request/response message bus.

It unifies messaging across several concrete broker families — a partitioned
log (Kafka), a topic/queue service with subscriptions (Azure Service Bus), a
cloud event-stream with checkpointing (Azure Event Hubs), an AMQP-style queue
(RabbitMQ), a key-value pub/sub channel (Redis), an MQTT-style broker, and an
in-memory loopback — behind one configuration surface (Endpoint
descriptors plus Bus options) and one transport-independent dispatch engine.

# Architecture

The core is transport-agnostic. Each concrete broker lives in its own
sub-package under pkg/bus/adapters/<driver> and implements the Transport
collaborator interface defined here. The core never imports a broker SDK
directly.

  - Type Registry (typeregistry.go): caches reflection-based assignability
    checks between a resolved message type and a subscriber's declared type.
  - Checkpoint Trigger (checkpoint.go): decides when a partition consumer
    must commit progress.
  - Header Codec (headers.go): encodes/decodes the well-known header bag.
  - Interceptor Pipeline (interceptor.go): ordered produce/consume middleware.
  - Message Processor (processor.go): per-message dispatch engine.
  - Partition Processor (partition.go): per-partition lifecycle driver.
  - Pending Request Store (pending.go): request/response correlator.
  - Bus Facade (facade.go): hosts endpoints, exposes Publish/Send/Start/Stop.

# Usage

	b := bus.New(bus.Config{}, serde.JSON{})
	b.RegisterEndpoint(bus.Endpoint{
		Path: "orders",
		Subscribers: []bus.Subscriber{
			{
				DeclaredType: reflect.TypeOf(OrderCreated{}),
				Factory: func(bus.ServiceScope) (any, error) {
					return bus.ConsumerFunc(handleOrderCreated), nil
				},
			},
		},
	}, transport)
	if err := b.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer b.Stop(context.Background())

	resp, err := bus.Send[EchoResponse](ctx, b, "echo.requests", EchoRequest{Message: "x"}, bus.SendOptions{ReplyTo: "echo.replies"})
*/
package bus
