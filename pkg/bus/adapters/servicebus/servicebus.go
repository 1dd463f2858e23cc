// Package servicebus implements a topic/queue-with-subscriptions
// Transport over Azure Service Bus (§6 family 2). A Transport binds
// either a queue or one subscription of a topic; there is a single
// logical partition, since Service Bus delivers without partition
// ordering guarantees across competing receivers.
package servicebus

import (
	"context"
	"strconv"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/slimbus-go/slimbus/pkg/bus"
)

// sequenceOffset wraps the Service Bus sequence number, which is
// monotonically increasing per entity.
type sequenceOffset int64

func (o sequenceOffset) Less(other bus.Offset) bool { return o < other.(sequenceOffset) }
func (o sequenceOffset) String() string              { return strconv.FormatInt(int64(o), 10) }

// Config configures one Transport. Topic+Subscription selects a topic
// subscription; Queue selects a queue. Exactly one of the two must be set.
type Config struct {
	Namespace    string `env:"SERVICEBUS_NAMESPACE"`
	Queue        string `env:"SERVICEBUS_QUEUE"`
	Topic        string `env:"SERVICEBUS_TOPIC"`
	Subscription string `env:"SERVICEBUS_SUBSCRIPTION"`
}

func (c Config) entityPath() string {
	if c.Queue != "" {
		return c.Queue
	}
	return c.Topic
}

// Transport adapts one queue or topic subscription to bus.Transport.
type Transport struct {
	cfg      Config
	client   *azservicebus.Client
	sender   *azservicebus.Sender
	receiver *azservicebus.Receiver

	mu      sync.Mutex
	pending map[sequenceOffset]*azservicebus.ReceivedMessage
}

// New builds a Client with DefaultAzureCredential and opens a sender and
// receiver for the configured queue or topic subscription.
func New(cfg Config) (*Transport, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, bus.ErrConfigInvalid("default azure credential", err)
	}
	client, err := azservicebus.NewClient(cfg.Namespace, cred, nil)
	if err != nil {
		return nil, bus.ErrTransport(err)
	}

	sender, err := client.NewSender(cfg.entityPath(), nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, bus.ErrTransport(err)
	}

	var receiver *azservicebus.Receiver
	if cfg.Subscription != "" {
		receiver, err = client.NewReceiverForSubscription(cfg.Topic, cfg.Subscription, nil)
	} else {
		receiver, err = client.NewReceiverForQueue(cfg.Queue, nil)
	}
	if err != nil {
		_ = client.Close(context.Background())
		return nil, bus.ErrTransport(err)
	}

	return &Transport{
		cfg: cfg, client: client, sender: sender, receiver: receiver,
		pending: make(map[sequenceOffset]*azservicebus.ReceivedMessage),
	}, nil
}

// Start polls ReceiveMessages in a loop until ctx is cancelled. There is a
// single partition (0), assigned once at startup.
func (t *Transport) Start(ctx context.Context, cb bus.PartitionCallbacks) error {
	info := bus.PartitionInfo{Path: t.cfg.entityPath(), Partition: 0}
	cb.OnAssign(ctx, info)
	defer cb.OnClose(context.Background(), info)

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := t.receiver.ReceiveMessages(ctx, 32, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cb.OnError(bus.ErrTransport(err))
			continue
		}
		for _, msg := range msgs {
			off := sequenceOffset(*msg.SequenceNumber)

			t.mu.Lock()
			t.pending[off] = msg
			t.mu.Unlock()

			headers := make(bus.Headers, len(msg.ApplicationProperties))
			for k, v := range msg.ApplicationProperties {
				if s, ok := v.(string); ok {
					headers[k] = s
				}
			}

			if err := cb.OnMessage(ctx, bus.InboundMessage{
				Info: info, Offset: off, Payload: msg.Body, Headers: headers,
			}); err != nil {
				cb.OnError(err)
			}
		}
	}
}

// Stop closes the receiver, sender and client.
func (t *Transport) Stop(ctx context.Context) error {
	_ = t.receiver.Close(ctx)
	_ = t.sender.Close(ctx)
	return t.client.Close(ctx)
}

// Commit completes every pending message with a sequence number up to and
// including off (invariant: monotonic completion, no re-completion).
func (t *Transport) Commit(ctx context.Context, info bus.PartitionInfo, off bus.Offset) error {
	target := off.(sequenceOffset)

	t.mu.Lock()
	toComplete := make([]*azservicebus.ReceivedMessage, 0, len(t.pending))
	for seq, msg := range t.pending {
		if seq <= target {
			toComplete = append(toComplete, msg)
			delete(t.pending, seq)
		}
	}
	t.mu.Unlock()

	for _, msg := range toComplete {
		if err := t.receiver.CompleteMessage(ctx, msg, nil); err != nil {
			return bus.ErrTransport(err)
		}
	}
	return nil
}

// Send publishes payload with headers as application properties to the
// configured queue or topic.
func (t *Transport) Send(ctx context.Context, path string, payload []byte, headers bus.Headers) error {
	msg := &azservicebus.Message{
		Body:                  payload,
		ApplicationProperties: make(map[string]any, len(headers)),
	}
	for k, v := range headers {
		msg.ApplicationProperties[k] = v
	}
	return t.sender.SendMessage(ctx, msg, nil)
}
