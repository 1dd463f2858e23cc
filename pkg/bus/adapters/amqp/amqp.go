// Package amqp implements an AMQP-style queue Transport over
// amqp091-go (§6 family 4: AMQP-style queue). There is exactly one
// partition per queue — acknowledgement is per-delivery, and "commit"
// means acking every delivery up to and including the given offset.
package amqp

import (
	"context"
	"strconv"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/slimbus-go/slimbus/pkg/bus"
)

// deliveryOffset is the AMQP delivery tag, which is monotonically
// increasing per channel.
type deliveryOffset uint64

func (o deliveryOffset) Less(other bus.Offset) bool { return o < other.(deliveryOffset) }
func (o deliveryOffset) String() string             { return strconv.FormatUint(uint64(o), 10) }

// Config configures one Transport.
type Config struct {
	URL   string `env:"AMQP_URL"`
	Queue string `env:"AMQP_QUEUE"`
}

// Transport adapts one AMQP queue to bus.Transport. There is a single
// logical partition (partition 0) since AMQP queues have no partition
// concept.
type Transport struct {
	cfg  Config
	conn *amqp.Connection
	ch   *amqp.Channel

	mu       sync.Mutex
	pending  map[deliveryOffset]amqp.Delivery
	lastAcked deliveryOffset
}

// New dials url and opens a channel with the queue declared.
func New(cfg Config) (*Transport, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, bus.ErrTransport(err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, bus.ErrTransport(err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, bus.ErrTransport(err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, bus.ErrTransport(err)
	}
	return &Transport{cfg: cfg, conn: conn, ch: ch, pending: make(map[deliveryOffset]amqp.Delivery)}, nil
}

// Start consumes the configured queue, manually acking as the core commits
// (§4.2). There is one partition (0), assigned immediately.
func (t *Transport) Start(ctx context.Context, cb bus.PartitionCallbacks) error {
	deliveries, err := t.ch.Consume(t.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return bus.ErrTransport(err)
	}

	info := bus.PartitionInfo{Path: t.cfg.Queue, Partition: 0}
	cb.OnAssign(ctx, info)

	for {
		select {
		case <-ctx.Done():
			cb.OnClose(context.Background(), info)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				cb.OnClose(context.Background(), info)
				return nil
			}
			off := deliveryOffset(d.DeliveryTag)

			t.mu.Lock()
			t.pending[off] = d
			t.mu.Unlock()

			headers := make(bus.Headers, len(d.Headers))
			for k, v := range d.Headers {
				if s, ok := v.(string); ok {
					headers[k] = s
				}
			}

			if err := cb.OnMessage(ctx, bus.InboundMessage{
				Info: info, Offset: off, Payload: d.Body, Headers: headers,
			}); err != nil {
				cb.OnError(err)
			}
		}
	}
}

// Stop closes the channel and connection.
func (t *Transport) Stop(ctx context.Context) error {
	if err := t.ch.Close(); err != nil {
		return bus.ErrTransport(err)
	}
	return t.conn.Close()
}

// Commit acks every pending delivery up to and including offset, then
// forgets them (invariant: monotonic, never re-acks).
func (t *Transport) Commit(ctx context.Context, info bus.PartitionInfo, off bus.Offset) error {
	target := off.(deliveryOffset)

	t.mu.Lock()
	if target <= t.lastAcked {
		t.mu.Unlock()
		return nil
	}
	toAck := make([]amqp.Delivery, 0, len(t.pending))
	for tag, d := range t.pending {
		if tag <= target {
			toAck = append(toAck, d)
			delete(t.pending, tag)
		}
	}
	t.lastAcked = target
	t.mu.Unlock()

	for _, d := range toAck {
		if err := d.Ack(false); err != nil {
			return bus.ErrTransport(err)
		}
	}
	return nil
}

// Send publishes payload with headers to the queue named path via the
// default exchange, routed by queue name.
func (t *Transport) Send(ctx context.Context, path string, payload []byte, headers bus.Headers) error {
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}
	return t.ch.PublishWithContext(ctx, "", path, false, false, amqp.Publishing{
		Body:    payload,
		Headers: table,
	})
}
