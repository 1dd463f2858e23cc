// Package rediskv implements a KV pub/sub channel Transport over Redis
// (§6 family 5). Redis Pub/Sub has no persistence or replay: a message
// published while no subscriber is connected is lost, and there is no
// broker-side offset to commit against. Commit is therefore a local
// bookkeeping no-op, grounded on the fire-and-forget nature of the
// channel rather than a real acknowledgement. Raw Pub/Sub messages carry
// only a single string, so headers and payload are wrapped together in
// a small JSON envelope on the wire.
package rediskv

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/slimbus-go/slimbus/pkg/bus"
)

// envelope is the on-wire shape published to the Redis channel.
type envelope struct {
	Headers bus.Headers `json:"headers"`
	Payload []byte      `json:"payload"`
}

// localOffset is a process-local sequence number; it has no meaning
// outside this Transport instance.
type localOffset uint64

func (o localOffset) Less(other bus.Offset) bool { return o < other.(localOffset) }
func (o localOffset) String() string             { return strconv.FormatUint(uint64(o), 10) }

// Config configures one Transport.
type Config struct {
	Addr    string `env:"REDIS_ADDR"`
	Channel string `env:"REDIS_CHANNEL"`
}

// Transport adapts one Redis channel to bus.Transport.
type Transport struct {
	cfg     Config
	client  *redis.Client
	counter atomic.Uint64
}

// New builds a client with the given options (grounded on the teacher's
// distlock Redis adapter, which takes a constructed client rather than
// dialing inline).
func New(cfg Config, client *redis.Client) *Transport {
	if client == nil {
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr})
	}
	return &Transport{cfg: cfg, client: client}
}

// Start subscribes to the configured channel. There is a single logical
// partition (0), assigned for the lifetime of the subscription.
func (t *Transport) Start(ctx context.Context, cb bus.PartitionCallbacks) error {
	sub := t.client.Subscribe(ctx, t.cfg.Channel)
	defer sub.Close()

	info := bus.PartitionInfo{Path: t.cfg.Channel, Partition: 0}
	cb.OnAssign(ctx, info)
	defer cb.OnClose(context.Background(), info)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				cb.OnError(bus.ErrSerialization(err))
				continue
			}
			off := localOffset(t.counter.Add(1))
			if err := cb.OnMessage(ctx, bus.InboundMessage{
				Info: info, Offset: off, Payload: env.Payload, Headers: env.Headers,
			}); err != nil {
				cb.OnError(err)
			}
		}
	}
}

// Stop closes the client.
func (t *Transport) Stop(ctx context.Context) error {
	return t.client.Close()
}

// Commit is a no-op: Redis Pub/Sub has no server-side cursor to advance.
func (t *Transport) Commit(ctx context.Context, info bus.PartitionInfo, off bus.Offset) error {
	return nil
}

// Send publishes payload and headers as a JSON envelope to path.
func (t *Transport) Send(ctx context.Context, path string, payload []byte, headers bus.Headers) error {
	data, err := json.Marshal(envelope{Headers: headers, Payload: payload})
	if err != nil {
		return bus.ErrSerialization(err)
	}
	return t.client.Publish(ctx, path, data).Err()
}
