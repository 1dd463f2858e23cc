// Package kafka implements a partitioned-log Transport over Sarama (§6
// family 1: partitioned log). Each Transport owns one consumer group
// joined to one topic and a sync producer for publishing and replies,
// grounded on the teacher's sarama.SyncProducer usage in the messaging
// package's Kafka adapter.
package kafka

import (
	"context"
	"strconv"
	"sync"

	"github.com/IBM/sarama"
	"github.com/slimbus-go/slimbus/pkg/bus"
	"github.com/slimbus-go/slimbus/pkg/logger"
)

// kafkaOffset wraps a Sarama partition/offset pair so the core can compare
// monotonicity without knowing about Sarama.
type kafkaOffset struct {
	partition int32
	offset    int64
}

func (o kafkaOffset) Less(other bus.Offset) bool {
	return o.offset < other.(kafkaOffset).offset
}

func (o kafkaOffset) String() string {
	return strconv.FormatInt(int64(o.partition), 10) + ":" + strconv.FormatInt(o.offset, 10)
}

// Config configures one Transport (§9.3: env-tagged, loaded
// with pkg/config alongside the other adapter configs).
type Config struct {
	Brokers []string `env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `env:"KAFKA_TOPIC"`
	Group   string   `env:"KAFKA_CONSUMER_GROUP"`
}

type partitionKey struct {
	topic     string
	partition int32
}

// Transport adapts one Kafka topic/group pair to bus.Transport.
type Transport struct {
	cfg      Config
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	cb       bus.PartitionCallbacks

	mu       sync.Mutex
	sessions map[partitionKey]sarama.ConsumerGroupSession
}

// New dials brokers for both a sync producer and a consumer group client.
func New(cfg Config) (*Transport, error) {
	producerCfg := sarama.NewConfig()
	producerCfg.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerCfg)
	if err != nil {
		return nil, bus.ErrTransport(err)
	}

	consumerCfg := sarama.NewConfig()
	consumerCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.Group, consumerCfg)
	if err != nil {
		_ = producer.Close()
		return nil, bus.ErrTransport(err)
	}

	return &Transport{cfg: cfg, producer: producer, group: group, sessions: make(map[partitionKey]sarama.ConsumerGroupSession)}, nil
}

// Start joins the consumer group and blocks, rejoining on every rebalance,
// until ctx is cancelled (§4.2 "On assign"/"On revoke" map directly onto
// Sarama's Setup/Cleanup).
func (t *Transport) Start(ctx context.Context, cb bus.PartitionCallbacks) error {
	t.cb = cb
	handler := &consumerGroupHandler{transport: t}

	for {
		if err := t.group.Consume(ctx, []string{t.cfg.Topic}, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cb.OnError(bus.ErrTransport(err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Stop closes the consumer group and producer.
func (t *Transport) Stop(ctx context.Context) error {
	if err := t.group.Close(); err != nil {
		logger.L().ErrorContext(ctx, "kafka consumer group close failed", "error", err)
	}
	return t.producer.Close()
}

// Commit advances the consumer group's committed offset for one partition,
// driven by the core's checkpoint trigger rather than on every message
// (§4.2 "Commit monotonicity").
func (t *Transport) Commit(ctx context.Context, info bus.PartitionInfo, off bus.Offset) error {
	t.mu.Lock()
	session, ok := t.sessions[partitionKey{topic: info.Path, partition: info.Partition}]
	t.mu.Unlock()
	if !ok {
		return nil // partition already revoked; nothing to mark
	}
	session.MarkOffset(info.Path, info.Partition, off.(kafkaOffset).offset+1, "")
	return nil
}

// Send publishes payload with headers to the topic named path.
func (t *Transport) Send(ctx context.Context, path string, payload []byte, headers bus.Headers) error {
	msg := &sarama.ProducerMessage{
		Topic: path,
		Value: sarama.ByteEncoder(payload),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	_, _, err := t.producer.SendMessage(msg)
	if err != nil {
		return bus.ErrTransport(err)
	}
	return nil
}

// consumerGroupHandler bridges sarama.ConsumerGroupHandler to
// bus.PartitionCallbacks.
type consumerGroupHandler struct {
	transport *Transport
}

func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	t := h.transport
	t.mu.Lock()
	for topic, partitions := range session.Claims() {
		for _, p := range partitions {
			t.sessions[partitionKey{topic: topic, partition: p}] = session
		}
	}
	t.mu.Unlock()

	for topic, partitions := range session.Claims() {
		for _, p := range partitions {
			t.cb.OnAssign(session.Context(), bus.PartitionInfo{
				Path: topic, Group: t.cfg.Group, Partition: p,
			})
		}
	}
	return nil
}

func (h *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	t := h.transport
	t.mu.Lock()
	for topic, partitions := range session.Claims() {
		for _, p := range partitions {
			delete(t.sessions, partitionKey{topic: topic, partition: p})
		}
	}
	t.mu.Unlock()

	for topic, partitions := range session.Claims() {
		for _, p := range partitions {
			t.cb.OnRevoke(session.Context(), bus.PartitionInfo{
				Path: topic, Group: t.cfg.Group, Partition: p,
			})
		}
	}
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	info := bus.PartitionInfo{Path: claim.Topic(), Group: h.transport.cfg.Group, Partition: claim.Partition()}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			headers := make(bus.Headers, len(msg.Headers))
			for _, hdr := range msg.Headers {
				headers[string(hdr.Key)] = string(hdr.Value)
			}
			off := kafkaOffset{partition: msg.Partition, offset: msg.Offset}
			if err := h.transport.cb.OnMessage(session.Context(), bus.InboundMessage{
				Info: info, Offset: off, Payload: msg.Value, Headers: headers,
			}); err != nil {
				h.transport.cb.OnError(err)
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
