// Package eventhubs implements a cloud event-stream Transport with
// checkpointing over Azure Event Hubs (§6 family 3). Each partition is
// read by its own azeventhubs.PartitionClient; checkpoints are
// persisted through a pluggable CheckpointStore rather than forced
// through the blob-backed store, since ownership/load-balancing across
// consumer instances is out of scope for this adapter.
package eventhubs

import (
	"context"
	"strconv"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
	"github.com/slimbus-go/slimbus/pkg/bus"
)

// sequenceOffset wraps an Event Hubs sequence number.
type sequenceOffset int64

func (o sequenceOffset) Less(other bus.Offset) bool { return o < other.(sequenceOffset) }
func (o sequenceOffset) String() string              { return strconv.FormatInt(int64(o), 10) }

// CheckpointStore persists the last committed sequence number per
// partition. A production deployment backs this with blob storage;
// InMemoryCheckpointStore is provided for tests and single-instance use.
type CheckpointStore interface {
	SetCheckpoint(ctx context.Context, partitionID string, sequence int64) error
	GetCheckpoint(ctx context.Context, partitionID string) (int64, bool, error)
}

// InMemoryCheckpointStore keeps checkpoints in process memory. Restarting
// the process loses all checkpoint state.
type InMemoryCheckpointStore struct {
	mu    sync.Mutex
	marks map[string]int64
}

// NewInMemoryCheckpointStore returns an empty store.
func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{marks: make(map[string]int64)}
}

func (s *InMemoryCheckpointStore) SetCheckpoint(ctx context.Context, partitionID string, sequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[partitionID] = sequence
	return nil
}

func (s *InMemoryCheckpointStore) GetCheckpoint(ctx context.Context, partitionID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.marks[partitionID]
	return seq, ok, nil
}

// Config configures one Transport.
type Config struct {
	Namespace    string   `env:"EVENTHUBS_NAMESPACE"`
	EventHub     string   `env:"EVENTHUBS_NAME"`
	ConsumerGroup string  `env:"EVENTHUBS_CONSUMER_GROUP" env-default:"$Default"`
	PartitionIDs []string `env:"EVENTHUBS_PARTITIONS" env-separator:","`
}

// Transport adapts one event hub's set of partitions to bus.Transport.
type Transport struct {
	cfg       Config
	client    *azeventhubs.ProducerClient
	consumer  *azeventhubs.ConsumerClient
	store     CheckpointStore

	mu       sync.Mutex
	partClients map[string]*azeventhubs.PartitionClient
}

// New builds producer and consumer clients with DefaultAzureCredential.
func New(cfg Config, store CheckpointStore) (*Transport, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, bus.ErrConfigInvalid("default azure credential", err)
	}
	producer, err := azeventhubs.NewProducerClient(cfg.Namespace, cfg.EventHub, cred, nil)
	if err != nil {
		return nil, bus.ErrTransport(err)
	}
	consumer, err := azeventhubs.NewConsumerClient(cfg.Namespace, cfg.EventHub, cfg.ConsumerGroup, cred, nil)
	if err != nil {
		_ = producer.Close(context.Background())
		return nil, bus.ErrTransport(err)
	}
	if store == nil {
		store = NewInMemoryCheckpointStore()
	}
	return &Transport{
		cfg: cfg, client: producer, consumer: consumer, store: store,
		partClients: make(map[string]*azeventhubs.PartitionClient),
	}, nil
}

// Start opens a PartitionClient per configured partition and fans in
// events, resuming from the last checkpoint when present.
func (t *Transport) Start(ctx context.Context, cb bus.PartitionCallbacks) error {
	var wg sync.WaitGroup
	for _, pid := range t.cfg.PartitionIDs {
		pid := pid
		startPos := azeventhubs.StartPosition{Earliest: toPtr(true)}
		if seq, ok, err := t.store.GetCheckpoint(ctx, pid); err == nil && ok {
			startPos = azeventhubs.StartPosition{SequenceNumber: &seq, Inclusive: false}
		}

		pc, err := t.consumer.NewPartitionClient(pid, &azeventhubs.PartitionClientOptions{StartPosition: startPos})
		if err != nil {
			return bus.ErrTransport(err)
		}

		t.mu.Lock()
		t.partClients[pid] = pc
		t.mu.Unlock()

		info := bus.PartitionInfo{Path: t.cfg.EventHub, Group: t.cfg.ConsumerGroup, Partition: mustAtoi(pid)}
		cb.OnAssign(ctx, info)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pc.Close(context.Background())
			t.pump(ctx, pc, info, cb)
			cb.OnClose(context.Background(), info)
		}()
	}
	wg.Wait()
	return nil
}

func (t *Transport) pump(ctx context.Context, pc *azeventhubs.PartitionClient, info bus.PartitionInfo, cb bus.PartitionCallbacks) {
	for {
		events, err := pc.ReceiveEvents(ctx, 32, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cb.OnError(bus.ErrTransport(err))
			continue
		}
		for _, ev := range events {
			headers := make(bus.Headers, len(ev.Properties))
			for k, v := range ev.Properties {
				if s, ok := v.(string); ok {
					headers[k] = s
				}
			}
			off := sequenceOffset(ev.SequenceNumber)
			if err := cb.OnMessage(ctx, bus.InboundMessage{
				Info: info, Offset: off, Payload: ev.Body, Headers: headers,
			}); err != nil {
				cb.OnError(err)
			}
		}
	}
}

// Stop closes every partition client and both clients.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	for _, pc := range t.partClients {
		_ = pc.Close(ctx)
	}
	t.mu.Unlock()
	_ = t.consumer.Close(ctx)
	return t.client.Close(ctx)
}

// Commit persists the checkpoint for one partition through the
// CheckpointStore. A no-op when off is not greater than the stored
// checkpoint (invariant: checkpoint advances are monotonic).
func (t *Transport) Commit(ctx context.Context, info bus.PartitionInfo, off bus.Offset) error {
	pid := strconv.Itoa(int(info.Partition))
	target := int64(off.(sequenceOffset))
	if prev, ok, err := t.store.GetCheckpoint(ctx, pid); err == nil && ok && target <= prev {
		return nil
	}
	return t.store.SetCheckpoint(ctx, pid, target)
}

// Send publishes payload with headers as an event batch.
func (t *Transport) Send(ctx context.Context, path string, payload []byte, headers bus.Headers) error {
	batch, err := t.client.NewEventDataBatch(ctx, nil)
	if err != nil {
		return bus.ErrTransport(err)
	}
	props := make(map[string]any, len(headers))
	for k, v := range headers {
		props[k] = v
	}
	if err := batch.AddEventData(&azeventhubs.EventData{Body: payload, Properties: props}, nil); err != nil {
		return bus.ErrTransport(err)
	}
	return t.client.SendEventDataBatch(ctx, batch, nil)
}

func toPtr(b bool) *bool { return &b }

func mustAtoi(s string) int32 {
	n, _ := strconv.Atoi(s)
	return int32(n)
}
