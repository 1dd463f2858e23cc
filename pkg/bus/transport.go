package bus

import (
	"context"
	"reflect"
	"time"
)

// Message is the wire-level envelope a Transport sends and receives: the
// serialized payload plus the header bag carrying MessageType, RequestId,
// ReplyTo, Expires, and Error.
type Message struct {
	Path      string
	Payload   []byte
	Headers   Headers
	Timestamp time.Time
}

// Offset is an opaque per-transport commit position (§3 "Partition
// Offset / Checkpoint"). Transports compare offsets with Less; the core
// never inspects the concrete value.
type Offset interface {
	Less(other Offset) bool
	String() string
}

// PartitionInfo identifies one partition/subscription assignment.
type PartitionInfo struct {
	Path      string
	Group     string
	Partition int32
}

// InboundMessage is what a Transport hands to the core's OnMessage callback.
type InboundMessage struct {
	Info    PartitionInfo
	Offset  Offset
	Payload []byte
	Headers Headers
}

// PartitionCallbacks is the set of callbacks a Transport drives the core
// with, per §6 "Transport adapter": Start(onAssign, onMessage, onRevoke,
// onClose, onError).
type PartitionCallbacks struct {
	OnAssign  func(ctx context.Context, info PartitionInfo)
	OnMessage func(ctx context.Context, msg InboundMessage) error
	OnRevoke  func(ctx context.Context, info PartitionInfo)
	OnClose   func(ctx context.Context, info PartitionInfo)
	OnError   func(err error)
}

// Transport is the collaborator interface implemented by each concrete
// broker adapter (§6). The core never imports a broker SDK; it only ever
// calls through this interface and the callbacks it installs.
type Transport interface {
	// Start begins driving the given callbacks and returns once ctx is
	// cancelled; an adapter may also return earlier when its delivery
	// source closes. It may run partitions/subscriptions concurrently,
	// but must serialize OnMessage per partition (§5 scheduling model).
	Start(ctx context.Context, cb PartitionCallbacks) error

	// Stop cancels in-flight work and returns once drained.
	Stop(ctx context.Context) error

	// Commit advances the committed position for one partition. A no-op
	// when offset is not greater than the last committed offset
	// (monotonic commit, §4.2).
	Commit(ctx context.Context, info PartitionInfo, offset Offset) error

	// Send publishes payload with headers to path. Used for both
	// fire-and-forget Publish and for emitting request/response
	// envelopes.
	Send(ctx context.Context, path string, payload []byte, headers Headers) error
}

// Serializer is the collaborator interface for the payload codec (§6):
// pure, no I/O.
type Serializer interface {
	Serialize(t reflect.Type, v any) ([]byte, error)
	Deserialize(t reflect.Type, data []byte) (any, error)
}

// HeaderSerializer is the collaborator interface for the header codec (§6),
// restricted to the small scalar value set used by well-known headers.
type HeaderSerializer interface {
	EncodeHeaders(h Headers) (Headers, error)
	DecodeHeaders(raw Headers) (Headers, error)
}

// TimeSource abstracts "now" so tests can substitute a logical clock (§6).
type TimeSource interface {
	Now() time.Time
}

// systemClock is the default TimeSource.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// MessageProvider materializes a payload for the resolved type (§2 "Message
// Provider"): closure (declaredType, transportBytes) -> messageObject.
type MessageProvider func(declaredType reflect.Type, payload []byte) (any, error)
