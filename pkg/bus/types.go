package bus

import (
	"context"
	"reflect"
)

// EndpointKind classifies how a transport realizes an endpoint's ordering
// and delivery semantics (§3 Endpoint Descriptor).
type EndpointKind string

const (
	KindSubscription    EndpointKind = "subscription"
	KindQueue           EndpointKind = "queue"
	KindStreamPartition EndpointKind = "stream-partition"
	KindDirect          EndpointKind = "direct"
)

// UndeclaredPolicy controls ProcessMessage's behavior when no subscriber
// matches the resolved message type (§4.1 step 2).
type UndeclaredPolicy string

const (
	PolicyIgnore UndeclaredPolicy = "ignore"
	PolicyFail   UndeclaredPolicy = "fail"
)

// Consumer handles one inbound message and returns an error to signal a
// handler fault. It is the target invoked at the end of the consumer-side
// interceptor chain.
type Consumer interface {
	OnHandle(ctx context.Context, message any) error
}

// ConsumerFunc adapts a plain function to the Consumer interface.
type ConsumerFunc func(ctx context.Context, message any) error

func (f ConsumerFunc) OnHandle(ctx context.Context, message any) error { return f(ctx, message) }

// RequestHandler handles one inbound request and returns the response object
// to be serialized onto the reply channel.
type RequestHandler interface {
	OnHandle(ctx context.Context, request any) (any, error)
}

// RequestHandlerFunc adapts a plain function to the RequestHandler interface.
type RequestHandlerFunc func(ctx context.Context, request any) (any, error)

func (f RequestHandlerFunc) OnHandle(ctx context.Context, request any) (any, error) {
	return f(ctx, request)
}

// ConsumerWithContext is implemented by consumer/handler targets that need
// the per-invocation Consumer Context injected before OnHandle runs (§4.1
// step 4d).
type ConsumerWithContext interface {
	WithContext(cc *ConsumerContext)
}

// Factory resolves a consumer or handler instance by key from a resolution
// scope (ambient, or per-message when PerMessageScope is set). The returned
// value must implement Consumer or RequestHandler.
type Factory func(scope ServiceScope) (any, error)

// Subscriber is one (message type, target factory, options) triple
// registered on an Endpoint (§3 Endpoint Descriptor, "subscribers").
type Subscriber struct {
	// MessageType names the message type this subscriber handles. Bus.Validate
	// uses it to detect duplicate request handlers on one endpoint; dispatch
	// matching in ProcessMessage uses DeclaredType, not this string.
	MessageType string

	// DeclaredType is the Go type used for assignability checks via the
	// Type Registry and for payload deserialization.
	DeclaredType reflect.Type

	// ResponseType is set (non-nil) when this subscriber is a request
	// handler; nil for plain consumers.
	ResponseType reflect.Type

	// FactoryKey labels this subscriber's target; the core does not read
	// it. Factory does the actual instantiation.
	FactoryKey string

	// Factory instantiates the consumer/handler object.
	Factory Factory

	// PerMessageScope requests a fresh resolution scope for this
	// subscriber's dispatch, disposed when the handler returns.
	PerMessageScope bool

	// SendResponses controls whether a RequestHandler's response (or
	// error) is produced back onto ReplyTo. false is used for testing and
	// in-process request dispatch (§4.1 step 6).
	SendResponses bool

	// Instances hints at the desired consumer pool size when
	// PerMessageScope is false. The core does not itself pool instances;
	// it is informational for the host service locator.
	Instances int
}

// IsHandler reports whether this subscriber is a request handler.
func (s Subscriber) IsHandler() bool { return s.ResponseType != nil }

// Endpoint is an immutable-after-startup (path, kind, group?) tuple plus its
// subscribers (§3 Endpoint Descriptor).
type Endpoint struct {
	Path             string
	Kind             EndpointKind
	Group            string
	Subscribers      []Subscriber
	UndeclaredPolicy UndeclaredPolicy

	// Checkpoint is the (after, every) pair shared by every consumer
	// settings sharing this (Path, Group); validated identical at
	// startup (invariant 3).
	Checkpoint CheckpointConfig
}

// ServiceScope is the collaborator interface for the host service locator's
// per-message resolution scope (§6, §9 "Per-message scope").
type ServiceScope interface {
	Resolve(key string) (any, error)
	Dispose() error
}

// ServiceLocator is the ambient, process-wide collaborator that creates
// per-message scopes and resolves ambient (non-scoped) instances.
type ServiceLocator interface {
	Resolve(key string) (any, error)
	CreateScope() (ServiceScope, error)
}
