package bus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/slimbus-go/slimbus/pkg/logger"
)

// Config holds bus-level tunables (§9.3 AMBIENT STACK — env-tagged,
// loaded with pkg/config).
type Config struct {
	// ReaperInterval bounds how often the Pending Request Store sweeps
	// for expired entries (§4.3 "Reaper": at most one second).
	ReaperInterval time.Duration `env:"BUS_REAPER_INTERVAL" env-default:"1s"`

	// DefaultRequestTimeout is used by Send when SendOptions.Timeout is
	// zero.
	DefaultRequestTimeout time.Duration `env:"BUS_DEFAULT_REQUEST_TIMEOUT" env-default:"30s"`
}

// RequestIDGenerator produces unique request identifiers (§3 "Pending
// Request Entry" — pluggable generator). The default is a random UUID.
type RequestIDGenerator func() string

func defaultRequestIDGenerator() string { return uuid.New().String() }

// registration binds one Endpoint to the Transport that realizes it.
type registration struct {
	endpoint  Endpoint
	transport Transport
	processor *PartitionProcessor
	// provider overrides the Bus's default Serializer-backed MessageProvider
	// for this endpoint alone; used by the synthetic reply-channel endpoint,
	// whose payload is passed through untouched rather than deserialized by
	// the application Serializer.
	provider MessageProvider
}

// Bus hosts registered endpoints, owns the Pending Request Store, and
// exposes Publish/Send/ProduceResponse plus Start/Stop lifecycle (§2 "Bus
// Facade").
type Bus struct {
	cfg        Config
	serializer Serializer
	headerCode HeaderSerializer
	locator    ServiceLocator
	resolver   TypeNameResolver
	reverser   TypeNameReverser
	clock      TimeSource
	genID      RequestIDGenerator
	interceptors *InterceptorRegistry

	// defaultTransport sends ad-hoc messages (replies, and Publish calls
	// whose path is not a registered endpoint's path) — §9 "Pending
	// request store cycles": the reply-channel subscriber needs a
	// transport to send on that is not necessarily the transport for the
	// endpoint that produced the response.
	defaultTransport Transport

	mu            sync.Mutex
	registrations []*registration
	started       atomic.Bool

	store *PendingRequestStore

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// Option configures optional Bus collaborators.
type Option func(*Bus)

// WithHeaderCodec overrides the default identity Header Codec.
func WithHeaderCodec(c HeaderSerializer) Option { return func(b *Bus) { b.headerCode = c } }

// WithServiceLocator installs the host service locator used for
// per-message and ambient resolution scopes.
func WithServiceLocator(l ServiceLocator) Option { return func(b *Bus) { b.locator = l } }

// WithTypeNameResolver overrides the default fully-qualified-name resolver.
func WithTypeNameResolver(r TypeNameResolver) Option { return func(b *Bus) { b.resolver = r } }

// WithTypeNameReverser supplies the name -> reflect.Type lookup used to
// resolve MessageType headers on the consume path.
func WithTypeNameReverser(r TypeNameReverser) Option { return func(b *Bus) { b.reverser = r } }

// WithInterceptors installs the ordered producer/consumer interceptor chain.
func WithInterceptors(r *InterceptorRegistry) Option { return func(b *Bus) { b.interceptors = r } }

// WithClock substitutes the time source (tests).
func WithClock(c TimeSource) Option { return func(b *Bus) { b.clock = c } }

// WithRequestIDGenerator overrides the default UUID generator.
func WithRequestIDGenerator(g RequestIDGenerator) Option { return func(b *Bus) { b.genID = g } }

// WithDefaultTransport sets the transport used for ad-hoc sends (replies,
// and publishes to paths with no registered endpoint).
func WithDefaultTransport(t Transport) Option { return func(b *Bus) { b.defaultTransport = t } }

// New creates a Bus. serializer must not be nil.
func New(cfg Config, serializer Serializer, opts ...Option) *Bus {
	if cfg.ReaperInterval <= 0 || cfg.ReaperInterval > time.Second {
		cfg.ReaperInterval = time.Second
	}
	if cfg.DefaultRequestTimeout <= 0 {
		cfg.DefaultRequestTimeout = 30 * time.Second
	}

	b := &Bus{
		cfg:        cfg,
		serializer: serializer,
		headerCode: NewDefaultHeaderCodec(),
		resolver:   DefaultTypeNameResolver,
		clock:      systemClock{},
		genID:      defaultRequestIDGenerator,
		interceptors: NewInterceptorRegistry(nil, nil),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.store = NewPendingRequestStore(serializer)
	return b
}

// RegisterEndpoint adds an endpoint bound to a transport. Must be called
// before Start (invariant 1: the subscribers list is fixed after startup).
func (b *Bus) RegisterEndpoint(ep Endpoint, transport Transport) error {
	return b.registerEndpoint(ep, transport, nil)
}

func (b *Bus) registerEndpoint(ep Endpoint, transport Transport, provider MessageProvider) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started.Load() {
		return ErrConfigInvalid("cannot register endpoint after Start", nil)
	}
	b.registrations = append(b.registrations, &registration{endpoint: ep, transport: transport, provider: provider})
	return nil
}

// Validate enforces invariant 3 and the "duplicate handler" open
// question resolution (§9): reject more than one handler for the same
// request type on one endpoint.
func (b *Bus) Validate() error {
	eps := make([]Endpoint, 0, len(b.registrations))
	for _, r := range b.registrations {
		eps = append(eps, r.endpoint)
	}
	if err := ValidateCheckpointConsistency(eps); err != nil {
		return err
	}

	for _, ep := range eps {
		seen := make(map[string]bool)
		for _, sub := range ep.Subscribers {
			if !sub.IsHandler() {
				continue
			}
			if seen[sub.MessageType] {
				return errDuplicateHandler(ep.Path, sub.MessageType)
			}
			seen[sub.MessageType] = true
		}
	}
	return nil
}

// Start builds a Message Processor and Partition Processor per registered
// endpoint, validates topology, and begins consuming (§6 "Start() / Stop()").
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started.Load() {
		b.mu.Unlock()
		return nil
	}
	if err := b.Validate(); err != nil {
		b.mu.Unlock()
		return err
	}
	regs := append([]*registration(nil), b.registrations...)
	b.started.Store(true)
	b.mu.Unlock()

	// Released before launching consumer goroutines: ProduceResponse and
	// Publish call transportFor, which also takes b.mu, and an adapter may
	// deliver its first message before Start returns.
	b.rootCtx, b.rootCancel = context.WithCancel(ctx)

	for _, reg := range regs {
		reg := reg
		produce := func(ctx context.Context, reqHeaders Headers, response any, respHeaders Headers, sub Subscriber) error {
			return b.ProduceResponse(ctx, reqHeaders, response, respHeaders, sub)
		}
		provider := reg.provider
		if provider == nil {
			provider = b.defaultProvider
		}
		processor := NewMessageProcessor(reg.endpoint, b.locator, provider, b.reverser, b.interceptors, produce, b.clock)
		reg.processor = NewPartitionProcessor(reg.endpoint, reg.transport, processor, b.headerCode)

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := reg.processor.Run(b.rootCtx); err != nil {
				logger.L().ErrorContext(b.rootCtx, "partition processor exited", "path", reg.endpoint.Path, "error", err)
			}
		}()
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		Reaper(b.rootCtx, b.store, b.clock, b.cfg.ReaperInterval)
	}()

	logger.L().InfoContext(ctx, "bus started", "endpoints", len(regs))
	return nil
}

// Stop cancels the root token, drains partitions, and disposes the store
// (§6 "Start() / Stop()").
func (b *Bus) Stop(ctx context.Context) error {
	if !b.started.Load() {
		return nil
	}

	b.mu.Lock()
	regs := append([]*registration(nil), b.registrations...)
	b.mu.Unlock()

	for _, reg := range regs {
		if reg.processor != nil {
			if err := reg.processor.Stop(ctx); err != nil {
				logger.L().ErrorContext(ctx, "transport stop failed", "path", reg.endpoint.Path, "error", err)
			}
		}
	}

	if b.rootCancel != nil {
		b.rootCancel()
	}
	b.wg.Wait()

	// Dispose the store: every request still awaiting a response is
	// completed with a cancellation error.
	b.store.mu.Lock()
	pendingIDs := make([]string, 0, len(b.store.entries))
	for id := range b.store.entries {
		pendingIDs = append(pendingIDs, id)
	}
	b.store.mu.Unlock()
	for _, id := range pendingIDs {
		b.store.Cancel(id)
	}

	b.started.Store(false)
	return nil
}

// defaultProvider deserializes the payload for t using the configured
// Serializer (§2 "Message Provider").
func (b *Bus) defaultProvider(t reflect.Type, payload []byte) (any, error) {
	if t == nil {
		return nil, ErrUndeclaredType("<nil>")
	}
	return b.serializer.Deserialize(t, payload)
}

// transportFor returns the transport registered for path, falling back to
// the default transport for ad-hoc destinations (reply channels).
func (b *Bus) transportFor(path string) (Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.registrations {
		if r.endpoint.Path == path {
			return r.transport, nil
		}
	}
	if b.defaultTransport != nil {
		return b.defaultTransport, nil
	}
	return nil, ErrConfigInvalid("no transport registered for path "+path, nil)
}

// Publish sends message fire-and-forget to path, applying the producer
// interceptor chain (§6 "Publish<T>").
func (b *Bus) Publish(ctx context.Context, path string, message any, headers Headers) error {
	transport, err := b.transportFor(path)
	if err != nil {
		return err
	}

	t := reflect.TypeOf(message)
	payload, err := b.serializer.Serialize(t, message)
	if err != nil {
		return ErrSerialization(err)
	}

	if headers == nil {
		headers = Headers{}
	} else {
		headers = headers.Clone()
	}
	headers[HeaderMessageType] = b.resolver(t)

	msg := &Message{Path: path, Payload: payload, Headers: headers, Timestamp: b.clock.Now()}

	chain := newProducerChain(b.interceptors.ProducerInterceptors(), func(ctx context.Context, msg *Message) error {
		return transport.Send(ctx, msg.Path, msg.Payload, msg.Headers)
	})
	return chain.Run(ctx, msg)
}

// SendOptions configures one Send call (§6 "Send<TReq,TResp>").
type SendOptions struct {
	// ReplyTo is the reply-channel path; must have been registered via
	// RegisterReplyChannel.
	ReplyTo string
	// Timeout overrides Config.DefaultRequestTimeout for this call.
	Timeout time.Duration
}

// Send registers a pending entry, publishes the request with correlation
// headers, and awaits the response (§4.3 "Send flow", §6
// "Send<TReq,TResp>").
func Send[TResp any](ctx context.Context, b *Bus, path string, request any, opts SendOptions) (TResp, error) {
	var zero TResp

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.cfg.DefaultRequestTimeout
	}
	expiresAt := b.clock.Now().Add(timeout)

	respType := reflect.TypeOf(zero)
	requestID := b.genID()

	awaiter, err := b.store.Register(requestID, respType, expiresAt)
	if err != nil {
		return zero, err
	}

	headers := Headers{
		HeaderRequestID: requestID,
		HeaderReplyTo:   opts.ReplyTo,
		HeaderExpires:   encodeExpires(expiresAt),
	}

	if err := b.Publish(ctx, path, request, headers); err != nil {
		b.store.Cancel(requestID)
		return zero, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := awaiter.Wait(waitCtx)
	if err != nil {
		b.store.Cancel(requestID)
		return zero, err
	}

	result, ok := resp.(TResp)
	if !ok {
		return zero, ErrSerialization(fmt.Errorf("unexpected response type %T", resp))
	}
	return result, nil
}

// ProduceResponse emits a response on respHeaders[ReplyTo], called by the
// Message Processor (§6 "ProduceResponse", §4.1 step 5).
func (b *Bus) ProduceResponse(ctx context.Context, reqHeaders Headers, response any, respHeaders Headers, sub Subscriber) error {
	replyTo := reqHeaders[HeaderReplyTo]
	if replyTo == "" {
		return nil
	}

	transport, err := b.transportFor(replyTo)
	if err != nil {
		return err
	}

	var payload []byte
	if response != nil {
		payload, err = b.serializer.Serialize(sub.ResponseType, response)
		if err != nil {
			return ErrSerialization(err)
		}
	}

	return transport.Send(ctx, replyTo, payload, respHeaders)
}

// RegisterReplyChannel wires a synthetic handler on path that reads
// RequestId from inbound headers, resolves the entry's declared response
// type, and calls Resolve (§4.3 "Response arrival").
func (b *Bus) RegisterReplyChannel(path string, transport Transport) error {
	ep := Endpoint{
		Path:             path,
		Kind:             KindDirect,
		UndeclaredPolicy: PolicyIgnore,
		Subscribers: []Subscriber{
			{
				MessageType:  replyMessageType,
				DeclaredType: reflect.TypeOf(replyPayload{}),
				FactoryKey:   "slimbus.reply",
				Factory: func(scope ServiceScope) (any, error) {
					return &replyConsumer{store: b.store}, nil
				},
			},
		},
	}
	return b.registerEndpoint(ep, transport, rawReplyProvider)
}

// rawReplyProvider bypasses the application Serializer: the reply channel's
// payload is the original response bytes, re-deserialized by the Pending
// Request Store using the caller's own declared response type.
func rawReplyProvider(_ reflect.Type, payload []byte) (any, error) {
	return replyPayload{Raw: payload}, nil
}

const replyMessageType = "__slimbus.reply__"

// replyPayload is the declared type for the synthetic reply subscriber; the
// raw response bytes travel untouched and are re-deserialized by the store
// using the original caller's response type.
type replyPayload struct{ Raw []byte }

// replyConsumer is instantiated fresh per dispatch by its Factory; WithContext
// captures the Consumer Context so OnHandle can read the inbound headers.
type replyConsumer struct {
	store *PendingRequestStore
	cc    *ConsumerContext
}

func (c *replyConsumer) WithContext(cc *ConsumerContext) { c.cc = cc }

func (c *replyConsumer) OnHandle(ctx context.Context, message any) error {
	if c.cc == nil {
		return nil
	}
	requestID := c.cc.Headers[HeaderRequestID]
	if requestID == "" {
		return nil
	}
	payload, _ := message.(replyPayload)
	c.store.Resolve(requestID, payload.Raw, c.cc.Headers[HeaderError])
	return nil
}

func errDuplicateHandler(path, messageType string) error {
	return ErrConfigInvalid(
		"duplicate request handler for "+messageType+" on endpoint "+path, nil)
}
