package bus

import (
	"context"
	"reflect"

	"github.com/slimbus-go/slimbus/pkg/logger"
)

// ProcessResult is the tuple ProcessMessage returns (§4.1 "Contract").
type ProcessResult struct {
	// Err is the dispatch-level error, if any. The error of a request
	// handler with SendResponses set never lands here (it travels as a
	// response instead, §4.1 step 5); undeclared-type and serialization
	// errors, consumer errors, and errors of handlers with SendResponses
	// unset do.
	Err error

	// Settings is the last subscriber whose dispatch returned an error,
	// useful for error reporting by the Partition Processor; nil when no
	// subscriber failed.
	Settings *Subscriber

	// Response is the first handler's response object. Populated only
	// when SendResponses is false (§4.1 step 6) — used for testing and
	// in-process request dispatch.
	Response any

	// Payload is the materialized message object, returned regardless of
	// subsequent outcome for diagnostics (§4.1 step 3).
	Payload any
}

// ResponseProducer is called by the Message Processor to emit a response on
// the caller's reply channel (§6 "ProduceResponse").
type ResponseProducer func(ctx context.Context, reqHeaders Headers, response any, respHeaders Headers, sub Subscriber) error

// MessageProcessor is the per-message dispatch engine (§4.1, §2 "Message
// Processor"): resolves the concrete message type, selects the matching
// subscribers among several registered on one endpoint, instantiates
// consumer objects via an optional per-message scope, runs the ordered
// interceptor chain, and (for requests) produces a response.
type MessageProcessor struct {
	Endpoint     Endpoint
	Locator      ServiceLocator
	Provider     MessageProvider
	TypeRegistry *typeRegistry
	Resolver     TypeNameReverser
	Interceptors *InterceptorRegistry
	Produce      ResponseProducer
	Clock        TimeSource
}

// NewMessageProcessor builds a processor for one endpoint. clock may be nil,
// defaulting to the system clock.
func NewMessageProcessor(ep Endpoint, locator ServiceLocator, provider MessageProvider, resolver TypeNameReverser, interceptors *InterceptorRegistry, produce ResponseProducer, clock TimeSource) *MessageProcessor {
	if clock == nil {
		clock = systemClock{}
	}
	if interceptors == nil {
		interceptors = NewInterceptorRegistry(nil, nil)
	}
	return &MessageProcessor{
		Endpoint:     ep,
		Locator:      locator,
		Provider:     provider,
		TypeRegistry: newTypeRegistry(),
		Resolver:     resolver,
		Interceptors: interceptors,
		Produce:      produce,
		Clock:        clock,
	}
}

// ProcessMessage implements the contract of §4.1.
func (p *MessageProcessor) ProcessMessage(ctx context.Context, payload []byte, headers Headers) ProcessResult {
	// Step 1: type resolution.
	resolvedType := p.resolveType(headers)
	matching := p.matchingSubscribers(resolvedType)

	// Step 2: undeclared-type policy.
	if len(matching) == 0 {
		if p.Endpoint.UndeclaredPolicy == PolicyFail {
			return ProcessResult{Err: ErrUndeclaredType(headers[HeaderMessageType])}
		}
		return ProcessResult{}
	}

	// Step 3: payload materialization (diagnostic regardless of outcome).
	obj, err := p.Provider(resolvedType, payload)
	if err != nil {
		return ProcessResult{Err: ErrSerialization(err)}
	}

	result := ProcessResult{Payload: obj}

	// Step 4: per-subscriber dispatch, in declaration order.
	for _, sub := range matching {
		sub := sub
		lastErr, response, expired := p.dispatchOne(ctx, sub, obj, headers)
		if expired {
			continue
		}

		// Step 5: response production (requests only). A handler whose
		// outcome travels as a response message must not also surface on
		// the tuple (invariant 4): the error/response is reported exactly
		// once, never both.
		if sub.IsHandler() && sub.SendResponses {
			p.produceResponse(ctx, sub, headers, response, lastErr)
			continue
		}

		if lastErr != nil {
			result.Err = lastErr
			result.Settings = &sub
		}
		if sub.IsHandler() && result.Response == nil {
			result.Response = response
		}
	}

	return result
}

// resolveType looks up headers[MessageType] via the resolver, or falls back
// to the first subscriber's declared type (§4.1 step 1). Returns nil if the
// header was present but the resolver does not recognize it — that nil
// naturally fails to match any subscriber in matchingSubscribers.
func (p *MessageProcessor) resolveType(headers Headers) reflect.Type {
	name, present := headers[HeaderMessageType]
	if !present {
		if len(p.Endpoint.Subscribers) == 0 {
			return nil
		}
		return p.Endpoint.Subscribers[0].DeclaredType
	}
	if p.Resolver == nil {
		return nil
	}
	t, ok := p.Resolver(name)
	if !ok {
		return nil
	}
	return t
}

// matchingSubscribers implements §4.1 step 1: all subscribers whose declared
// type is a supertype of the resolved type.
func (p *MessageProcessor) matchingSubscribers(resolvedType reflect.Type) []Subscriber {
	if resolvedType == nil {
		return nil
	}
	var out []Subscriber
	for _, sub := range p.Endpoint.Subscribers {
		if p.TypeRegistry.matches(resolvedType, sub.DeclaredType) {
			out = append(out, sub)
		}
	}
	return out
}

func (p *MessageProcessor) dispatchOne(ctx context.Context, sub Subscriber, message any, headers Headers) (err error, response any, expired bool) {
	// Step 4a: expiry gating for request handlers.
	if sub.IsHandler() {
		if exp, present := headers[HeaderExpires]; present {
			if isExpired(exp, p.Clock.Now()) {
				logger.L().InfoContext(ctx, "dropping expired request",
					"path", p.Endpoint.Path, "request_id", headers[HeaderRequestID])
				return nil, nil, true
			}
		}
	}

	// Step 4b: resolution scope.
	scope, dispose, err := p.resolveScope(sub)
	if err != nil {
		return err, nil, false
	}
	if dispose != nil {
		defer dispose()
	}

	// Step 4c: resolve the consumer/handler instance.
	target, err := sub.Factory(scope)
	if err != nil {
		return err, nil, false
	}

	// Step 4d: context-aware capability.
	cc := newConsumerContext(ctx, p.Endpoint.Path, headers, target, message)
	if aware, ok := target.(ConsumerWithContext); ok {
		aware.WithContext(cc)
	}

	// Step 4e/4f: build and run the interceptor chain.
	chain := newConsumerChain(p.Interceptors.ConsumerInterceptors(), func(ctx context.Context, message any) (any, error) {
		if sub.IsHandler() {
			h := target.(RequestHandler)
			return h.OnHandle(ctx, message)
		}
		c := target.(Consumer)
		return nil, c.OnHandle(ctx, message)
	})

	resp, err := chain.Run(cc.Context(), message)
	return err, resp, false
}

func (p *MessageProcessor) resolveScope(sub Subscriber) (ServiceScope, func(), error) {
	if !sub.PerMessageScope || p.Locator == nil {
		return nil, nil, nil
	}
	scope, err := p.Locator.CreateScope()
	if err != nil {
		return nil, nil, err
	}
	return scope, func() { _ = scope.Dispose() }, nil
}

func (p *MessageProcessor) produceResponse(ctx context.Context, sub Subscriber, reqHeaders Headers, response any, handlerErr error) {
	if p.Produce == nil {
		return
	}
	respHeaders := Headers{HeaderRequestID: reqHeaders[HeaderRequestID]}
	if handlerErr != nil {
		respHeaders[HeaderError] = handlerErr.Error()
		response = nil
	}
	if err := p.Produce(ctx, reqHeaders, response, respHeaders, sub); err != nil {
		logger.L().ErrorContext(ctx, "failed to produce response",
			"path", p.Endpoint.Path, "request_id", reqHeaders[HeaderRequestID], "error", err)
	}
}
