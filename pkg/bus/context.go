package bus

import "context"

// ConsumerContext is the per-invocation bag carrying endpoint path,
// cancellation, headers, the instantiated consumer object, and the raw
// transport message (§3 Consumer Context). It is created when dispatch
// begins and discarded when the handler returns.
type ConsumerContext struct {
	// Path is the endpoint's topic/queue/subject name.
	Path string

	// Headers is a read-only view of the inbound header bag.
	Headers Headers

	// Consumer is the instantiated target for this dispatch.
	Consumer any

	// TransportMessage is the opaque, transport-specific raw message.
	TransportMessage any

	ctx context.Context
}

// Context returns the per-invocation cancellation context; cancelled on
// partition revoke/close or bus shutdown (§5 "Cancellation & timeouts").
func (cc *ConsumerContext) Context() context.Context { return cc.ctx }

func newConsumerContext(ctx context.Context, path string, headers Headers, consumer any, raw any) *ConsumerContext {
	return &ConsumerContext{
		Path:             path,
		Headers:          headers,
		Consumer:         consumer,
		TransportMessage: raw,
		ctx:              ctx,
	}
}
