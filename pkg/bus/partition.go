package bus

import (
	"context"
	"sync"

	"github.com/slimbus-go/slimbus/pkg/logger"
)

// PartitionState is the lifecycle state of one partition (§4.2 "States").
type PartitionState int

const (
	StateUnassigned PartitionState = iota
	StateAssigned
	StateRunning
	StateRevoked
	StateClosed
)

// partitionRuntime is the per-partition mutable state: its cancellation
// source, checkpoint trigger, and last-seen/last-committed offsets.
type partitionRuntime struct {
	mu            sync.Mutex
	state         PartitionState
	ctx           context.Context
	cancel        context.CancelFunc
	trigger       *checkpointTrigger
	lastSeen      Offset
	lastCommitted Offset
	inFlight      sync.WaitGroup
}

// PartitionProcessor drives one Endpoint's partitions over a Transport with
// checkpoint/commit discipline, cancellation on revoke/close, and
// at-most-once-delivery-to-handler semantics for expired requests (§4.2, §2
// "Partition Processor").
type PartitionProcessor struct {
	Endpoint   Endpoint
	Transport  Transport
	Processor  *MessageProcessor
	HeaderCode HeaderSerializer

	mu         sync.Mutex
	partitions map[int32]*partitionRuntime
}

// NewPartitionProcessor builds a processor for one endpoint over transport,
// dispatching matched messages through msgProcessor.
func NewPartitionProcessor(ep Endpoint, transport Transport, msgProcessor *MessageProcessor, codec HeaderSerializer) *PartitionProcessor {
	if codec == nil {
		codec = NewDefaultHeaderCodec()
	}
	return &PartitionProcessor{
		Endpoint:   ep,
		Transport:  transport,
		Processor:  msgProcessor,
		HeaderCode: codec,
		partitions: make(map[int32]*partitionRuntime),
	}
}

// Run starts the transport, wiring its callbacks to this processor's
// lifecycle methods. It blocks until ctx is cancelled or the transport
// returns.
func (pp *PartitionProcessor) Run(ctx context.Context) error {
	return pp.Transport.Start(ctx, PartitionCallbacks{
		OnAssign:  pp.onAssign,
		OnMessage: pp.onMessage,
		OnRevoke:  pp.onRevoke,
		OnClose:   pp.onClose,
		OnError:   pp.onError,
	})
}

// Stop stops the underlying transport; in-flight partitions are revoked
// through the transport's own OnRevoke/OnClose callbacks as part of
// shutdown.
func (pp *PartitionProcessor) Stop(ctx context.Context) error {
	return pp.Transport.Stop(ctx)
}

func (pp *PartitionProcessor) runtimeFor(info PartitionInfo) *partitionRuntime {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	rt, ok := pp.partitions[info.Partition]
	if !ok {
		rt = &partitionRuntime{state: StateUnassigned}
		pp.partitions[info.Partition] = rt
	}
	return rt
}

// onAssign resets the checkpoint trigger and offsets, and creates a fresh
// cancellation source for all in-flight work on this partition (§4.2 "On
// assign").
func (pp *PartitionProcessor) onAssign(ctx context.Context, info PartitionInfo) {
	rt := pp.runtimeFor(info)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	partCtx, cancel := context.WithCancel(ctx)
	rt.ctx = partCtx
	rt.cancel = cancel
	rt.trigger = newCheckpointTrigger(pp.Endpoint.Checkpoint)
	rt.lastSeen = nil
	rt.lastCommitted = nil
	rt.state = StateAssigned

	logger.L().InfoContext(ctx, "partition assigned", "path", info.Path, "group", info.Group, "partition", info.Partition)
}

// onMessage implements §4.2 "On message".
func (pp *PartitionProcessor) onMessage(ctx context.Context, msg InboundMessage) error {
	rt := pp.runtimeFor(msg.Info)

	rt.mu.Lock()
	if rt.ctx == nil {
		rt.ctx = ctx
	}
	if rt.ctx.Err() != nil {
		rt.mu.Unlock()
		return nil // dropped silently: cancellation already requested
	}
	rt.state = StateRunning
	partCtx := rt.ctx
	rt.lastSeen = msg.Offset
	trigger := rt.trigger
	rt.inFlight.Add(1)
	rt.mu.Unlock()
	defer rt.inFlight.Done()

	headers, err := pp.HeaderCode.DecodeHeaders(msg.Headers)
	if err != nil {
		logger.L().ErrorContext(ctx, "failed to decode headers", "path", msg.Info.Path, "error", err)
		headers = msg.Headers
	}

	result := pp.Processor.ProcessMessage(partCtx, msg.Payload, headers)
	if result.Err != nil {
		// Dispatch errors never tear down the partition (§4.1 "Failure
		// semantics"); current policy always advances.
		logger.L().ErrorContext(ctx, "message dispatch failed",
			"path", msg.Info.Path, "group", msg.Info.Group, "error", result.Err)
	}

	if trigger != nil && trigger.Increment() {
		pp.commit(ctx, rt, msg.Info, msg.Offset)
	}

	return nil
}

// OnPartitionEndReached commits at the given offset to mark catch-up
// completion for log transports with a configured checkpoint trigger
// (§4.2).
func (pp *PartitionProcessor) OnPartitionEndReached(ctx context.Context, info PartitionInfo, offset Offset) {
	rt := pp.runtimeFor(info)
	rt.mu.Lock()
	hasTrigger := rt.trigger != nil
	rt.mu.Unlock()
	if hasTrigger {
		pp.commit(ctx, rt, info, offset)
	}
}

// onRevoke cancels the per-partition cancellation source and awaits
// in-flight completion before returning; it does not commit (§4.2 "On
// revoke").
func (pp *PartitionProcessor) onRevoke(ctx context.Context, info PartitionInfo) {
	rt := pp.runtimeFor(info)

	rt.mu.Lock()
	rt.state = StateRevoked
	cancel := rt.cancel
	rt.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	rt.inFlight.Wait()

	logger.L().InfoContext(ctx, "partition revoked", "path", info.Path, "group", info.Group, "partition", info.Partition)
}

// onClose commits at last-seen (best effort) and cancels (§4.2 "On close").
func (pp *PartitionProcessor) onClose(ctx context.Context, info PartitionInfo) {
	rt := pp.runtimeFor(info)

	rt.mu.Lock()
	lastSeen := rt.lastSeen
	cancel := rt.cancel
	rt.state = StateClosed
	rt.mu.Unlock()

	if lastSeen != nil {
		pp.commit(ctx, rt, info, lastSeen)
	}
	if cancel != nil {
		cancel()
	}
	rt.inFlight.Wait()

	logger.L().InfoContext(ctx, "partition closed", "path", info.Path, "group", info.Group, "partition", info.Partition)
}

func (pp *PartitionProcessor) onError(err error) {
	logger.L().Error("transport error", "path", pp.Endpoint.Path, "error", err)
}

// commit enforces monotonicity: a no-op when offset is not greater than
// lastCommitted (§4.2 "Commit monotonicity").
func (pp *PartitionProcessor) commit(ctx context.Context, rt *partitionRuntime, info PartitionInfo, offset Offset) {
	rt.mu.Lock()
	if rt.lastCommitted != nil && !rt.lastCommitted.Less(offset) {
		rt.mu.Unlock()
		return
	}
	rt.lastCommitted = offset
	trigger := rt.trigger
	rt.mu.Unlock()

	if err := pp.Transport.Commit(ctx, info, offset); err != nil {
		logger.L().ErrorContext(ctx, "commit failed", "path", info.Path, "offset", offset.String(), "error", err)
		return
	}
	if trigger != nil {
		trigger.Reset()
	}
}
