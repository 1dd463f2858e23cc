// Package memory implements an in-process loopback Transport (§6 family 7:
// in-memory loopback). It is the reference adapter used by the core
// engine's own tests and by applications wiring a bus for unit tests
// without a live broker, grounded on the streaming package's in-memory
// Client.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/slimbus-go/slimbus/pkg/bus"
)

// offset is a monotonically increasing in-process sequence number.
type offset int64

func (o offset) Less(other bus.Offset) bool {
	return o < other.(offset)
}

func (o offset) String() string {
	return strconv.FormatInt(int64(o), 10)
}

// Record is a published message, kept for test inspection via Records.
type Record struct {
	Path    string
	Payload []byte
	Headers bus.Headers
}

// Transport is a single-process, single-partition loopback: every Send call
// is delivered synchronously to every path's registered subscribers on the
// calling goroutine, round-tripping through the same PartitionCallbacks a
// real broker adapter would drive.
type Transport struct {
	mu       sync.Mutex
	cb       bus.PartitionCallbacks
	started  bool
	seq      map[string]offset
	records  []Record
	group    string
}

// New creates an unstarted in-memory transport. group labels the single
// synthetic partition every path is delivered on.
func New(group string) *Transport {
	return &Transport{
		seq:   make(map[string]offset),
		group: group,
	}
}

// Start implements bus.Transport. There is exactly one logical partition
// per path, assigned lazily on first Send.
func (t *Transport) Start(ctx context.Context, cb bus.PartitionCallbacks) error {
	t.mu.Lock()
	t.cb = cb
	t.started = true
	t.mu.Unlock()
	<-ctx.Done()
	return nil
}

// Stop implements bus.Transport; revokes every known path's partition.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	cb := t.cb
	paths := make([]string, 0, len(t.seq))
	for p := range t.seq {
		paths = append(paths, p)
	}
	t.started = false
	t.mu.Unlock()

	for _, p := range paths {
		cb.OnRevoke(ctx, bus.PartitionInfo{Path: p, Group: t.group, Partition: 0})
	}
	return nil
}

// Commit is a no-op: the in-memory transport has no durable log to advance.
func (t *Transport) Commit(ctx context.Context, info bus.PartitionInfo, off bus.Offset) error {
	return nil
}

// Send delivers payload/headers to path's subscribers synchronously,
// assigning the partition on first use (§4.2 "On assign").
func (t *Transport) Send(ctx context.Context, path string, payload []byte, headers bus.Headers) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return bus.ErrTransport(errTransportNotStarted{})
	}
	cb := t.cb
	first := false
	if _, ok := t.seq[path]; !ok {
		t.seq[path] = 0
		first = true
	}
	next := t.seq[path] + 1
	t.seq[path] = next
	t.records = append(t.records, Record{Path: path, Payload: append([]byte(nil), payload...), Headers: headers.Clone()})
	t.mu.Unlock()

	info := bus.PartitionInfo{Path: path, Group: t.group, Partition: 0}
	if first {
		cb.OnAssign(ctx, info)
	}

	return cb.OnMessage(ctx, bus.InboundMessage{
		Info:    info,
		Offset:  next,
		Payload: payload,
		Headers: headers,
	})
}

// Records returns every message sent through this transport, for test
// assertions.
func (t *Transport) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

type errTransportNotStarted struct{}

func (errTransportNotStarted) Error() string { return "memory transport not started" }
