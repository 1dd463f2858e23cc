package bus

import (
	"context"

	"github.com/slimbus-go/slimbus/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// instrumentedTransport wraps a Transport with tracing and structured
// logging on the producer-path calls, following the teacher's
// InstrumentedBroker/InstrumentedProducer pattern.
type instrumentedTransport struct {
	inner  Transport
	path   string
	tracer trace.Tracer
}

// NewInstrumentedTransport wraps inner so every Send and Commit call opens
// a span and logs through logger.L(). path labels the endpoint this
// transport instance serves, for span attributes and log fields.
func NewInstrumentedTransport(inner Transport, path string) Transport {
	return &instrumentedTransport{inner: inner, path: path, tracer: otel.Tracer("pkg/bus")}
}

func (t *instrumentedTransport) Start(ctx context.Context, cb PartitionCallbacks) error {
	return t.inner.Start(ctx, cb)
}

func (t *instrumentedTransport) Stop(ctx context.Context) error {
	logger.L().InfoContext(ctx, "stopping transport", "path", t.path)
	return t.inner.Stop(ctx)
}

func (t *instrumentedTransport) Commit(ctx context.Context, info PartitionInfo, off Offset) error {
	ctx, span := t.tracer.Start(ctx, "bus.Commit", trace.WithAttributes(
		attribute.String("bus.path", info.Path),
		attribute.Int("bus.partition", int(info.Partition)),
		attribute.String("bus.offset", off.String()),
	))
	defer span.End()

	err := t.inner.Commit(ctx, info, off)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "commit failed", "path", info.Path, "partition", info.Partition, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "committed")
	return nil
}

func (t *instrumentedTransport) Send(ctx context.Context, path string, payload []byte, headers Headers) error {
	ctx, span := t.tracer.Start(ctx, "bus.Send", trace.WithAttributes(
		attribute.String("bus.path", path),
		attribute.String("bus.request_id", headers[HeaderRequestID]),
	))
	defer span.End()

	logger.L().InfoContext(ctx, "sending message", "path", path, "request_id", headers[HeaderRequestID])

	err := t.inner.Send(ctx, path, payload, headers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "send failed", "path", path, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "sent")
	return nil
}
