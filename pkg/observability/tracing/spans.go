package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation names a traced queue operation.
type SpanOperation string

const (
	SpanOperationMsgPublish SpanOperation = "messaging.publish"
	SpanOperationMsgConsume SpanOperation = "messaging.consume"
	SpanOperationMsgProcess SpanOperation = "messaging.process"
)

// kind maps the operation onto the OpenTelemetry producer/consumer
// convention: publish is the producer side, consume and process the
// consumer side.
func (op SpanOperation) kind() trace.SpanKind {
	switch op {
	case SpanOperationMsgPublish:
		return trace.SpanKindProducer
	case SpanOperationMsgConsume, SpanOperationMsgProcess:
		return trace.SpanKindConsumer
	default:
		return trace.SpanKindClient
	}
}

type messagingSpanOptions struct {
	destination string
	attributes  []attribute.KeyValue
}

// MessagingSpanOption adds attributes to a messaging span.
type MessagingSpanOption func(*messagingSpanOptions)

// WithMessagingSystem records the backend ("redis", "rabbitmq", "sqs").
func WithMessagingSystem(system string) MessagingSpanOption {
	return func(opts *messagingSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("messaging.system", system))
	}
}

// WithMessagingDestination records the queue name; it also becomes part
// of the span name.
func WithMessagingDestination(destination string) MessagingSpanOption {
	return func(opts *messagingSpanOptions) {
		opts.destination = destination
		opts.attributes = append(opts.attributes, attribute.String("messaging.destination", destination))
	}
}

// WithMessagingMessageID records the job ID.
func WithMessagingMessageID(messageID string) MessagingSpanOption {
	return func(opts *messagingSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("messaging.message_id", messageID))
	}
}

// WithMessagingPayloadSize records the payload size in bytes.
func WithMessagingPayloadSize(size int) MessagingSpanOption {
	return func(opts *messagingSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("messaging.payload_size_bytes", size))
	}
}

// StartMessagingSpan opens a span around one queue operation with the
// messaging.* attribute set. The span name is "MSG <operation>" plus the
// destination when one is given.
func StartMessagingSpan(ctx context.Context, operation SpanOperation, opts ...MessagingSpanOption) (context.Context, trace.Span) {
	spanOpts := &messagingSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("messaging.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	name := "MSG " + string(operation)
	if spanOpts.destination != "" {
		name += " " + spanOpts.destination
	}

	ctx, span := otel.Tracer("messaging").Start(ctx, name, trace.WithSpanKind(operation.kind()))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// RecordError marks the span failed and attaches the error; nil is a
// no-op so settle paths can call it unconditionally.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
