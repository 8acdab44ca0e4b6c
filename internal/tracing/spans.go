package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute key constants for consistent span attributes.
const (
	AttrCorrelationID = "hubtap.correlation_id"
	AttrView          = "hubtap.view"
	AttrTopic         = "messaging.destination.name"
	AttrPartition     = "messaging.kafka.partition"
	AttrOffset        = "messaging.kafka.offset"
	AttrPartitionKey  = "messaging.kafka.message_key"
	AttrBatchSize     = "messaging.batch.message_count"
)

// Span name constants.
const (
	SpanSend    = "eventhub.send"
	SpanReceive = "eventhub.receive"
	SpanQuery   = "view.query"
)

// StartSpan starts a new span with the given name and options.
// If tracer is nil, returns the span already on the context.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// SetSpanError records an error on the span and sets the status to Error.
func SetSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK sets the span status to Ok.
func SetSpanOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// CorrelationAttr returns an attribute for the correlation ID.
func CorrelationAttr(id string) attribute.KeyValue {
	return attribute.String(AttrCorrelationID, id)
}

// TopicAttr returns an attribute for the event hub / topic name.
func TopicAttr(topic string) attribute.KeyValue {
	return attribute.String(AttrTopic, topic)
}

// PartitionAttr returns an attribute for the partition.
func PartitionAttr(partition int32) attribute.KeyValue {
	return attribute.Int64(AttrPartition, int64(partition))
}

// OffsetAttr returns an attribute for the record offset.
func OffsetAttr(offset int64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, offset)
}

// PartitionKeyAttr returns an attribute for the partition key.
func PartitionKeyAttr(key string) attribute.KeyValue {
	return attribute.String(AttrPartitionKey, key)
}

// BatchSizeAttr returns an attribute for the number of records in a batch.
func BatchSizeAttr(n int) attribute.KeyValue {
	return attribute.Int(AttrBatchSize, n)
}

// ViewAttr returns an attribute for the live view name.
func ViewAttr(name string) attribute.KeyValue {
	return attribute.String(AttrView, name)
}
