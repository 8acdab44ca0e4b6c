// Package correlation assigns and propagates correlation IDs and trace
// context through record headers.
package correlation

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	HeaderCorrelationID  = "hubtap-correlation-id"
	HeaderXCorrelationID = "x-correlation-id"
	HeaderXRequestID     = "x-request-id"
	HeaderTraceparent    = "traceparent"
)

// ID is a correlation ID with the header it was sourced from.
type ID struct {
	Value  string
	Source string
}

// ExtractOrGenerate extracts a correlation ID from headers or generates a new
// UUID. Priority: hubtap-correlation-id > x-correlation-id > x-request-id >
// traceparent > new UUID.
func ExtractOrGenerate(headers map[string]string) ID {
	if id := headers[HeaderCorrelationID]; id != "" {
		return ID{Value: id, Source: HeaderCorrelationID}
	}
	if id := headers[HeaderXCorrelationID]; id != "" {
		return ID{Value: id, Source: HeaderXCorrelationID}
	}
	if id := headers[HeaderXRequestID]; id != "" {
		return ID{Value: id, Source: HeaderXRequestID}
	}
	if tp := headers[HeaderTraceparent]; tp != "" {
		if traceID := extractTraceID(tp); traceID != "" {
			return ID{Value: traceID, Source: HeaderTraceparent}
		}
	}
	return ID{Value: uuid.New().String(), Source: "generated"}
}

// extractTraceID parses W3C traceparent format: version-traceid-parentid-flags
func extractTraceID(traceparent string) string {
	parts := strings.Split(traceparent, "-")
	if len(parts) >= 2 && len(parts[1]) == 32 {
		return parts[1]
	}
	return ""
}

// AddToHeaders adds the correlation ID to headers (creates the map if nil).
func AddToHeaders(headers map[string]string, id ID) map[string]string {
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	headers[HeaderCorrelationID] = id.Value
	return headers
}

// InjectTraceContext writes the active trace context into record headers.
func InjectTraceContext(ctx context.Context, headers map[string]string) map[string]string {
	if headers == nil {
		headers = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	return headers
}

// ExtractTraceContext returns a context carrying any trace context found in
// record headers.
func ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}
