package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Headers adapts a Kafka header list to the otel text map carrier.
type Headers []kafka.Header

var _ propagation.TextMapCarrier = (*Headers)(nil)

func (h *Headers) Get(key string) string { return HeaderValue(*h, key) }

func (h *Headers) Set(key, value string) {
	for i := range *h {
		if (*h)[i].Key == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}

func (h *Headers) Keys() []string {
	keys := make([]string, len(*h))
	for i, hdr := range *h {
		keys[i] = hdr.Key
	}
	return keys
}

// InjectTraceHeaders writes the W3C trace context of ctx into headers,
// replacing a traceparent already present.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	h := Headers(headers)
	otel.GetTextMapPropagator().Inject(ctx, &h)
	return h
}

func ExtractTraceContext(ctx context.Context, msg kafka.Message) context.Context {
	h := Headers(msg.Headers)
	return otel.GetTextMapPropagator().Extract(ctx, &h)
}
