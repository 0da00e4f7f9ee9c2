package kafkax

import (
	"sort"
	"strings"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
	HeaderTenantID  = "tenant_id"
)

// EventMeta is the routing metadata duplicated into Kafka headers so brokers
// tooling can filter without decoding payloads.
type EventMeta struct {
	EventID   string
	EventType string
	TenantID  string
}

func ExtractEventMeta(msg kafka.Message) EventMeta {
	eventType := HeaderValue(msg.Headers, HeaderEventType)
	if eventType == "" {
		eventType = msg.Topic
	}
	return EventMeta{
		EventID:   HeaderValue(msg.Headers, HeaderEventID),
		EventType: eventType,
		TenantID:  HeaderValue(msg.Headers, HeaderTenantID),
	}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// HeadersFromMap converts string headers in key order so identical maps
// always produce identical messages.
func HeadersFromMap(m map[string]string) []kafka.Header {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		out = append(out, kafka.Header{Key: k, Value: []byte(m[k])})
	}
	return out
}

func HeadersToMap(headers []kafka.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
