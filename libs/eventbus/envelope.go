package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

var ErrMalformedEnvelope = errors.New("eventbus: malformed envelope")

// Envelope is the wire format shared by every service.
type Envelope struct {
	EventID    string          `json:"event_id"`
	TenantID   string          `json:"tenant_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

var codec = sonic.ConfigStd

func Encode(evt IntegrationEvent) ([]byte, error) {
	payload, err := codec.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("eventbus: encode %s payload: %w", evt.EventType(), err)
	}
	meta := evt.Metadata()
	return codec.Marshal(Envelope{
		EventID:    meta.EventID,
		TenantID:   meta.TenantID.String(),
		OccurredAt: meta.OccurredAt.UTC(),
		Type:       evt.EventType(),
		Payload:    payload,
	})
}

// DecodeEnvelope parses the envelope only. The tenant is not checked here; the
// router dead-letters tenantless events itself.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := codec.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if env.EventID == "" || env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing event_id or type", ErrMalformedEnvelope)
	}
	if len(env.Payload) == 0 {
		env.Payload = json.RawMessage("{}")
	}
	return env, nil
}

// DecodePayload unmarshals the payload of env into a contract value.
func DecodePayload(env Envelope, into any) error {
	if err := codec.Unmarshal(env.Payload, into); err != nil {
		return fmt.Errorf("%w: payload of %s: %w", ErrMalformedEnvelope, env.Type, err)
	}
	return nil
}
