package models

import "time"

type MessageEnvelopeBuilder struct {
	envelope *MessageEnvelope
}

func NewMessageEnvelopeBuilder() *MessageEnvelopeBuilder {
	return &MessageEnvelopeBuilder{
		envelope: &MessageEnvelope{
			Version: EnvelopeVersion,
			Payload: make(map[string]interface{}),
		},
	}
}

func (b *MessageEnvelopeBuilder) WithID(id string) *MessageEnvelopeBuilder {
	b.envelope.MessageID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithSource(source string) *MessageEnvelopeBuilder {
	b.envelope.Source = source
	return b
}

func (b *MessageEnvelopeBuilder) WithVersion(version string) *MessageEnvelopeBuilder {
	if version != "" {
		b.envelope.Version = version
	}
	return b
}

func (b *MessageEnvelopeBuilder) WithTimestamp(timestamp time.Time) *MessageEnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

func (b *MessageEnvelopeBuilder) WithCorrelationID(id string) *MessageEnvelopeBuilder {
	b.envelope.CorrelationID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithSessionID(id string) *MessageEnvelopeBuilder {
	b.envelope.SessionID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithUserID(id string) *MessageEnvelopeBuilder {
	b.envelope.UserID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithEventType(eventType string) *MessageEnvelopeBuilder {
	b.envelope.EventType = eventType
	return b
}

// WithPayload copies the top level of payload so later caller mutations do
// not leak into the built envelope.
func (b *MessageEnvelopeBuilder) WithPayload(payload map[string]interface{}) *MessageEnvelopeBuilder {
	copied := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		copied[k] = v
	}
	b.envelope.Payload = copied
	return b
}

func (b *MessageEnvelopeBuilder) Build() *MessageEnvelope {
	if b.envelope.Timestamp.IsZero() {
		b.envelope.Timestamp = time.Now().UTC()
	}
	if b.envelope.EventType == "" {
		b.envelope.EventType = DefaultEventType
	}
	return b.envelope
}
