package models

import "time"

const (
	EnvelopeVersion  = "1.0"
	DefaultEventType = "generic.event"
	ContentTypeJSON  = "application/json"
)

// MessageEnvelope is the unit every outbound event is wrapped in. It is built
// once per send and never mutated afterwards; MessageID doubles as the
// partition key and the idempotency key.
type MessageEnvelope struct {
	MessageID     string                 `json:"messageId"`
	Timestamp     time.Time              `json:"timestamp"`
	Version       string                 `json:"version"`
	Source        string                 `json:"source"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	SessionID     string                 `json:"sessionId,omitempty"`
	UserID        string                 `json:"userId,omitempty"`
	EventType     string                 `json:"eventType"`
	Payload       map[string]interface{} `json:"payload"`
}

// WireRecord is the transmitted form. Plain records inline the envelope
// fields; encrypted records carry only the ciphertext. Both carry a
// signature computed over the envelope before encryption.
type WireRecord struct {
	Encrypted bool `json:"encrypted"`
	*MessageEnvelope
	Data       string `json:"data,omitempty"`
	Signature  string `json:"signature"`
	Algorithm  string `json:"algorithm,omitempty"`
	KeyVersion int    `json:"keyVersion,omitempty"`
}

// Header names set on every transmitted record.
const (
	HeaderMessageID         = "messageId"
	HeaderContentType       = "contentType"
	HeaderEncrypted         = "encrypted"
	HeaderComplianceAuditID = "complianceAuditId"
)

func (msg *MessageEnvelope) GetPayloadField(name string) (interface{}, bool) {
	if msg.Payload == nil {
		return nil, false
	}

	value, ok := msg.Payload[name]
	return value, ok
}
