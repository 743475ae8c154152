package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateMessageEnvelope checks the fields every envelope must carry
// before it is signed, transmitted or handed to a handler.
func ValidateMessageEnvelope(msg *MessageEnvelope) error {
	switch {
	case msg == nil:
		return &ValidationError{Field: "envelope", Message: "message envelope cannot be nil"}
	case msg.MessageID == "":
		return &ValidationError{Field: "messageId", Message: "message ID is required"}
	case msg.Source == "":
		return &ValidationError{Field: "source", Message: "message source is required"}
	case msg.Timestamp.IsZero():
		return &ValidationError{Field: "timestamp", Message: "message timestamp is required"}
	case msg.Payload == nil:
		return &ValidationError{Field: "payload", Message: "message payload cannot be nil"}
	}
	return nil
}

// DecodeWireRecord parses a transmitted value. Numbers are kept as
// json.Number so re-encoding for signature checks is byte-stable.
func DecodeWireRecord(value []byte) (*WireRecord, error) {
	if len(bytes.TrimSpace(value)) == 0 {
		return nil, &ValidationError{Field: "value", Message: "record value is empty"}
	}

	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()

	var record WireRecord
	if err := dec.Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode wire record: %w", err)
	}

	if record.Encrypted {
		if record.Data == "" {
			return nil, &ValidationError{Field: "data", Message: "encrypted record has no ciphertext"}
		}
		return &record, nil
	}

	if err := ValidateMessageEnvelope(record.MessageEnvelope); err != nil {
		return nil, err
	}

	return &record, nil
}
