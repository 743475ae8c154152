package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Defaults(t *testing.T) {
	env := NewMessageEnvelopeBuilder().
		WithID("msg-1").
		WithSource("ledger").
		WithPayload(map[string]interface{}{"amount": 10}).
		Build()

	assert.Equal(t, DefaultEventType, env.EventType)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.False(t, env.Timestamp.IsZero())
	require.NoError(t, ValidateMessageEnvelope(env))
}

func TestBuilder_PayloadIsCopied(t *testing.T) {
	payload := map[string]interface{}{"amount": 10}
	env := NewMessageEnvelopeBuilder().WithPayload(payload).Build()

	payload["amount"] = 20
	assert.Equal(t, 10, env.Payload["amount"])
}

func TestWireRecord_PlainInlinesEnvelope(t *testing.T) {
	env := NewMessageEnvelopeBuilder().
		WithID("msg-1").
		WithSource("ledger").
		WithTimestamp(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)).
		WithPayload(map[string]interface{}{"amount": 100}).
		Build()

	raw, err := json.Marshal(WireRecord{MessageEnvelope: env, Signature: "sig"})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, false, fields["encrypted"])
	assert.Equal(t, "msg-1", fields["messageId"])
	assert.Equal(t, "sig", fields["signature"])
	assert.NotContains(t, fields, "data")

	decoded, err := DecodeWireRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", decoded.MessageID)
	assert.Equal(t, json.Number("100"), decoded.Payload["amount"])
}

func TestWireRecord_EncryptedOmitsEnvelope(t *testing.T) {
	raw, err := json.Marshal(WireRecord{Encrypted: true, Data: "Y2lwaGVy", Signature: "sig", Algorithm: "alg", KeyVersion: 2})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.NotContains(t, fields, "messageId")

	decoded, err := DecodeWireRecord(raw)
	require.NoError(t, err)
	assert.True(t, decoded.Encrypted)
	assert.Nil(t, decoded.MessageEnvelope)
	assert.Equal(t, 2, decoded.KeyVersion)
}

func TestDecodeWireRecord_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"not json", "{nope"},
		{"encrypted without data", `{"encrypted":true,"signature":"x"}`},
		{"plain without id", `{"encrypted":false,"source":"a","timestamp":"2026-01-01T00:00:00Z","payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeWireRecord([]byte(tt.value))
			assert.Error(t, err)
		})
	}
}

func TestNormalizeNumbers(t *testing.T) {
	in := map[string]interface{}{
		"amount": json.Number("100"),
		"rate":   json.Number("0.25"),
		"nested": map[string]interface{}{"count": json.Number("3")},
		"items":  []interface{}{json.Number("1"), "x"},
		"name":   "alice",
	}

	out := NormalizeNumbers(in)

	assert.Equal(t, int64(100), out["amount"])
	assert.Equal(t, 0.25, out["rate"])
	assert.Equal(t, int64(3), out["nested"].(map[string]interface{})["count"])
	assert.Equal(t, []interface{}{int64(1), "x"}, out["items"])
	assert.Equal(t, "alice", out["name"])
	assert.Equal(t, json.Number("100"), in["amount"])

	assert.Empty(t, NormalizeNumbers(nil))
	assert.NotNil(t, NormalizeNumbers(nil))
}
