package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securebus/internal/audit"
	"securebus/internal/config"
	"securebus/internal/logger"
	apperrors "securebus/pkg/errors"
	"securebus/pkg/models"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, cfg config.ComplianceConfig) (*Engine, *audit.MemorySink) {
	t.Helper()
	sink := audit.NewMemorySink()
	engine, err := NewEngineFromConfig(cfg, sink, logger.NopLogger(),
		WithReader(sink),
		WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)
	return engine, sink
}

func signedMessage(payload map[string]interface{}) Message {
	return Message{
		Envelope: &models.MessageEnvelope{
			MessageID: "msg-1",
			Timestamp: fixedNow,
			Version:   models.EnvelopeVersion,
			Source:    "payments",
			EventType: "payment.completed",
			Payload:   payload,
		},
		Signature:         "sig",
		SignatureVerified: true,
	}
}

type failingRule struct {
	baseRule
	panic bool
}

func (r failingRule) Evaluate(context.Context, string, Message) (RuleResult, error) {
	if r.panic {
		panic("boom")
	}
	return RuleResult{}, errors.New("lookup table unavailable")
}

func TestValidateCompliantMessage(t *testing.T) {
	engine, sink := newTestEngine(t, config.ComplianceConfig{})

	verdict := engine.Validate(context.Background(), "payments", signedMessage(map[string]interface{}{
		"amount":   100,
		"currency": "USD",
	}))

	assert.True(t, verdict.Compliant)
	assert.Empty(t, verdict.Violations)
	assert.Empty(t, verdict.Warnings)
	require.NotEmpty(t, verdict.AuditID)

	entries := sink.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, verdict.AuditID, entries[0].ID)
	assert.Equal(t, audit.ResultCompliant, entries[0].Result)
	assert.Equal(t, "msg-1", entries[0].MessageID)
	assert.Equal(t, audit.EventTypeComplianceValidation, entries[0].EventType)
}

func TestValidatePCIRule(t *testing.T) {
	engine, sink := newTestEngine(t, config.ComplianceConfig{})

	msg := signedMessage(map[string]interface{}{
		"amount":     100,
		"cardNumber": "4111111111111111",
	})

	verdict := engine.Validate(context.Background(), "payments", msg)
	assert.False(t, verdict.Compliant)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, RuleEncryptionInTransmission, verdict.Violations[0].RuleID)
	assert.Equal(t, audit.SeverityCritical, verdict.Violations[0].Severity)

	msg.Encrypted = true
	verdict = engine.Validate(context.Background(), "payments", msg)
	assert.True(t, verdict.Compliant)

	entries := sink.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ResultNonCompliant, entries[0].Result)
	assert.Equal(t, 1, entries[0].ViolationCount)
	assert.Equal(t, audit.ResultCompliant, entries[1].Result)
}

func TestValidateIntegrityRule(t *testing.T) {
	engine, _ := newTestEngine(t, config.ComplianceConfig{})

	msg := signedMessage(map[string]interface{}{"amount": 1})
	msg.Signature = ""
	verdict := engine.Validate(context.Background(), "payments", msg)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, RuleDataIntegrity, verdict.Violations[0].RuleID)

	msg.Signature = "sig"
	msg.SignatureVerified = false
	verdict = engine.Validate(context.Background(), "payments", msg)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "signature could not be verified", verdict.Violations[0].Reason)
}

func TestValidateTopicPolicies(t *testing.T) {
	engine, _ := newTestEngine(t, config.ComplianceConfig{
		TopicPolicies: map[string]config.TopicPolicyConfig{
			"user-registration": {
				AllowedPurposes: []string{"account-creation"},
				AllowedFields:   []string{"email", "name"},
			},
		},
	})

	tests := []struct {
		name    string
		topic   string
		payload map[string]interface{}
		rules   []string
	}{
		{
			name:    "allowed fields and purpose",
			topic:   "user-registration",
			payload: map[string]interface{}{"email": "a@b.c", "purpose": "account-creation"},
		},
		{
			name:    "extra field",
			topic:   "user-registration",
			payload: map[string]interface{}{"email": "a@b.c", "ssn": "1"},
			rules:   []string{RuleDataMinimization},
		},
		{
			name:    "disallowed purpose",
			topic:   "user-registration",
			payload: map[string]interface{}{"name": "x", "purpose": "marketing"},
			rules:   []string{RulePurposeLimitation},
		},
		{
			name:    "non string purpose",
			topic:   "user-registration",
			payload: map[string]interface{}{"purpose": 7},
			rules:   []string{RulePurposeLimitation},
		},
		{
			name:    "topic without policy",
			topic:   "audit-log",
			payload: map[string]interface{}{"anything": true, "purpose": "marketing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := engine.Validate(context.Background(), tt.topic, signedMessage(tt.payload))

			var got []string
			for _, v := range verdict.Violations {
				got = append(got, v.RuleID)
			}
			assert.ElementsMatch(t, tt.rules, got)
			assert.Equal(t, len(tt.rules) == 0, verdict.Compliant)
		})
	}
}

func TestValidateRuleErrorFailsClosed(t *testing.T) {
	sink := audit.NewMemorySink()
	engine := NewEngine(sink, logger.NopLogger())
	require.NoError(t, engine.Register(failingRule{baseRule: baseRule{id: "broken", severity: audit.SeverityLow}}))
	require.NoError(t, engine.Register(failingRule{baseRule: baseRule{id: "panicky", severity: audit.SeverityLow}, panic: true}))

	verdict := engine.Validate(context.Background(), "payments", signedMessage(nil))

	assert.False(t, verdict.Compliant)
	require.Len(t, verdict.Violations, 2)
	for _, v := range verdict.Violations {
		assert.Equal(t, audit.SeverityHigh, v.Severity)
	}
	assert.Equal(t, "broken", verdict.Violations[0].RuleID)
	assert.Equal(t, "panicky", verdict.Violations[1].RuleID)
	assert.Len(t, sink.AllEntries(), 1)
}

func TestRegisterDuplicateRule(t *testing.T) {
	engine := NewEngine(audit.NewMemorySink(), logger.NopLogger())
	require.NoError(t, engine.Register(NewIntegrityRule()))

	err := engine.Register(NewIntegrityRule())
	assert.True(t, apperrors.IsValidation(err))
	assert.Len(t, engine.Rules(), 1)
}

func TestRetentionWarning(t *testing.T) {
	engine, sink := newTestEngine(t, config.ComplianceConfig{
		RetentionPolicies: []config.RetentionPolicyConfig{
			{Category: "transaction", RetentionPeriod: time.Hour, Topics: []string{"payments"}},
		},
	})

	msg := signedMessage(map[string]interface{}{"amount": 1})
	msg.Envelope.Timestamp = fixedNow.Add(-2 * time.Hour)

	verdict := engine.Validate(context.Background(), "payments", msg)
	assert.True(t, verdict.Compliant)
	require.Len(t, verdict.Warnings, 1)
	assert.Contains(t, verdict.Warnings[0], "transaction")

	other := engine.Validate(context.Background(), "ledger", msg)
	assert.Empty(t, other.Warnings)

	entries := sink.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].WarningCount)
}

func TestExpressionRules(t *testing.T) {
	engine, _ := newTestEngine(t, config.ComplianceConfig{
		ExpressionRules: []config.ExpressionRuleConfig{
			{
				ID:          "aml-amount-ceiling",
				Regulation:  "AML",
				Description: "single payments above the ceiling need review",
				Severity:    "high",
				Expression:  `!has(payload.amount) || double(payload.amount) <= 10000.0`,
			},
		},
	})

	verdict := engine.Validate(context.Background(), "payments", signedMessage(map[string]interface{}{"amount": 50000}))
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "aml-amount-ceiling", verdict.Violations[0].RuleID)
	assert.Equal(t, audit.SeverityHigh, verdict.Violations[0].Severity)

	verdict = engine.Validate(context.Background(), "payments", signedMessage(map[string]interface{}{"amount": 5}))
	assert.True(t, verdict.Compliant)
}

func TestExpressionRuleConfigErrors(t *testing.T) {
	sink := audit.NewMemorySink()

	_, err := NewEngineFromConfig(config.ComplianceConfig{
		ExpressionRules: []config.ExpressionRuleConfig{{ID: "bad", Severity: "HIGH", Expression: "payload."}},
	}, sink, logger.NopLogger())
	assert.Error(t, err)

	_, err = NewEngineFromConfig(config.ComplianceConfig{
		ExpressionRules: []config.ExpressionRuleConfig{{ID: "sev", Severity: "URGENT", Expression: "true"}},
	}, sink, logger.NopLogger())
	assert.Error(t, err)
}

func TestViolationError(t *testing.T) {
	verdict := Verdict{
		AuditID: "audit-1",
		Violations: []Violation{
			{RuleID: "a", Severity: audit.SeverityMedium},
			{RuleID: "b", Severity: audit.SeverityCritical},
		},
	}
	err := NewViolationError("payments", "msg-1", verdict)

	assert.True(t, apperrors.IsCompliance(err))
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, audit.SeverityCritical, err.HighestSeverity())
	assert.Contains(t, err.Error(), "audit-1")

	var ve *ViolationError
	require.True(t, errors.As(error(err), &ve))
	assert.Len(t, ve.Violations, 2)
}
