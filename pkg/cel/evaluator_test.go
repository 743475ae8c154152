package cel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid simple expression",
			expr:      `payload.status == "active"`,
			wantError: false,
		},
		{
			name:      "valid envelope field",
			expr:      `eventType == "payment.completed"`,
			wantError: false,
		},
		{
			name:      "invalid expression",
			expr:      `invalid syntax here!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `undefinedVar == "test"`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRuleExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	assert.NoError(t, eval.ValidateRuleExpression(`encrypted || topic != "pii"`))
	assert.Error(t, eval.ValidateRuleExpression(`source`))
	assert.Error(t, eval.ValidateRuleExpression(`source ==`))
}

func TestRuleExpressionExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range RuleExpressionExamples {
		t.Run(name, func(t *testing.T) {
			_, err := eval.CompileRule(expr)
			assert.NoError(t, err)
		})
	}
}

func TestEvaluate(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	base := Input{
		MessageID: "msg-1",
		Source:    "payments",
		Topic:     "payments",
		EventType: "payment.completed",
		Timestamp: time.Now(),
	}

	tests := []struct {
		name    string
		expr    string
		payload map[string]interface{}
		mutate  func(in *Input)
		want    bool
	}{
		{
			name:    "missing field passes",
			expr:    RuleExpressionExamples["no_ssn"],
			payload: map[string]interface{}{"amount": 10},
			want:    true,
		},
		{
			name:    "present field fails",
			expr:    RuleExpressionExamples["no_ssn"],
			payload: map[string]interface{}{"ssn": "123-45-6789"},
			want:    false,
		},
		{
			name:    "json number under ceiling",
			expr:    RuleExpressionExamples["amount_ceiling"],
			payload: map[string]interface{}{"amount": json.Number("99.50")},
			want:    true,
		},
		{
			name:    "json integer over ceiling",
			expr:    RuleExpressionExamples["amount_ceiling"],
			payload: map[string]interface{}{"amount": json.Number("2000000")},
			want:    false,
		},
		{
			name:    "nested map",
			expr:    RuleExpressionExamples["nested_country"],
			payload: map[string]interface{}{"address": map[string]interface{}{"country": "XX"}},
			want:    false,
		},
		{
			name:    "encrypted flag",
			expr:    RuleExpressionExamples["encrypted_identity"],
			payload: map[string]interface{}{},
			mutate: func(in *Input) {
				in.Topic = "identity-verification-data"
				in.Encrypted = true
			},
			want: true,
		},
		{
			name:    "user bound event without user",
			expr:    RuleExpressionExamples["user_bound_events"],
			payload: map[string]interface{}{},
			mutate: func(in *Input) {
				in.EventType = "user.login"
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			in.Payload = tt.payload
			if tt.mutate != nil {
				tt.mutate(&in)
			}

			got, err := eval.EvaluateExpression(context.Background(), tt.expr, in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateNilPayload(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	got, err := eval.EvaluateExpression(context.Background(), `size(payload) == 0`, Input{})
	require.NoError(t, err)
	assert.True(t, got)
}
