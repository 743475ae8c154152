package compliance

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"securebus/internal/audit"
)

// Rule identifiers of the built-in rules.
const (
	RuleDataMinimization         = "gdpr-data-minimization"
	RulePurposeLimitation        = "gdpr-purpose-limitation"
	RuleEncryptionInTransmission = "pci-encryption-in-transmission"
	RuleDataIntegrity            = "sox-data-integrity"
)

// PurposeField is the payload field a producer declares its processing
// purpose in. It is always allowed by the minimization rule.
const PurposeField = "purpose"

// TopicPolicy lists what a topic may carry. An empty list means unrestricted.
type TopicPolicy struct {
	AllowedPurposes []string
	AllowedFields   []string
}

type baseRule struct {
	id          string
	regulation  string
	description string
	severity    audit.Severity
}

func (r baseRule) ID() string               { return r.id }
func (r baseRule) Regulation() string       { return r.regulation }
func (r baseRule) Description() string      { return r.description }
func (r baseRule) Severity() audit.Severity { return r.severity }

// MinimizationRule rejects payload fields outside the topic's allow-list.
type MinimizationRule struct {
	baseRule
	policies map[string]TopicPolicy
}

func NewMinimizationRule(policies map[string]TopicPolicy) *MinimizationRule {
	return &MinimizationRule{
		baseRule: baseRule{
			id:          RuleDataMinimization,
			regulation:  "GDPR",
			description: "payload must only carry fields required by the topic purpose",
			severity:    audit.SeverityMedium,
		},
		policies: policies,
	}
}

func (r *MinimizationRule) Evaluate(_ context.Context, topic string, msg Message) (RuleResult, error) {
	policy, ok := r.policies[topic]
	if !ok || len(policy.AllowedFields) == 0 {
		return RuleResult{Compliant: true}, nil
	}
	if msg.Envelope == nil {
		return RuleResult{}, fmt.Errorf("message has no envelope")
	}

	allowed := make(map[string]struct{}, len(policy.AllowedFields)+1)
	for _, f := range policy.AllowedFields {
		allowed[f] = struct{}{}
	}
	allowed[PurposeField] = struct{}{}

	var extra []string
	for field := range msg.Envelope.Payload {
		if _, ok := allowed[field]; !ok {
			extra = append(extra, field)
		}
	}
	if len(extra) == 0 {
		return RuleResult{Compliant: true}, nil
	}

	sort.Strings(extra)
	return RuleResult{Reason: "fields not allowed on topic: " + strings.Join(extra, ", ")}, nil
}

// PurposeRule rejects a declared purpose the topic does not allow.
type PurposeRule struct {
	baseRule
	policies map[string]TopicPolicy
}

func NewPurposeRule(policies map[string]TopicPolicy) *PurposeRule {
	return &PurposeRule{
		baseRule: baseRule{
			id:          RulePurposeLimitation,
			regulation:  "GDPR",
			description: "declared processing purpose must be allowed for the topic",
			severity:    audit.SeverityHigh,
		},
		policies: policies,
	}
}

func (r *PurposeRule) Evaluate(_ context.Context, topic string, msg Message) (RuleResult, error) {
	if msg.Envelope == nil {
		return RuleResult{}, fmt.Errorf("message has no envelope")
	}

	declared, ok := msg.Envelope.Payload[PurposeField]
	if !ok {
		return RuleResult{Compliant: true}, nil
	}

	purpose, ok := declared.(string)
	if !ok {
		return RuleResult{Reason: fmt.Sprintf("purpose must be a string, got %T", declared)}, nil
	}

	policy, ok := r.policies[topic]
	if !ok || len(policy.AllowedPurposes) == 0 {
		return RuleResult{Compliant: true}, nil
	}

	for _, p := range policy.AllowedPurposes {
		if strings.EqualFold(p, purpose) {
			return RuleResult{Compliant: true}, nil
		}
	}

	return RuleResult{Reason: fmt.Sprintf("purpose %q not allowed on topic", purpose)}, nil
}

// cardholderFields are matched case-insensitively at any depth.
var cardholderFields = map[string]struct{}{
	"cardnumber":     {},
	"card_number":    {},
	"pan":            {},
	"cvv":            {},
	"cvc":            {},
	"expiry":         {},
	"expirydate":     {},
	"expirationdate": {},
}

// EncryptionRule flags cardholder data that would leave unencrypted.
type EncryptionRule struct {
	baseRule
}

func NewEncryptionRule() *EncryptionRule {
	return &EncryptionRule{
		baseRule: baseRule{
			id:          RuleEncryptionInTransmission,
			regulation:  "PCI-DSS",
			description: "cardholder data must be encrypted in transmission",
			severity:    audit.SeverityCritical,
		},
	}
}

func (r *EncryptionRule) Evaluate(_ context.Context, _ string, msg Message) (RuleResult, error) {
	if msg.Envelope == nil {
		return RuleResult{}, fmt.Errorf("message has no envelope")
	}
	if msg.Encrypted {
		return RuleResult{Compliant: true}, nil
	}

	found := findCardholderFields(msg.Envelope.Payload, "", nil)
	if len(found) == 0 {
		return RuleResult{Compliant: true}, nil
	}

	sort.Strings(found)
	return RuleResult{Reason: "unencrypted cardholder data: " + strings.Join(found, ", ")}, nil
}

func findCardholderFields(v interface{}, path string, found []string) []string {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if _, ok := cardholderFields[strings.ToLower(k)]; ok {
				found = append(found, childPath)
			}
			found = findCardholderFields(child, childPath, found)
		}
	case []interface{}:
		for i, child := range t {
			found = findCardholderFields(child, fmt.Sprintf("%s[%d]", path, i), found)
		}
	}
	return found
}

// stripCardholderFields returns a copy of payload without cardholder fields.
func stripCardholderFields(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if _, ok := cardholderFields[strings.ToLower(k)]; ok {
			continue
		}
		out[k] = stripCardholderValue(v)
	}
	return out
}

func stripCardholderValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return stripCardholderFields(t)
	case []interface{}:
		items := make([]interface{}, len(t))
		for i, item := range t {
			items[i] = stripCardholderValue(item)
		}
		return items
	default:
		return v
	}
}

// IntegrityRule requires a signature that was verified.
type IntegrityRule struct {
	baseRule
}

func NewIntegrityRule() *IntegrityRule {
	return &IntegrityRule{
		baseRule: baseRule{
			id:          RuleDataIntegrity,
			regulation:  "SOX",
			description: "message must carry a verifiable signature",
			severity:    audit.SeverityHigh,
		},
	}
}

func (r *IntegrityRule) Evaluate(_ context.Context, _ string, msg Message) (RuleResult, error) {
	if msg.Signature == "" {
		return RuleResult{Reason: "message is not signed"}, nil
	}
	if !msg.SignatureVerified {
		return RuleResult{Reason: "signature could not be verified"}, nil
	}
	return RuleResult{Compliant: true}, nil
}

// DefaultRules returns the built-in rule set.
func DefaultRules(policies map[string]TopicPolicy) []Rule {
	return []Rule{
		NewMinimizationRule(policies),
		NewPurposeRule(policies),
		NewEncryptionRule(),
		NewIntegrityRule(),
	}
}
