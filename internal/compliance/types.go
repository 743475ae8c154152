// Package compliance evaluates messages against registered regulatory rules,
// answers data-subject requests and summarises the audit trail into reports.
package compliance

import (
	"context"
	"fmt"
	"strings"

	"securebus/internal/audit"
	apperrors "securebus/pkg/errors"
	"securebus/pkg/models"
)

// Message is what rules see: the envelope plus the facts about its wire form
// that some rules depend on.
type Message struct {
	Envelope          *models.MessageEnvelope
	Encrypted         bool
	Signature         string
	SignatureVerified bool
}

// RuleResult is a single rule's outcome. Reason is only meaningful when the
// rule failed.
type RuleResult struct {
	Compliant bool
	Reason    string
}

// Rule is stateless with respect to individual messages. Severity is fixed per
// rule.
type Rule interface {
	ID() string
	Regulation() string
	Description() string
	Severity() audit.Severity
	Evaluate(ctx context.Context, topic string, msg Message) (RuleResult, error)
}

type Violation struct {
	RuleID      string         `json:"ruleId"`
	Regulation  string         `json:"regulation"`
	Description string         `json:"description"`
	Severity    audit.Severity `json:"severity"`
	Reason      string         `json:"reason,omitempty"`
}

// Verdict is computed once per validation and is immutable afterwards.
type Verdict struct {
	Compliant  bool        `json:"compliant"`
	Violations []Violation `json:"violations"`
	Warnings   []string    `json:"warnings"`
	AuditID    string      `json:"auditId"`
}

// ViolationError carries the full violation list of a blocking verdict.
type ViolationError struct {
	Topic      string
	MessageID  string
	AuditID    string
	Violations []Violation
}

func NewViolationError(topic, messageID string, verdict Verdict) *ViolationError {
	return &ViolationError{
		Topic:      topic,
		MessageID:  messageID,
		AuditID:    verdict.AuditID,
		Violations: verdict.Violations,
	}
}

func (e *ViolationError) Error() string {
	ids := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		ids = append(ids, v.RuleID)
	}
	return fmt.Sprintf("compliance violation on topic %s (audit %s): %s", e.Topic, e.AuditID, strings.Join(ids, ", "))
}

func (e *ViolationError) Unwrap() error {
	return apperrors.ErrComplianceViolation.
		WithDetail("topic", e.Topic).
		WithDetail("auditId", e.AuditID)
}

// HighestSeverity returns the most severe violation level, or empty if none.
func (e *ViolationError) HighestSeverity() audit.Severity {
	return highestSeverity(e.Violations)
}

var severityRank = map[audit.Severity]int{
	audit.SeverityLow:      1,
	audit.SeverityMedium:   2,
	audit.SeverityHigh:     3,
	audit.SeverityCritical: 4,
}

func highestSeverity(violations []Violation) audit.Severity {
	var top audit.Severity
	for _, v := range violations {
		if severityRank[v.Severity] > severityRank[top] {
			top = v.Severity
		}
	}
	return top
}

// ParseSeverity accepts the four severity names case-insensitively.
func ParseSeverity(s string) (audit.Severity, error) {
	sev := audit.Severity(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; !ok {
		return "", apperrors.ErrValidation.WithMessage(fmt.Sprintf("unknown severity %q", s))
	}
	return sev, nil
}
