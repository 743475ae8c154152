package compliance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"securebus/internal/audit"
	"securebus/internal/config"
	"securebus/internal/logger"
	apperrors "securebus/pkg/errors"
	"securebus/pkg/metrics"
	"securebus/pkg/tracing"
)

// RetentionPolicy bounds how old a message of a category may be while still
// being processed. Exceeding it yields a warning, never a violation.
type RetentionPolicy struct {
	Category        string
	RetentionPeriod time.Duration
	Topics          map[string]struct{}
}

func NewRetentionPolicy(category string, period time.Duration, topics ...string) RetentionPolicy {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	return RetentionPolicy{Category: category, RetentionPeriod: period, Topics: set}
}

type Engine struct {
	mu        sync.RWMutex
	rules     []Rule
	retention []RetentionPolicy

	sink     audit.Sink
	reader   audit.Reader
	subjects SubjectStore
	masker   func(map[string]interface{}) map[string]interface{}
	logger   logger.Logger
	now      func() time.Time
}

type Option func(*Engine)

// WithReader enables GenerateReport.
func WithReader(reader audit.Reader) Option {
	return func(e *Engine) { e.reader = reader }
}

func WithSubjectStore(store SubjectStore) Option {
	return func(e *Engine) { e.subjects = store }
}

// WithSubjectMasker transforms payloads before they reach the subject
// store. Cardholder fields are dropped regardless.
func WithSubjectMasker(mask func(map[string]interface{}) map[string]interface{}) Option {
	return func(e *Engine) { e.masker = mask }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine with no rules registered.
func NewEngine(sink audit.Sink, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		sink:     sink,
		subjects: NewMemorySubjectStore(),
		logger:   log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineFromConfig registers the built-in rules, the configured expression
// rules and the retention policies.
func NewEngineFromConfig(cfg config.ComplianceConfig, sink audit.Sink, log logger.Logger, opts ...Option) (*Engine, error) {
	e := NewEngine(sink, log, opts...)

	policies := make(map[string]TopicPolicy, len(cfg.TopicPolicies))
	for topic, p := range cfg.TopicPolicies {
		policies[topic] = TopicPolicy{AllowedPurposes: p.AllowedPurposes, AllowedFields: p.AllowedFields}
	}

	expressionRules, err := ExpressionRules(cfg.ExpressionRules)
	if err != nil {
		return nil, err
	}

	for _, rule := range append(DefaultRules(policies), expressionRules...) {
		if err := e.Register(rule); err != nil {
			return nil, err
		}
	}

	for _, rp := range cfg.RetentionPolicies {
		e.AddRetentionPolicy(NewRetentionPolicy(rp.Category, rp.RetentionPeriod, rp.Topics...))
	}

	log.Infow("Compliance engine initialized",
		"rules", len(e.rules),
		"retention_policies", len(e.retention),
	)

	return e, nil
}

// Register adds a rule. Rule ids must be unique.
func (e *Engine) Register(rule Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.rules {
		if existing.ID() == rule.ID() {
			return apperrors.ErrValidation.WithMessage(fmt.Sprintf("rule %s already registered", rule.ID()))
		}
	}
	e.rules = append(e.rules, rule)
	return nil
}

func (e *Engine) AddRetentionPolicy(policy RetentionPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retention = append(e.retention, policy)
}

func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Validate evaluates msg against every registered rule and emits exactly one
// audit entry. A rule that errors counts as a HIGH violation.
func (e *Engine) Validate(ctx context.Context, topic string, msg Message) Verdict {
	ctx, span := tracing.StartSpan(ctx, "compliance.validate")
	defer span.End()

	e.mu.RLock()
	rules := e.rules
	retention := e.retention
	e.mu.RUnlock()

	verdict := Verdict{
		Violations: []Violation{},
		Warnings:   []string{},
	}

	for _, rule := range rules {
		result, err := evaluateRule(ctx, rule, topic, msg)
		if err != nil {
			e.logger.WarnwCtx(ctx, "Compliance rule evaluation failed",
				"rule_id", rule.ID(),
				"topic", topic,
				"error", err,
			)
			verdict.Violations = append(verdict.Violations, Violation{
				RuleID:      rule.ID(),
				Regulation:  rule.Regulation(),
				Description: rule.Description(),
				Severity:    audit.SeverityHigh,
				Reason:      "rule evaluation failed: " + err.Error(),
			})
			continue
		}
		if !result.Compliant {
			verdict.Violations = append(verdict.Violations, Violation{
				RuleID:      rule.ID(),
				Regulation:  rule.Regulation(),
				Description: rule.Description(),
				Severity:    rule.Severity(),
				Reason:      result.Reason,
			})
		}
	}

	verdict.Warnings = append(verdict.Warnings, e.retentionWarnings(topic, msg, retention)...)
	verdict.Compliant = len(verdict.Violations) == 0

	entry := audit.Entry{
		ID:             newID(),
		Timestamp:      e.now().UTC(),
		EventType:      audit.EventTypeComplianceValidation,
		Topic:          topic,
		ViolationCount: len(verdict.Violations),
		WarningCount:   len(verdict.Warnings),
		Result:         audit.ResultCompliant,
	}
	if msg.Envelope != nil {
		entry.MessageID = msg.Envelope.MessageID
	}
	if !verdict.Compliant {
		entry.Result = audit.ResultNonCompliant
	}
	verdict.AuditID = entry.ID

	e.sink.RecordAudit(ctx, entry)

	metrics.IncComplianceVerdict(topic, verdict.Compliant)
	for _, v := range verdict.Violations {
		metrics.IncComplianceViolation(v.RuleID, string(v.Severity))
	}

	span.SetAttributes(
		attribute.String("compliance.topic", topic),
		attribute.Bool("compliance.compliant", verdict.Compliant),
		attribute.Int("compliance.violations", len(verdict.Violations)),
	)

	if !verdict.Compliant {
		e.logger.WarnwCtx(ctx, "Message failed compliance validation",
			"topic", topic,
			"message_id", entry.MessageID,
			"audit_id", entry.ID,
			"violations", len(verdict.Violations),
		)
	}

	return verdict
}

func (e *Engine) retentionWarnings(topic string, msg Message, policies []RetentionPolicy) []string {
	if msg.Envelope == nil || msg.Envelope.Timestamp.IsZero() {
		return nil
	}

	age := e.now().Sub(msg.Envelope.Timestamp)
	var warnings []string
	for _, p := range policies {
		if _, ok := p.Topics[topic]; !ok {
			continue
		}
		if p.RetentionPeriod > 0 && age > p.RetentionPeriod {
			warnings = append(warnings, fmt.Sprintf(
				"message age %s exceeds %s retention period of %s",
				age.Truncate(time.Second), p.Category, p.RetentionPeriod,
			))
		}
	}
	return warnings
}

func evaluateRule(ctx context.Context, rule Rule, topic string, msg Message) (result RuleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
		}
	}()
	return rule.Evaluate(ctx, topic, msg)
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
