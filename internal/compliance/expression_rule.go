package compliance

import (
	"context"
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"securebus/internal/config"
	"securebus/pkg/cel"
)

// ExpressionRule is a configured rule whose CEL expression must hold for a
// message to be compliant. The expression is compiled once.
type ExpressionRule struct {
	baseRule
	expression string
	evaluator  *cel.Evaluator
	program    celgo.Program
}

func NewExpressionRule(evaluator *cel.Evaluator, cfg config.ExpressionRuleConfig) (*ExpressionRule, error) {
	severity, err := ParseSeverity(cfg.Severity)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", cfg.ID, err)
	}

	program, err := evaluator.CompileRule(cfg.Expression)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", cfg.ID, err)
	}

	return &ExpressionRule{
		baseRule: baseRule{
			id:          cfg.ID,
			regulation:  cfg.Regulation,
			description: cfg.Description,
			severity:    severity,
		},
		expression: cfg.Expression,
		evaluator:  evaluator,
		program:    program,
	}, nil
}

func (r *ExpressionRule) Evaluate(ctx context.Context, topic string, msg Message) (RuleResult, error) {
	if msg.Envelope == nil {
		return RuleResult{}, fmt.Errorf("message has no envelope")
	}

	env := msg.Envelope
	ok, err := r.evaluator.Evaluate(ctx, r.program, cel.Input{
		MessageID: env.MessageID,
		Source:    env.Source,
		Topic:     topic,
		EventType: env.EventType,
		UserID:    env.UserID,
		Timestamp: env.Timestamp,
		Encrypted: msg.Encrypted,
		Payload:   env.Payload,
	})
	if err != nil {
		return RuleResult{}, err
	}
	if !ok {
		return RuleResult{Reason: "expression not satisfied: " + r.expression}, nil
	}
	return RuleResult{Compliant: true}, nil
}

// ExpressionRules compiles every configured expression rule.
func ExpressionRules(cfgs []config.ExpressionRuleConfig) ([]Rule, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(cfgs))
	for _, c := range cfgs {
		rule, err := NewExpressionRule(evaluator, c)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

var _ Rule = (*ExpressionRule)(nil)
