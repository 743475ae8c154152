package cel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"securebus/pkg/models"
)

// Input is the message view exposed to compliance expressions.
type Input struct {
	MessageID string
	Source    string
	Topic     string
	EventType string
	UserID    string
	Timestamp time.Time
	Encrypted bool
	Payload   map[string]interface{}
}

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("messageId", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("topic", cel.StringType),
		cel.Variable("eventType", cel.StringType),
		cel.Variable("userId", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("encrypted", cel.BoolType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

// ValidateRuleExpression additionally requires a bool result.
func (e *Evaluator) ValidateRuleExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// CompileRule compiles a bool expression once for repeated evaluation.
func (e *Evaluator) CompileRule(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

func (e *Evaluator) Evaluate(ctx context.Context, program cel.Program, in Input) (bool, error) {
	vars := map[string]interface{}{
		"messageId": in.MessageID,
		"source":    in.Source,
		"topic":     in.Topic,
		"eventType": in.EventType,
		"userId":    in.UserID,
		"timestamp": in.Timestamp,
		"encrypted": in.Encrypted,
		"payload":   models.NormalizeNumbers(in.Payload),
	}

	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// EvaluateExpression compiles and evaluates in one step.
func (e *Evaluator) EvaluateExpression(ctx context.Context, expression string, in Input) (bool, error) {
	program, err := e.CompileRule(expression)
	if err != nil {
		return false, err
	}
	return e.Evaluate(ctx, program, in)
}
