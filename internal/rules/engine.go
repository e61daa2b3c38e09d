// Package rules provides the CEL-Go based engine for instance-defined fraud rules.
package rules

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/formflow/formflow/internal/domain"
)

// Engine compiles and evaluates custom fraud rules.
// Compiled programs are cached by expression text and shared across instances.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	programs   map[string]cel.Program
	maxWorkers int
}

// Input is the submission context exposed to rule expressions.
type Input struct {
	Email               string
	IP                  string
	UserAgent           string
	Fingerprint         string
	AccountNumber       string
	ElapsedSeconds      float64
	HoneypotFilled      bool
	MouseMoved          bool
	SubmissionsLastHour int
	SubmissionsLastDay  int
	Form                map[string]any
	Headers             map[string]string
}

// Result is the outcome of one rule.
type Result struct {
	Rule  domain.CustomFraudRule
	Score float64
	Err   error
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("email", cel.StringType),
		cel.Variable("email_domain", cel.StringType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("user_agent", cel.StringType),
		cel.Variable("fingerprint", cel.StringType),
		cel.Variable("account_number", cel.StringType),
		cel.Variable("elapsed_seconds", cel.DoubleType),
		cel.Variable("honeypot_filled", cel.BoolType),
		cel.Variable("mouse_moved", cel.BoolType),
		cel.Variable("submissions_last_hour", cel.IntType),
		cel.Variable("submissions_last_day", cel.IntType),
		cel.Variable("form", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		programs:   make(map[string]cel.Program),
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles a rule without caching it.
func (e *Engine) Validate(rule domain.CustomFraudRule) error {
	_, err := e.compile(rule)
	return err
}

// ValidateAll checks every rule and returns the first failure.
func (e *Engine) ValidateAll(rules []domain.CustomFraudRule) error {
	for _, r := range rules {
		if err := e.Validate(r); err != nil {
			return err
		}
	}
	return nil
}

// EvaluateAll evaluates the enabled rules in parallel.
// Results keep the order of the enabled rules in the input.
func (e *Engine) EvaluateAll(ctx context.Context, rules []domain.CustomFraudRule, input *Input) []Result {
	enabled := make([]domain.CustomFraudRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	if len(enabled) == 0 {
		return nil
	}

	activation := input.activation()

	results := make([]Result, len(enabled))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range enabled {
		wg.Add(1)
		go func(idx int, r domain.CustomFraudRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluate(ctx, r, activation)
		}(i, rule)
	}

	wg.Wait()

	return results
}

func (e *Engine) evaluate(ctx context.Context, rule domain.CustomFraudRule, activation map[string]any) Result {
	result := Result{Rule: rule}

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	program, err := e.program(rule)
	if err != nil {
		result.Err = err
		return result
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		result.Err = fmt.Errorf("rule %s: evaluation error: %w", rule.ID, err)
		return result
	}

	result.Score = toScore(out)
	return result
}

// program returns the cached program for a rule, compiling it on first use.
func (e *Engine) program(rule domain.CustomFraudRule) (cel.Program, error) {
	e.mu.RLock()
	p, ok := e.programs[rule.Expression]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := e.compile(rule)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[rule.Expression] = p
	e.mu.Unlock()
	return p, nil
}

// CachedCount returns the number of compiled programs held.
func (e *Engine) CachedCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

// Close drops all compiled programs.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = make(map[string]cel.Program)
	return nil
}

func (e *Engine) compile(rule domain.CustomFraudRule) (cel.Program, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", rule.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}
	return program, nil
}

func (in *Input) activation() map[string]any {
	form := in.Form
	if form == nil {
		form = map[string]any{}
	}
	headers := in.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	return map[string]any{
		"email":                 in.Email,
		"email_domain":          EmailDomain(in.Email),
		"ip":                    in.IP,
		"user_agent":            in.UserAgent,
		"fingerprint":           in.Fingerprint,
		"account_number":        in.AccountNumber,
		"elapsed_seconds":       in.ElapsedSeconds,
		"honeypot_filled":       in.HoneypotFilled,
		"mouse_moved":           in.MouseMoved,
		"submissions_last_hour": int64(in.SubmissionsLastHour),
		"submissions_last_day":  int64(in.SubmissionsLastDay),
		"form":                  form,
		"headers":               headers,
	}
}

// EmailDomain returns the lower-cased part after the last "@".
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
