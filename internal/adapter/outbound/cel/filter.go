// Package cel provides a CEL-based policy filter evaluator. Filters are
// boolean predicates over a single policy (its type, organization,
// enablement, and untyped payload), used by the applies-to-user query to
// narrow the candidate policy set.
package cel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/keywarden/keywarden/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for filter expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single filter evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// maxCachedPrograms bounds the compiled-program cache.
const maxCachedPrograms = 256

// FilterEvaluator compiles and evaluates CEL filter expressions against
// policies. Compiled programs are cached by expression hash; the cache is
// bounded and safe for concurrent use.
type FilterEvaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[uint64]cel.Program
	order    []uint64 // FIFO eviction order
}

// newFilterEnvironment creates a CEL environment exposing one policy:
//   - type: the policy type ordinal (int)
//   - organization_id: the owning organization id (string)
//   - enabled: the policy's enabled flag (bool)
//   - data: the untyped policy payload (map)
func newFilterEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),
		cel.Variable("type", cel.IntType),
		cel.Variable("organization_id", cel.StringType),
		cel.Variable("enabled", cel.BoolType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// NewFilterEvaluator creates a FilterEvaluator with the policy filter
// environment.
func NewFilterEvaluator() (*FilterEvaluator, error) {
	env, err := newFilterEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create filter environment: %w", err)
	}
	return &FilterEvaluator{
		env:      env,
		programs: make(map[uint64]cel.Program),
	}, nil
}

// Compile parses and type-checks a filter expression, returning a compiled
// program. Results are cached by expression hash.
func (e *FilterEvaluator) Compile(expression string) (cel.Program, error) {
	key := xxhash.Sum64String(expression)

	e.mu.Lock()
	if prg, ok := e.programs[key]; ok {
		e.mu.Unlock()
		return prg, nil
	}
	e.mu.Unlock()

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	e.mu.Lock()
	if len(e.programs) >= maxCachedPrograms {
		oldest := e.order[0]
		e.order = e.order[1:]
		delete(e.programs, oldest)
	}
	if _, ok := e.programs[key]; !ok {
		e.programs[key] = prg
		e.order = append(e.order, key)
	}
	e.mu.Unlock()

	return prg, nil
}

// ValidateExpression checks that a filter expression is syntactically valid
// and within the safety limits (length, nesting depth).
func (e *FilterEvaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid filter expression: %w", err)
	}
	return nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// Evaluate runs a compiled filter program against one policy. Returns true
// if the expression evaluates to true. Evaluation is bounded by a timeout
// to prevent indefinite hangs.
func (e *FilterEvaluator) Evaluate(prg cel.Program, p policy.Policy) (bool, error) {
	data := p.Data
	if data == nil {
		data = map[string]any{}
	}
	activation := map[string]any{
		"type":            int64(p.Type),
		"organization_id": p.OrganizationID,
		"enabled":         p.Enabled,
		"data":            data,
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}

// FilterFunc compiles an expression into a policy predicate suitable for
// the applies-to-user query. Evaluation errors make the predicate false.
func (e *FilterEvaluator) FilterFunc(expression string) (func(policy.Policy) bool, error) {
	if err := e.ValidateExpression(expression); err != nil {
		return nil, err
	}
	prg, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return func(p policy.Policy) bool {
		ok, err := e.Evaluate(prg, p)
		return err == nil && ok
	}, nil
}
