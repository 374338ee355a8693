package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/mailsync/mailsync/pkg/engine"
)

// Engine compiles Rego policies and evaluates them against diffs.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy holds the prepared deny and warn queries of one module.
type compiledPolicy struct {
	policy *Policy
	pkg    string
	deny   rego.PreparedEvalQuery
	warn   rego.PreparedEvalQuery
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	ctx := context.Background()
	for _, p := range GetBuiltinPolicies() {
		if err := e.AddPolicy(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(e.policies)).
		Msg("Built-in policies loaded")

	return e, nil
}

// AddPolicy compiles a policy and adds it, replacing any policy of the same name.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	cp, err := compile(ctx, p)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.Name] = cp

	e.logger.Debug().
		Str("policy", p.Name).
		Str("package", cp.pkg).
		Msg("Policy compiled successfully")
	return nil
}

// LoadPolicies loads and compiles every .rego file under paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for _, p := range policies {
		if err := e.AddPolicy(ctx, p); err != nil {
			return fmt.Errorf("failed to compile policy %s (%s): %w", p.Name, p.Source, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")
	return nil
}

// Evaluate runs the deny and warn rules of every enabled policy against the
// diff. Any evaluation error fails the whole check.
func (e *Engine) Evaluate(ctx context.Context, diff *engine.DiffResult, pctx Context) (*Result, error) {
	start := time.Now()

	input, err := toRegoInput(NewInput(diff, pctx))
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedPolicies: []string{}}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		denials, err := evalRule(ctx, cp.deny, input, cp.policy.Name, SeverityError)
		if err != nil {
			return nil, fmt.Errorf("evaluating deny rules of policy %s: %w", name, err)
		}
		warnings, err := evalRule(ctx, cp.warn, input, cp.policy.Name, SeverityWarning)
		if err != nil {
			return nil, fmt.Errorf("evaluating warn rules of policy %s: %w", name, err)
		}

		result.Denials = append(result.Denials, denials...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	result.Allowed = len(result.Denials) == 0
	result.Duration = time.Since(start)

	e.logger.Debug().
		Int("changes", len(diff.Changes)).
		Int("denials", len(result.Denials)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Diff policy evaluation completed")

	return result, nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// sortedNames must be called with e.mu held.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}

	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	pkg := module.Package.Path.String()

	prepare := func(rule string) (rego.PreparedEvalQuery, error) {
		return rego.New(
			rego.Query(pkg+"."+rule),
			rego.ParsedModule(module),
		).PrepareForEval(ctx)
	}

	deny, err := prepare("deny")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare deny query: %w", err)
	}
	warn, err := prepare("warn")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare warn query: %w", err)
	}

	policy := p
	return &compiledPolicy{policy: &policy, pkg: pkg, deny: deny, warn: warn}, nil
}

// toRegoInput converts the input to plain JSON values once per evaluation.
func toRegoInput(in Input) (any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding policy input: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("encoding policy input: %w", err)
	}
	return generic, nil
}

func evalRule(ctx context.Context, q rego.PreparedEvalQuery, input any, policy string, sev Severity) ([]Violation, error) {
	results, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var out []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			set, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, item := range set {
				out = append(out, newViolation(policy, sev, item))
			}
		}
	}
	return out, nil
}

// newViolation accepts a plain message or an object with message and resource.
func newViolation(policy string, sev Severity, item interface{}) Violation {
	v := Violation{Policy: policy, Severity: sev}

	switch val := item.(type) {
	case string:
		v.Message = val
	case map[string]interface{}:
		if msg, ok := val["message"].(string); ok {
			v.Message = msg
		}
		if res, ok := val["resource"].(string); ok {
			v.Resource = res
		}
	default:
		v.Message = fmt.Sprintf("%v", item)
	}
	return v
}
