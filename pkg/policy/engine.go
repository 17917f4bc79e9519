package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/openfroyo/deployengine/pkg/engine"
	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// Engine evaluates Rego policies against the chart units of a deployment.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   *telemetry.Logger
}

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine holding the built-in policies.
func NewEngine(logger *telemetry.Logger) (*Engine, error) {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.NewComponentLogger("policy-engine"),
	}

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}
	e.logger.Debugf("%d built-in policies loaded", len(builtins))

	return e, nil
}

// EvaluateUnits evaluates every enabled policy against every unit. The
// deployment is allowed when no violation has error or critical severity.
func (e *Engine) EvaluateUnits(ctx context.Context, units []*engine.Unit) (*Result, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedAt: start}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		for _, unit := range units {
			violations, err := e.evaluatePolicy(ctx, cp, unit)
			if err != nil {
				return nil, engine.NewPermanentError(
					fmt.Sprintf("policy %s failed on %s", name, unit.Name), err,
				).WithCode(ErrCodeEvaluationFailed).WithUnit(unit.Name)
			}
			for _, v := range violations {
				if v.Severity.Blocking() {
					result.Allowed = false
					result.Violations = append(result.Violations, v)
				} else {
					result.Warnings = append(result.Warnings, v)
				}
			}
		}
	}
	result.Duration = time.Since(start)

	e.logger.WithFields(map[string]interface{}{
		"units":      len(units),
		"violations": len(result.Violations),
		"warnings":   len(result.Warnings),
		"duration":   result.Duration.String(),
	}).Debug("Unit policy evaluation completed")

	return result, nil
}

// LoadPolicies loads the policy files found under dir on top of the
// built-in policies.
func (e *Engine) LoadPolicies(ctx context.Context, dir string) error {
	policies, err := NewLoader(e.logger).LoadDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.ReplacePolicies(ctx, policies)
}

// Watch keeps the loaded policies in sync with the files under dir until
// ctx is done.
func (e *Engine) Watch(ctx context.Context, dir string) error {
	return NewLoader(e.logger).Watch(ctx, dir, func(policies []Policy) error {
		return e.ReplacePolicies(ctx, policies)
	})
}

// ReplacePolicies swaps the loaded policies for the given ones. Built-in
// policies are kept. Nothing changes when a policy fails to compile.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	staged := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		cp, err := compile(ctx, &p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		staged[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name := range staged {
		if existing, ok := e.policies[name]; ok && existing.policy.Builtin {
			return fmt.Errorf("policy %s shadows a built-in policy", name)
		}
	}
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range staged {
		e.policies[name] = cp
	}

	e.logger.Infof("%d policies loaded", len(staged))
	return nil
}

// evaluatePolicy runs the deny query of a policy with the unit as input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, unit *engine.Unit) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(NewInput(unit)))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, unit))
		}
	}
	return violations, nil
}

// createViolation creates a Violation from a deny set member.
func createViolation(policy *Policy, result interface{}, unit *engine.Unit) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Unit:     unit.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if rem, ok := v["remediation"].(string); ok {
			violation.Remediation = rem
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compile parses a policy and prepares the query of its deny set.
func compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name+".rego", policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Query(module.Package.Path.String()+".deny"),
		rego.ParsedModule(module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// compileAndStorePolicy compiles a policy and stores it.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	cp, err := compile(ctx, policy)
	if err != nil {
		return err
	}
	e.policies[policy.Name] = cp
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, engine.NewNotFoundError(fmt.Sprintf("policy not found: %s", name), nil)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
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
		return engine.NewNotFoundError(fmt.Sprintf("policy not found: %s", name), nil)
	}

	cp.policy.Enabled = enabled
	e.logger.WithField("policy", name).Infof("Policy enabled=%t", enabled)

	return nil
}
