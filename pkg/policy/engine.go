package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/yunaamelia/debian-vps-workstation/pkg/telemetry"
)

// Gate compiles policies once and evaluates plans against them.
type Gate struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	log      *telemetry.Logger
}

// compiledPolicy pairs a policy with its prepared deny query.
type compiledPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// NewGate creates a gate with the built-in policies compiled.
func NewGate(log *telemetry.Logger) (*Gate, error) {
	if log == nil {
		log, _ = telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	}

	g := &Gate{
		policies: make(map[string]*compiledPolicy),
		log:      log.NewComponentLogger("policy"),
	}
	if err := g.compileAll(context.Background(), BuiltinPolicies()); err != nil {
		return nil, fmt.Errorf("failed to compile built-in policies: %w", err)
	}
	return g, nil
}

// AddPolicies compiles and registers additional policies, replacing any
// existing policy with the same name.
func (g *Gate) AddPolicies(ctx context.Context, policies []Policy) error {
	return g.compileAll(ctx, policies)
}

// ReplacePolicies drops every non-builtin policy and registers the given
// set. Used by watch mode after a policy file changes.
func (g *Gate) ReplacePolicies(ctx context.Context, policies []Policy) error {
	g.mu.Lock()
	g.policies = make(map[string]*compiledPolicy)
	g.mu.Unlock()

	if err := g.compileAll(ctx, BuiltinPolicies()); err != nil {
		return err
	}
	return g.compileAll(ctx, policies)
}

// Policies returns the registered policies sorted by name.
func (g *Gate) Policies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Policy, 0, len(g.policies))
	for _, cp := range g.policies {
		out = append(out, cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EvaluatePlan runs every enabled policy against the plan and aggregates
// the findings. A policy that fails to evaluate is reported as a violation
// of its own severity rather than silently skipped.
func (g *Gate) EvaluatePlan(ctx context.Context, input *PlanInput) (*Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start := time.Now()
	result := &Result{Allowed: true, EvaluatedAt: start}

	for _, cp := range g.policies {
		if !cp.policy.Enabled {
			continue
		}

		violations, err := g.evaluate(ctx, cp, input)
		if err != nil {
			g.log.WithError(err).Errorf("policy %s evaluation failed", cp.policy.Name)
			violations = []Violation{{
				Policy:   cp.policy.Name,
				Message:  fmt.Sprintf("policy evaluation failed: %v", err),
				Severity: cp.policy.Severity,
			}}
		}
		result.Violations = append(result.Violations, violations...)
	}

	for _, v := range result.Violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			result.Allowed = false
			break
		}
	}

	sort.Slice(result.Violations, func(i, j int) bool {
		if result.Violations[i].Policy != result.Violations[j].Policy {
			return result.Violations[i].Policy < result.Violations[j].Policy
		}
		return result.Violations[i].Message < result.Violations[j].Message
	})

	g.log.Zerolog().Debug().
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("duration", time.Since(start)).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// evaluate runs one prepared deny query.
func (g *Gate) evaluate(ctx context.Context, cp *compiledPolicy, input *PlanInput) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, g.toViolation(cp.policy, d))
			}
		}
	}
	return violations, nil
}

// toViolation converts one deny result into a Violation, falling back to
// the policy's default severity.
func (g *Gate) toViolation(p Policy, result interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if mod, ok := r["module"].(string); ok {
			v.Module = mod
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// compileAll prepares the deny query of every policy.
func (g *Gate) compileAll(ctx context.Context, policies []Policy) error {
	for _, p := range policies {
		query := fmt.Sprintf("data.%s.deny", extractPackageName(p.Rego))
		r := rego.New(
			rego.Module(p.Name, p.Rego),
			rego.Query(query),
		)
		prepared, err := r.PrepareForEval(ctx)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}

		g.mu.Lock()
		g.policies[p.Name] = &compiledPolicy{policy: p, query: prepared}
		g.mu.Unlock()
	}
	return nil
}

// extractPackageName reads the package declaration from Rego source.
func extractPackageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "workstation.policies"
}
