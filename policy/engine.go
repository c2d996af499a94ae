package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision is the policy verdict for one previewed command.
type Decision struct {
	Decision string // allow, require_approval, block
	Risk     string // low, medium, high
	Reason   string
}

// Engine is the OPA risk-classification engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.command_policy.result"),
		rego.Module("command_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate classifies a command. Input carries keys: action, params, user_id.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (*Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The default rule should always match; treat a silent policy as
		// the safe floor.
		return &Decision{Decision: "require_approval", Risk: "high", Reason: "no policy verdict"}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("policy returned unexpected type %T", results[0].Expressions[0].Value)
	}

	d := &Decision{}
	if v, ok := obj["decision"].(string); ok {
		d.Decision = v
	}
	if v, ok := obj["risk"].(string); ok {
		d.Risk = v
	}
	if v, ok := obj["reason"].(string); ok {
		d.Reason = v
	}
	if d.Decision == "" || d.Risk == "" {
		return nil, fmt.Errorf("policy verdict missing decision or risk: %v", obj)
	}
	return d, nil
}

// DefaultPolicy is the default risk policy content.
const DefaultPolicy = `
package command_policy

import rego.v1

default result := {"decision": "allow", "risk": "low", "reason": "readonly default"}

result := {"decision": "block", "risk": "high", "reason": "destructive action is not permitted"} if {
	input.action in {"host.wipe", "cluster.delete"}
}

result := {"decision": "require_approval", "risk": "high", "reason": "mutates live infrastructure"} if {
	input.action in {"host.restart", "k8s.apply", "cfg.write"}
}

result := {"decision": "allow", "risk": "medium", "reason": "bounded service mutation"} if {
	input.action in {"svc.restart", "cfg.render"}
}
`
