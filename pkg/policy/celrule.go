package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// Custom policy rules are CEL expressions over the payment attributes.
// They extend the fixed checks without a policy-engine dependency in the
// kernel; evaluation is fail-closed.
//
// Example: `amount <= 2500 || merchant == "acme-supplies"`.

type ruleCache struct {
	mu       sync.Mutex
	env      *cel.Env
	programs map[string]cel.Program // agentID@version -> compiled rule
}

func newRuleCache() *ruleCache {
	return &ruleCache{programs: make(map[string]cel.Program)}
}

func (c *ruleCache) environment() (*cel.Env, error) {
	if c.env != nil {
		return c.env, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.IntType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("scope", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	c.env = env
	return env, nil
}

func (c *ruleCache) program(policy *contracts.SpendingPolicy) (cel.Program, error) {
	key := fmt.Sprintf("%s@%d", policy.AgentID, policy.Version)
	if prg, ok := c.programs[key]; ok {
		return prg, nil
	}

	env, err := c.environment()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(policy.CustomRule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile custom rule: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("custom rule must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("plan custom rule: %w", err)
	}
	c.programs[key] = prg
	return prg, nil
}

// eval runs the policy's custom rule against a payment. Any compile or
// runtime error is surfaced so the caller can deny.
func (c *ruleCache) eval(policy *contracts.SpendingPolicy, payment *contracts.PaymentDetails) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prg, err := c.program(policy)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"amount":   payment.Amount,
		"currency": payment.Currency,
		"merchant": payment.Merchant,
		"scope":    payment.Scope,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate custom rule: %w", err)
	}
	verdict, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("custom rule returned %T, want bool", out.Value())
	}
	return verdict, nil
}
