package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// Evaluator checks payments against spending policies. Window accounting
// is serialized per agent, not globally: each agent has an account that
// tracks provisional reservations alongside the confirmed spend in the
// store.
type Evaluator struct {
	store  SpendStore
	clock  func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	accounts map[string]*agentAccount

	rules *ruleCache
}

// agentAccount holds in-flight reservations for one agent. All limit
// math for the agent happens under its lock.
type agentAccount struct {
	mu       sync.Mutex
	reserved int64 // provisionally reserved, not yet confirmed
}

// Reservation is a provisional claim on window capacity. The caller
// confirms it after successful execution or releases it when any later
// stage fails; either way exactly once.
type Reservation struct {
	evaluator *Evaluator
	account   *agentAccount
	agentID   string
	amount    int64
	currency  string
	done      bool
	mu        sync.Mutex
}

// NewEvaluator creates an evaluator over a spend store.
func NewEvaluator(store SpendStore) *Evaluator {
	return &Evaluator{
		store:    store,
		clock:    time.Now,
		logger:   slog.Default().With("component", "policy.evaluator"),
		accounts: make(map[string]*agentAccount),
		rules:    newRuleCache(),
	}
}

// WithClock overrides the clock for testing.
func (e *Evaluator) WithClock(clock func() time.Time) *Evaluator {
	e.clock = clock
	return e
}

func (e *Evaluator) account(agentID string) *agentAccount {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.accounts[agentID]
	if !ok {
		a = &agentAccount{}
		e.accounts[agentID] = a
	}
	return a
}

func denied(reason string, version int, at time.Time) *contracts.PolicyDecision {
	return &contracts.PolicyDecision{
		Verdict:       contracts.VerdictDenied,
		ReasonCode:    reason,
		PolicyVersion: version,
		EvaluatedAt:   at,
	}
}

// Evaluate runs the policy checks in order; the first failing check
// determines the denial reason. On APPROVED or CHALLENGE the returned
// reservation holds the payment's window capacity until confirmed or
// released.
func (e *Evaluator) Evaluate(ctx context.Context, policy *contracts.SpendingPolicy, payment *contracts.PaymentDetails) (*contracts.PolicyDecision, *Reservation, error) {
	now := e.clock().UTC()

	if policy == nil {
		return denied(contracts.ReasonNoPolicy, 0, now), nil, nil
	}
	if payment.Currency != policy.Currency {
		return denied(contracts.ReasonCurrencyMismatch, policy.Version, now), nil, nil
	}

	// 1. Per-transaction limit.
	if payment.Amount > policy.LimitPerTx {
		return denied(contracts.ReasonExceedsPerTxLimit, policy.Version, now), nil, nil
	}

	// 2. Window limits, under the agent lock so concurrent requests
	// cannot each observe "under limit" (reserve-then-confirm).
	account := e.account(policy.AgentID)
	account.mu.Lock()
	for _, w := range []contracts.Window{contracts.WindowDaily, contracts.WindowWeekly, contracts.WindowMonthly} {
		limit, ok := policy.WindowCap(w)
		if !ok {
			continue
		}
		confirmed, err := e.store.Sum(ctx, policy.AgentID, w, now)
		if err != nil {
			account.mu.Unlock()
			return nil, nil, fmt.Errorf("spend history for %s: %w", policy.AgentID, err)
		}
		if confirmed+account.reserved+payment.Amount > limit {
			account.mu.Unlock()
			return denied(denialReason(w), policy.Version, now), nil, nil
		}
	}
	account.reserved += payment.Amount
	account.mu.Unlock()

	res := &Reservation{
		evaluator: e,
		account:   account,
		agentID:   policy.AgentID,
		amount:    payment.Amount,
		currency:  payment.Currency,
	}

	// 3. Merchant rule.
	if !policy.MerchantAllowed(payment.Merchant) {
		res.Release()
		return denied(contracts.ReasonMerchantRule, policy.Version, now), nil, nil
	}

	// 4. Scope.
	if !policy.ScopeAllowed(payment.Scope) {
		res.Release()
		return denied(contracts.ReasonScopeNotPermitted, policy.Version, now), nil, nil
	}

	// 5. Custom CEL rule, fail-closed.
	if policy.CustomRule != "" {
		ok, err := e.rules.eval(policy, payment)
		if err != nil {
			e.logger.WarnContext(ctx, "custom rule evaluation failed, denying",
				"agent_id", policy.AgentID, "error", err)
			ok = false
		}
		if !ok {
			res.Release()
			return denied(contracts.ReasonCustomRule, policy.Version, now), nil, nil
		}
	}

	// 6. Soft review threshold. Not an approval: the caller must
	// resolve the challenge before proceeding. The reservation stays
	// held so a resolved challenge cannot race past the limits.
	if policy.ReviewThreshold > 0 && payment.Amount > policy.ReviewThreshold {
		return &contracts.PolicyDecision{
			Verdict:       contracts.VerdictChallenge,
			ReasonCode:    contracts.ReasonReviewThreshold,
			PolicyVersion: policy.Version,
			EvaluatedAt:   now,
		}, res, nil
	}

	return &contracts.PolicyDecision{
		Verdict:       contracts.VerdictApproved,
		PolicyVersion: policy.Version,
		EvaluatedAt:   now,
	}, res, nil
}

// Confirm records the reserved amount as confirmed spend. Idempotent
// with Release: the first call wins.
func (r *Reservation) Confirm(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true

	at := r.evaluator.clock().UTC()
	if err := r.evaluator.store.Record(ctx, r.agentID, r.amount, r.currency, at); err != nil {
		// The reservation stays consumed; the store owns durability.
		return fmt.Errorf("confirm reservation: %w", err)
	}
	r.account.mu.Lock()
	r.account.reserved -= r.amount
	r.account.mu.Unlock()
	return nil
}

// Release returns the reserved capacity without recording spend.
func (r *Reservation) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	r.account.mu.Lock()
	r.account.reserved -= r.amount
	r.account.mu.Unlock()
}
