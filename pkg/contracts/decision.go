package contracts

import "time"

// Verdict is the outcome class of a policy evaluation.
type Verdict string

const (
	VerdictApproved  Verdict = "APPROVED"
	VerdictDenied    Verdict = "DENIED"
	VerdictChallenge Verdict = "CHALLENGE"
)

// Policy denial / challenge reason codes. Machine-readable; never raw
// error text.
const (
	ReasonExceedsPerTxLimit   = "exceeds_per_tx_limit"
	ReasonExceedsDailyLimit   = "exceeds_daily_limit"
	ReasonExceedsWeeklyLimit  = "exceeds_weekly_limit"
	ReasonExceedsMonthlyLimit = "exceeds_monthly_limit"
	ReasonMerchantRule        = "merchant_rule"
	ReasonScopeNotPermitted   = "scope_not_permitted"
	ReasonCustomRule          = "custom_rule"
	ReasonReviewThreshold     = "review_threshold"
	ReasonNoPolicy            = "no_policy"
	ReasonCurrencyMismatch    = "currency_mismatch"
)

// PolicyDecision is the ephemeral output of evaluating a payment against
// a spending policy. It is persisted only through the ledger.
type PolicyDecision struct {
	Verdict       Verdict   `json:"verdict"`
	ReasonCode    string    `json:"reason_code,omitempty"`
	PolicyVersion int       `json:"policy_version"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// Approved reports whether the decision permits the payment to proceed.
func (d *PolicyDecision) Approved() bool {
	return d != nil && d.Verdict == VerdictApproved
}

// ComplianceResult is the outcome of the external compliance check.
type ComplianceResult struct {
	Approved bool   `json:"approved"`
	Provider string `json:"provider"`
	Rule     string `json:"rule,omitempty"`
}

// ExecutionStatus is the terminal status reported by the execution
// collaborator.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailure ExecutionStatus = "FAILURE"
)

// ExecutionResult is the outcome of an execution attempt. Receipt is
// opaque to the kernel; ExternalRef is the collaborator's durable handle.
type ExecutionResult struct {
	Status      ExecutionStatus `json:"status"`
	Receipt     []byte          `json:"receipt,omitempty"`
	ExternalRef string          `json:"external_ref,omitempty"`
}
