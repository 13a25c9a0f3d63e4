package contracts

import "time"

// Agent is a named principal authorized to initiate payments. Identity is
// immutable once issued; key rotation creates a new key version via the
// key directory, never a mutation here.
type Agent struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Domain    string       `json:"domain"`
	Algorithm KeyAlgorithm `json:"algorithm"`
	KeyID     string       `json:"key_id"` // currently active key version
	CreatedAt time.Time    `json:"created_at"`
}

// MerchantRuleMode selects how the merchant list on a policy is applied.
// Allowlist and denylist modes are mutually exclusive.
type MerchantRuleMode string

const (
	MerchantAllowlist MerchantRuleMode = "ALLOWLIST"
	MerchantDenylist  MerchantRuleMode = "DENYLIST"
)

// Window identifies a rolling spend window, computed as contiguous
// non-overlapping buckets anchored to UTC.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// WindowLimit caps cumulative confirmed spend within one window.
type WindowLimit struct {
	Window   Window `json:"window"`
	Cap      int64  `json:"cap"` // minor units
	Currency string `json:"currency"`
}

// SpendingPolicy constrains what a single agent may spend. Owned by
// exactly one agent; replaced atomically through a policy update, and
// every update is itself ledgered.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type SpendingPolicy struct {
	AgentID         string           `json:"agent_id"`
	Version         int              `json:"version"`
	Currency        string           `json:"currency"`
	LimitPerTx      int64            `json:"limit_per_tx"` // minor units
	ReviewThreshold int64            `json:"review_threshold,omitempty"`
	WindowLimits    []WindowLimit    `json:"window_limits"`
	MerchantMode    MerchantRuleMode `json:"merchant_mode"`
	Merchants       []string         `json:"merchants"`
	AllowedScopes   []string         `json:"allowed_scopes"`
	CustomRule      string           `json:"custom_rule,omitempty"` // CEL expression
	UpdatedAt       time.Time        `json:"updated_at"`
}

// ScopeAllowed reports whether scope is in the policy's permitted set.
func (p *SpendingPolicy) ScopeAllowed(scope string) bool {
	for _, s := range p.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// MerchantAllowed applies the merchant rule in the configured mode.
func (p *SpendingPolicy) MerchantAllowed(merchant string) bool {
	listed := false
	for _, m := range p.Merchants {
		if m == merchant {
			listed = true
			break
		}
	}
	if p.MerchantMode == MerchantDenylist {
		return !listed
	}
	return listed
}

// WindowCap returns the cap for a window, or 0 and false when the policy
// does not constrain that window.
func (p *SpendingPolicy) WindowCap(w Window) (int64, bool) {
	for _, wl := range p.WindowLimits {
		if wl.Window == w {
			return wl.Cap, true
		}
	}
	return 0, false
}
