package contracts

import "time"

// SettlementStatus is the terminal status recorded in a ledger entry.
type SettlementStatus string

const (
	StatusExecuted           SettlementStatus = "EXECUTED"
	StatusDeniedVerification SettlementStatus = "DENIED_VERIFICATION"
	StatusDeniedPolicy       SettlementStatus = "DENIED_POLICY"
	StatusChallenge          SettlementStatus = "CHALLENGE"
	StatusDeniedCompliance   SettlementStatus = "DENIED_COMPLIANCE"
	StatusExecutionFailed    SettlementStatus = "EXECUTION_FAILED"
	StatusCancelled          SettlementStatus = "CANCELLED"
	StatusError              SettlementStatus = "ERROR"
)

// Ledger entry types.
const (
	EntryTypeSettlement   = "settlement"
	EntryTypePolicyUpdate = "policy_update"
	EntryTypeCorrection   = "correction"
)

// LedgerEntryInput is the caller-supplied portion of a ledger entry.
// Sequence, hashes and timestamp are assigned by the ledger on append.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type LedgerEntryInput struct {
	EntryType        string            `json:"entry_type"`
	AgentID          string            `json:"agent_id"`
	ChainID          string            `json:"chain_id,omitempty"` // payment stage id
	Status           SettlementStatus  `json:"status"`
	ReasonCode       string            `json:"reason_code,omitempty"`
	Decision         *PolicyDecision   `json:"decision,omitempty"`
	Compliance       *ComplianceResult `json:"compliance,omitempty"`
	Execution        *ExecutionResult  `json:"execution,omitempty"`
	Amount           int64             `json:"amount,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	CorrectsEntryID  string            `json:"corrects_entry_id,omitempty"`
	PolicySnapshot   *SpendingPolicy   `json:"policy_snapshot,omitempty"`
	Detail           string            `json:"detail,omitempty"`
}

// LedgerEntry is an immutable, hash-chained record of one decision.
// EntryHash = SHA-256(JCS(fields) || PrevHash); entries are never
// rewritten, corrections are new entries referencing the original.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type LedgerEntry struct {
	Sequence  uint64    `json:"sequence"`
	EntryID   string    `json:"entry_id"`
	Timestamp time.Time `json:"timestamp"`
	LedgerEntryInput
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

// SettlementResult is returned synchronously to the caller once the
// terminal ledger entry exists.
type SettlementResult struct {
	LedgerEntryID string           `json:"ledger_entry_id"`
	Sequence      uint64           `json:"sequence"`
	Status        SettlementStatus `json:"status"`
	ReasonCode    string           `json:"reason_code,omitempty"`
	ExternalRef   string           `json:"external_ref,omitempty"`
}
