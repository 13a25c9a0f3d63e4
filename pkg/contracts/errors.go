package contracts

import "fmt"

// VerificationCode classifies mandate verification failures. All of them
// are terminal: retrying a cryptographically invalid or replayed mandate
// cannot succeed.
type VerificationCode string

const (
	VerifyMalformed        VerificationCode = "malformed"
	VerifyExpired          VerificationCode = "expired"
	VerifyDomainMismatch   VerificationCode = "domain_mismatch"
	VerifyChainBroken      VerificationCode = "chain_broken"
	VerifyInvalidSignature VerificationCode = "invalid_signature"
	VerifyReplayDetected   VerificationCode = "replay_detected"
)

// VerificationError reports why a mandate chain was rejected.
type VerificationError struct {
	Code  VerificationCode
	Stage StageType
	Cause error
}

func (e *VerificationError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("mandate verification failed: %s (stage %s)", e.Code, e.Stage)
	}
	return fmt.Sprintf("mandate verification failed: %s", e.Code)
}

func (e *VerificationError) Unwrap() error { return e.Cause }

// PolicyError reports a terminal policy denial for the given request.
// The caller must submit a new mandate to retry.
type PolicyError struct {
	ReasonCode string
	Verdict    Verdict
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy %s: %s", e.Verdict, e.ReasonCode)
}

// ComplianceError reports a compliance provider failure. Fails closed:
// the request is denied, never approved, on provider error or timeout.
type ComplianceError struct {
	Provider string
	Cause    error
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("compliance check failed (provider %s): %v", e.Provider, e.Cause)
}

func (e *ComplianceError) Unwrap() error { return e.Cause }

// ExecutionError reports an execution collaborator failure. The caller
// may retry with a fresh idempotency key; the original attempt is still
// ledgered as failed.
type ExecutionError struct {
	PaymentID string
	Cause     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for payment %s: %v", e.PaymentID, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// LedgerError is fatal to a request: if the terminal entry cannot be
// durably written the orchestrator must not report success, even when
// execution itself succeeded.
type LedgerError struct {
	Op    string
	Cause error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Cause)
}

func (e *LedgerError) Unwrap() error { return e.Cause }
