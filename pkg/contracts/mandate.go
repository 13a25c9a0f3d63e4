// Package contracts defines the shared data contracts of the PayGuard
// kernel: mandate chains, spending policies, policy decisions, ledger
// entries and the settlement result returned to callers.
package contracts

import (
	"encoding/json"
	"time"
)

// StageType identifies a mandate stage within the authorization chain.
type StageType string

const (
	StageIntent  StageType = "INTENT"
	StageCart    StageType = "CART"
	StagePayment StageType = "PAYMENT"
)

// KeyAlgorithm tags the signature algorithm a mandate stage was signed with.
type KeyAlgorithm string

const (
	AlgEd25519   KeyAlgorithm = "ed25519"
	AlgECDSAP256 KeyAlgorithm = "ecdsa-p256"
)

// Stage is a single signed assertion in a mandate chain.
//
// The signature covers the JCS-canonical form of the stage with the
// Signature field cleared; StageHash in pkg/mandate computes the same
// canonical digest for chain linkage.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Stage struct {
	ID            string          `json:"id"`
	Type          StageType       `json:"type"`
	SchemaVersion string          `json:"schema_version"`
	Issuer        string          `json:"issuer"`
	Subject       string          `json:"subject"` // paying wallet
	Domain        string          `json:"domain"`
	Nonce         string          `json:"nonce"`
	IssuedAt      time.Time       `json:"issued_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	PriorHash     string          `json:"prior_hash,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Algorithm     KeyAlgorithm    `json:"algorithm"`
	KeyID         string          `json:"key_id"`
	Signature     string          `json:"signature,omitempty"` // hex
	// Raw holds the original compact JWS when the stage arrived as a
	// signed token; signature verification then runs against the JWS
	// signing input instead of the canonical stage bytes.
	Raw string `json:"raw,omitempty"`
}

// MandateChain is the ordered Intent → Cart → Payment triple. A chain is
// immutable once constructed; it is accepted or rejected, never edited.
type MandateChain struct {
	Intent  *Stage `json:"intent"`
	Cart    *Stage `json:"cart"`
	Payment *Stage `json:"payment"`
}

// Stages returns the chain in verification order.
func (c *MandateChain) Stages() []*Stage {
	return []*Stage{c.Intent, c.Cart, c.Payment}
}

// PaymentDetails is the typed view of a payment stage payload after
// schema validation.
type PaymentDetails struct {
	Amount      int64  `json:"amount"` // minor units
	Currency    string `json:"currency"`
	Merchant    string `json:"merchant"`
	Scope       string `json:"scope"`
	WalletRef   string `json:"wallet_ref,omitempty"`
	Description string `json:"description,omitempty"`
}

// VerifiedChain is the output of successful mandate verification. It is
// the only form of chain the policy evaluator and orchestrator accept.
type VerifiedChain struct {
	Chain      *MandateChain  `json:"chain"`
	AgentID    string         `json:"agent_id"` // intent issuer
	Domain     string         `json:"domain"`
	Payment    PaymentDetails `json:"payment"`
	VerifiedAt time.Time      `json:"verified_at"`
}
