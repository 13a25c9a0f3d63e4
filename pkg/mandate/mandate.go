// Package mandate implements the three-stage authorization chain
// (Intent → Cart → Payment) and its verification: structural schema
// checks, freshness, domain binding, hash linkage, signature validity
// and replay protection.
package mandate

import (
	"fmt"
	"time"

	"github.com/veridianlabs/payguard/pkg/canonicalize"
	"github.com/veridianlabs/payguard/pkg/contracts"
	pgcrypto "github.com/veridianlabs/payguard/pkg/crypto"
)

// signingView strips the fields that are produced by signing so the
// signature and the linkage hash cover identical canonical bytes.
func signingView(s *contracts.Stage) contracts.Stage {
	v := *s
	v.Signature = ""
	v.Raw = ""
	return v
}

// SigningBytes returns the JCS-canonical bytes a stage signature covers.
func SigningBytes(s *contracts.Stage) ([]byte, error) {
	view := signingView(s)
	b, err := canonicalize.JCS(&view)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", s.ID, err)
	}
	return b, nil
}

// StageHash computes the canonical digest of a stage. The successor
// stage's prior_hash must equal this value.
func StageHash(s *contracts.Stage) (string, error) {
	b, err := SigningBytes(s)
	if err != nil {
		return "", err
	}
	return canonicalize.HashBytes(b), nil
}

// Sign computes and attaches the signature for a stage using the given
// signer. The stage's algorithm and key id are set from the signer.
func Sign(s *contracts.Stage, signer pgcrypto.Signer) error {
	s.Algorithm = signer.Algorithm()
	s.KeyID = signer.KeyID()
	b, err := SigningBytes(s)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(b)
	if err != nil {
		return fmt.Errorf("stage %s: sign failed: %w", s.ID, err)
	}
	s.Signature = sig
	return nil
}

// Link sets the prior-hash of next to the hash of prev. Issuers call
// this while constructing a chain, before signing next.
func Link(prev, next *contracts.Stage) error {
	h, err := StageHash(prev)
	if err != nil {
		return err
	}
	next.PriorHash = h
	return nil
}

// TTL returns the remaining validity of the payment stage at now,
// used to bound the replay reservation.
func TTL(payment *contracts.Stage, now time.Time) time.Duration {
	return payment.ExpiresAt.Sub(now)
}
