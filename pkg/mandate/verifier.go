package mandate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/currency"

	"github.com/veridianlabs/payguard/pkg/contracts"
	pgcrypto "github.com/veridianlabs/payguard/pkg/crypto"
	"github.com/veridianlabs/payguard/pkg/keys"
	"github.com/veridianlabs/payguard/pkg/replaycache"
)

// Verifier validates mandate chains. Checks run in a fixed order and
// short-circuit on first failure: cheap structural and freshness checks
// come before signature verification, and the replay reservation runs
// last so a chain failing earlier checks never consumes a nonce slot.
type Verifier struct {
	dir     keys.Directory
	cache   replaycache.Cache
	schemas *SchemaRegistry
	clock   func() time.Time
	logger  *slog.Logger
}

// NewVerifier constructs a Verifier over a key directory and replay cache.
func NewVerifier(dir keys.Directory, cache replaycache.Cache) (*Verifier, error) {
	schemas, err := NewSchemaRegistry()
	if err != nil {
		return nil, err
	}
	return &Verifier{
		dir:     dir,
		cache:   cache,
		schemas: schemas,
		clock:   time.Now,
		logger:  slog.Default().With("component", "mandate.verifier"),
	}, nil
}

// WithClock overrides the clock for testing.
func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	v.clock = clock
	return v
}

// Verify runs the full check sequence over a chain. Other than the
// terminal replay-cache reservation it has no side effects.
func (v *Verifier) Verify(ctx context.Context, chain *contracts.MandateChain) (*contracts.VerifiedChain, error) {
	now := v.clock().UTC()

	// 1. Structural completeness.
	if err := v.checkStructure(chain); err != nil {
		return nil, err
	}

	// 2. Expiration, every stage.
	for _, s := range chain.Stages() {
		if now.After(s.ExpiresAt) {
			return nil, &contracts.VerificationError{Code: contracts.VerifyExpired, Stage: s.Type}
		}
	}

	// 3. Domain binding.
	domain := chain.Intent.Domain
	for _, s := range chain.Stages() {
		if s.Domain != domain || s.Subject != chain.Intent.Subject {
			return nil, &contracts.VerificationError{Code: contracts.VerifyDomainMismatch, Stage: s.Type}
		}
	}

	// 4. Hash linkage.
	if err := v.checkLinkage(chain); err != nil {
		return nil, err
	}

	// 5. Signatures against issuer keys.
	for _, s := range chain.Stages() {
		if err := v.checkSignature(ctx, s); err != nil {
			return nil, err
		}
	}

	payment, err := parsePaymentDetails(chain.Payment)
	if err != nil {
		return nil, &contracts.VerificationError{Code: contracts.VerifyMalformed, Stage: contracts.StagePayment, Cause: err}
	}

	// 6. Replay reservation, last.
	ttl := TTL(chain.Payment, now)
	won, err := v.cache.Reserve(ctx, replayKey(chain.Payment), ttl)
	if err != nil {
		// Fail closed: an unreachable cache cannot prove uniqueness.
		return nil, &contracts.VerificationError{Code: contracts.VerifyReplayDetected, Stage: contracts.StagePayment, Cause: err}
	}
	if !won {
		v.logger.WarnContext(ctx, "replay detected",
			"payment_id", chain.Payment.ID, "nonce", chain.Payment.Nonce)
		return nil, &contracts.VerificationError{Code: contracts.VerifyReplayDetected, Stage: contracts.StagePayment}
	}

	return &contracts.VerifiedChain{
		Chain:      chain,
		AgentID:    chain.Intent.Issuer,
		Domain:     domain,
		Payment:    *payment,
		VerifiedAt: now,
	}, nil
}

// replayKey namespaces nonces by domain so distinct domains cannot
// contest each other's slots.
func replayKey(payment *contracts.Stage) string {
	return payment.Domain + "/" + payment.Nonce
}

func (v *Verifier) checkStructure(chain *contracts.MandateChain) error {
	if chain == nil || chain.Intent == nil || chain.Cart == nil || chain.Payment == nil {
		return &contracts.VerificationError{Code: contracts.VerifyMalformed}
	}
	expected := map[*contracts.Stage]contracts.StageType{
		chain.Intent:  contracts.StageIntent,
		chain.Cart:    contracts.StageCart,
		chain.Payment: contracts.StagePayment,
	}
	for _, s := range chain.Stages() {
		if s.Type != expected[s] {
			return &contracts.VerificationError{
				Code: contracts.VerifyMalformed, Stage: s.Type,
				Cause: fmt.Errorf("stage %s out of position", s.ID),
			}
		}
		if s.ID == "" || s.Issuer == "" || s.Subject == "" || s.Domain == "" || s.Nonce == "" ||
			s.IssuedAt.IsZero() || s.ExpiresAt.IsZero() || s.Signature == "" {
			return &contracts.VerificationError{
				Code: contracts.VerifyMalformed, Stage: s.Type,
				Cause: fmt.Errorf("stage %s has empty required fields", s.ID),
			}
		}
		if err := v.schemas.Validate(s); err != nil {
			return &contracts.VerificationError{Code: contracts.VerifyMalformed, Stage: s.Type, Cause: err}
		}
	}
	return nil
}

func (v *Verifier) checkLinkage(chain *contracts.MandateChain) error {
	intentHash, err := StageHash(chain.Intent)
	if err != nil {
		return &contracts.VerificationError{Code: contracts.VerifyMalformed, Stage: contracts.StageIntent, Cause: err}
	}
	if chain.Cart.PriorHash != intentHash {
		return &contracts.VerificationError{Code: contracts.VerifyChainBroken, Stage: contracts.StageCart}
	}
	cartHash, err := StageHash(chain.Cart)
	if err != nil {
		return &contracts.VerificationError{Code: contracts.VerifyMalformed, Stage: contracts.StageCart, Cause: err}
	}
	if chain.Payment.PriorHash != cartHash {
		return &contracts.VerificationError{Code: contracts.VerifyChainBroken, Stage: contracts.StagePayment}
	}
	return nil
}

func (v *Verifier) checkSignature(ctx context.Context, s *contracts.Stage) error {
	key, err := v.dir.Resolve(ctx, s.Issuer, s.KeyID)
	if err != nil {
		return &contracts.VerificationError{Code: contracts.VerifyInvalidSignature, Stage: s.Type, Cause: err}
	}
	if key.Algorithm != s.Algorithm {
		return &contracts.VerificationError{
			Code: contracts.VerifyInvalidSignature, Stage: s.Type,
			Cause: fmt.Errorf("declared algorithm %s does not match key %s", s.Algorithm, key.Algorithm),
		}
	}

	if s.Raw != "" {
		if err := verifyStageJWS(s, key); err != nil {
			return &contracts.VerificationError{Code: contracts.VerifyInvalidSignature, Stage: s.Type, Cause: err}
		}
		return nil
	}

	data, err := SigningBytes(s)
	if err != nil {
		return &contracts.VerificationError{Code: contracts.VerifyMalformed, Stage: s.Type, Cause: err}
	}
	ok, err := pgcrypto.VerifySignature(s.Algorithm, key.Bytes, data, s.Signature)
	if err != nil || !ok {
		return &contracts.VerificationError{Code: contracts.VerifyInvalidSignature, Stage: s.Type, Cause: err}
	}
	return nil
}

func parsePaymentDetails(payment *contracts.Stage) (*contracts.PaymentDetails, error) {
	var details contracts.PaymentDetails
	if err := json.Unmarshal(payment.Payload, &details); err != nil {
		return nil, fmt.Errorf("payment payload: %w", err)
	}
	if _, err := currency.ParseISO(details.Currency); err != nil {
		return nil, fmt.Errorf("payment currency %q: %w", details.Currency, err)
	}
	return &details, nil
}
