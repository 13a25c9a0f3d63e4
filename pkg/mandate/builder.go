package mandate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/payguard/pkg/contracts"
	pgcrypto "github.com/veridianlabs/payguard/pkg/crypto"
)

// SchemaVersionV1 is the current stage schema version issued by this SDK.
const SchemaVersionV1 = "1.0.0"

// ChainBuilder assembles a linked, signed Intent → Cart → Payment chain.
// Issuer-side convenience; the kernel itself only ever verifies chains.
type ChainBuilder struct {
	domain   string
	subject  string
	validity time.Duration
	clock    func() time.Time
}

// NewChainBuilder creates a builder for one domain and paying wallet.
func NewChainBuilder(domain, subject string, validity time.Duration) *ChainBuilder {
	return &ChainBuilder{
		domain:   domain,
		subject:  subject,
		validity: validity,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (b *ChainBuilder) WithClock(clock func() time.Time) *ChainBuilder {
	b.clock = clock
	return b
}

func (b *ChainBuilder) newStage(t contracts.StageType, issuer string, payload any) (*contracts.Stage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s payload: %w", t, err)
	}
	now := b.clock().UTC()
	return &contracts.Stage{
		ID:            uuid.NewString(),
		Type:          t,
		SchemaVersion: SchemaVersionV1,
		Issuer:        issuer,
		Subject:       b.subject,
		Domain:        b.domain,
		Nonce:         uuid.NewString(),
		IssuedAt:      now,
		ExpiresAt:     now.Add(b.validity),
		Payload:       raw,
	}, nil
}

// Build creates the full chain, linking each stage to its predecessor
// and signing every stage with the corresponding issuer signer.
func (b *ChainBuilder) Build(
	intentIssuer string, intentSigner pgcrypto.Signer, intentPayload any,
	cartIssuer string, cartSigner pgcrypto.Signer, cartPayload any,
	paymentIssuer string, paymentSigner pgcrypto.Signer, paymentPayload any,
) (*contracts.MandateChain, error) {
	intent, err := b.newStage(contracts.StageIntent, intentIssuer, intentPayload)
	if err != nil {
		return nil, err
	}
	if err := Sign(intent, intentSigner); err != nil {
		return nil, err
	}

	cart, err := b.newStage(contracts.StageCart, cartIssuer, cartPayload)
	if err != nil {
		return nil, err
	}
	if err := Link(intent, cart); err != nil {
		return nil, err
	}
	if err := Sign(cart, cartSigner); err != nil {
		return nil, err
	}

	payment, err := b.newStage(contracts.StagePayment, paymentIssuer, paymentPayload)
	if err != nil {
		return nil, err
	}
	if err := Link(cart, payment); err != nil {
		return nil, err
	}
	if err := Sign(payment, paymentSigner); err != nil {
		return nil, err
	}

	return &contracts.MandateChain{Intent: intent, Cart: cart, Payment: payment}, nil
}
