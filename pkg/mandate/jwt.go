package mandate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/veridianlabs/payguard/pkg/contracts"
	pgcrypto "github.com/veridianlabs/payguard/pkg/crypto"
	"github.com/veridianlabs/payguard/pkg/keys"
)

// Mandate stages may arrive as compact JWS tokens instead of native JSON
// stages. Intake here only parses the claims into a typed Stage; the
// signature is verified later by the Verifier against the key directory,
// so parsing a token grants nothing.

// stageClaims maps JWT claims onto stage fields. Registered claims carry
// identity and freshness; the rest ride as private claims.
type stageClaims struct {
	jwt.RegisteredClaims
	Stage         contracts.StageType `json:"stage"`
	SchemaVersion string              `json:"schema_version"`
	Domain        string              `json:"domain"`
	Nonce         string              `json:"nonce"`
	PriorHash     string              `json:"prior_hash,omitempty"`
	Payload       json.RawMessage     `json:"payload"`
}

func algorithmFor(method string) (contracts.KeyAlgorithm, error) {
	switch method {
	case jwt.SigningMethodEdDSA.Alg():
		return contracts.AlgEd25519, nil
	case jwt.SigningMethodES256.Alg():
		return contracts.AlgECDSAP256, nil
	default:
		return "", fmt.Errorf("unsupported JWS algorithm %q", method)
	}
}

// ParseStageToken converts a compact JWS into a Stage without verifying
// the signature.
func ParseStageToken(token string) (*contracts.Stage, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{
		jwt.SigningMethodEdDSA.Alg(),
		jwt.SigningMethodES256.Alg(),
	}))

	var claims stageClaims
	tok, parts, err := parser.ParseUnverified(token, &claims)
	if err != nil {
		return nil, fmt.Errorf("parse mandate token: %w", err)
	}
	if len(parts) != 3 || parts[2] == "" {
		return nil, fmt.Errorf("parse mandate token: missing signature segment")
	}

	alg, err := algorithmFor(tok.Method.Alg())
	if err != nil {
		return nil, err
	}
	kid, _ := tok.Header["kid"].(string)

	var issuedAt, expiresAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return &contracts.Stage{
		ID:            claims.ID,
		Type:          claims.Stage,
		SchemaVersion: claims.SchemaVersion,
		Issuer:        claims.Issuer,
		Subject:       claims.Subject,
		Domain:        claims.Domain,
		Nonce:         claims.Nonce,
		IssuedAt:      issuedAt,
		ExpiresAt:     expiresAt,
		PriorHash:     claims.PriorHash,
		Payload:       claims.Payload,
		Algorithm:     alg,
		KeyID:         kid,
		Signature:     parts[2],
		Raw:           token,
	}, nil
}

// ParseChainTokens builds a chain from three compact JWS tokens in
// Intent, Cart, Payment order.
func ParseChainTokens(intentTok, cartTok, paymentTok string) (*contracts.MandateChain, error) {
	intent, err := ParseStageToken(intentTok)
	if err != nil {
		return nil, err
	}
	cart, err := ParseStageToken(cartTok)
	if err != nil {
		return nil, err
	}
	payment, err := ParseStageToken(paymentTok)
	if err != nil {
		return nil, err
	}
	return &contracts.MandateChain{Intent: intent, Cart: cart, Payment: payment}, nil
}

// verifyStageJWS checks the JWS signature of a token-borne stage against
// the resolved issuer key.
func verifyStageJWS(s *contracts.Stage, key *keys.PublicKey) error {
	pub, err := pgcrypto.ParsePublicKey(key.Algorithm, key.Bytes)
	if err != nil {
		return err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg(), jwt.SigningMethodES256.Alg()}),
		// Expiration is enforced by the verifier's ordered checks with
		// its own clock; do not double-validate here.
		jwt.WithoutClaimsValidation(),
	)
	_, err = parser.Parse(s.Raw, func(tok *jwt.Token) (any, error) {
		alg, err := algorithmFor(tok.Method.Alg())
		if err != nil {
			return nil, err
		}
		if alg != key.Algorithm {
			return nil, fmt.Errorf("token algorithm %s does not match key %s", alg, key.Algorithm)
		}
		return pub, nil
	})
	if err != nil {
		return fmt.Errorf("jws verification failed: %w", err)
	}
	return nil
}

// NewStageToken signs a stage as a compact JWS. Issuer-side convenience
// used by clients and tests.
func NewStageToken(s *contracts.Stage, signingKey any, alg contracts.KeyAlgorithm, keyID string) (string, error) {
	var method jwt.SigningMethod
	switch alg {
	case contracts.AlgEd25519:
		method = jwt.SigningMethodEdDSA
	case contracts.AlgECDSAP256:
		method = jwt.SigningMethodES256
	default:
		return "", fmt.Errorf("unsupported algorithm %s", alg)
	}

	claims := stageClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Issuer:    s.Issuer,
			Subject:   s.Subject,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
		Stage:         s.Type,
		SchemaVersion: s.SchemaVersion,
		Domain:        s.Domain,
		Nonce:         s.Nonce,
		PriorHash:     s.PriorHash,
		Payload:       s.Payload,
	}

	tok := jwt.NewWithClaims(method, claims)
	tok.Header["kid"] = keyID
	signed, err := tok.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("sign mandate token: %w", err)
	}
	return signed, nil
}
