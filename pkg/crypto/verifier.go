package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// VerifySignature checks a hex signature over data against a public key,
// dispatching on the declared algorithm. Unknown algorithms are rejected,
// never skipped.
func VerifySignature(alg contracts.KeyAlgorithm, pubKey []byte, data []byte, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}

	switch alg {
	case contracts.AlgEd25519:
		if len(pubKey) != ed25519.PublicKeySize {
			return false, fmt.Errorf("invalid ed25519 public key size: %d", len(pubKey))
		}
		return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil

	case contracts.AlgECDSAP256:
		x, y := elliptic.Unmarshal(elliptic.P256(), pubKey)
		if x == nil {
			return false, fmt.Errorf("invalid P-256 public key encoding")
		}
		pk := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		digest := sha256.Sum256(data)
		return ecdsa.VerifyASN1(pk, digest[:], sig), nil

	default:
		return false, fmt.Errorf("unsupported algorithm: %s", alg)
	}
}

// ParsePublicKey decodes raw public key bytes into the stdlib key type
// for the given algorithm (ed25519.PublicKey or *ecdsa.PublicKey).
func ParsePublicKey(alg contracts.KeyAlgorithm, pubKey []byte) (any, error) {
	switch alg {
	case contracts.AlgEd25519:
		if len(pubKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid ed25519 public key size: %d", len(pubKey))
		}
		return ed25519.PublicKey(pubKey), nil
	case contracts.AlgECDSAP256:
		x, y := elliptic.Unmarshal(elliptic.P256(), pubKey)
		if x == nil {
			return nil, fmt.Errorf("invalid P-256 public key encoding")
		}
		return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", alg)
	}
}
