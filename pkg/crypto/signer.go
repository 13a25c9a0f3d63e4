// Package crypto provides the signature primitives mandate stages are
// built on: Ed25519 and ECDSA P-256 signers, algorithm-dispatched
// verification, and HKDF-based key version derivation for rotation.
package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// Signer signs canonical mandate bytes under one key version.
type Signer interface {
	Sign(data []byte) (string, error) // hex-encoded signature
	Algorithm() contracts.KeyAlgorithm
	PublicKey() []byte
	KeyID() string
}

// Ed25519Signer signs with an Ed25519 private key.
type Ed25519Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
}

// NewEd25519Signer generates a fresh Ed25519 keypair.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub, keyID: keyID}, nil
}

// NewEd25519SignerFromSeed builds a signer from a 32-byte seed.
func NewEd25519SignerFromSeed(seed []byte, keyID string) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size: %d", len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{
		priv:  priv,
		pub:   priv.Public().(ed25519.PublicKey),
		keyID: keyID,
	}, nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.priv, data)), nil
}

func (s *Ed25519Signer) Algorithm() contracts.KeyAlgorithm { return contracts.AlgEd25519 }
func (s *Ed25519Signer) PublicKey() []byte                 { return s.pub }
func (s *Ed25519Signer) KeyID() string                     { return s.keyID }

// Seed exposes the private seed for HKDF key-version derivation.
func (s *Ed25519Signer) Seed() []byte { return s.priv.Seed() }

// Ed25519PrivateKey exposes the underlying key for JWT signing paths.
func (s *Ed25519Signer) Ed25519PrivateKey() ed25519.PrivateKey { return s.priv }

// ECDSASigner signs with an ECDSA P-256 key. Signatures are ASN.1 DER,
// the message is pre-hashed with SHA-256.
type ECDSASigner struct {
	priv  *ecdsa.PrivateKey
	keyID string
}

// NewECDSASigner generates a fresh P-256 keypair.
func NewECDSASigner(keyID string) (*ECDSASigner, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &ECDSASigner{priv: priv, keyID: keyID}, nil
}

func (s *ECDSASigner) Sign(data []byte) (string, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, s.priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("ecdsa sign failed: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

func (s *ECDSASigner) Algorithm() contracts.KeyAlgorithm { return contracts.AlgECDSAP256 }

// PublicKey returns the uncompressed SEC1 point encoding.
func (s *ECDSASigner) PublicKey() []byte {
	return elliptic.Marshal(elliptic.P256(), s.priv.PublicKey.X, s.priv.PublicKey.Y)
}

func (s *ECDSASigner) KeyID() string { return s.keyID }

// ECDSAPrivateKey exposes the underlying key for JWT signing paths.
func (s *ECDSASigner) ECDSAPrivateKey() *ecdsa.PrivateKey { return s.priv }
