package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const kdfSalt = "payguard-keyver-kdf"

// DeriveKeyVersion derives a deterministic child Ed25519 signer from a
// master seed using HKDF-SHA256, keyed by the version label. Rotation
// creates a new key version this way; the master seed never signs
// mandates directly.
func DeriveKeyVersion(masterSeed []byte, versionLabel string) (*Ed25519Signer, error) {
	if versionLabel == "" {
		return nil, fmt.Errorf("version label must not be empty")
	}
	if len(masterSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid master seed size: %d", len(masterSeed))
	}

	r := hkdf.New(sha256.New, masterSeed, []byte(kdfSalt), []byte(versionLabel))
	childSeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, childSeed); err != nil {
		return nil, fmt.Errorf("hkdf derivation failed: %w", err)
	}

	return NewEd25519SignerFromSeed(childSeed, versionLabel)
}
