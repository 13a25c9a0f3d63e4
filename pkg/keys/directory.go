// Package keys resolves issuer public keys at verification time. It is
// the kernel-side view of the wallet/key collaborator: the kernel never
// holds private keys for agents, only their published verification keys.
package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// ErrKeyNotFound is returned when no currently-valid key matches.
var ErrKeyNotFound = errors.New("key not found")

// PublicKey is a published verification key version for an agent.
type PublicKey struct {
	AgentID   string
	KeyID     string
	Algorithm contracts.KeyAlgorithm
	Bytes     []byte
}

// Directory resolves the issuer public key for an agent. Implementations
// must treat revoked keys as not found.
type Directory interface {
	Resolve(ctx context.Context, agentID, keyID string) (*PublicKey, error)
}

// Ring is an in-memory Directory with rotation and revocation. Rotation
// registers a new key version; it never mutates an existing one.
type Ring struct {
	mu      sync.RWMutex
	keys    map[string]map[string]*PublicKey // agentID -> keyID -> key
	revoked map[string]bool                  // agentID/keyID
}

// NewRing creates an empty key ring.
func NewRing() *Ring {
	return &Ring{
		keys:    make(map[string]map[string]*PublicKey),
		revoked: make(map[string]bool),
	}
}

// Register publishes a key version for an agent.
func (r *Ring) Register(k *PublicKey) error {
	if k.AgentID == "" || k.KeyID == "" {
		return fmt.Errorf("agent id and key id are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys[k.AgentID] == nil {
		r.keys[k.AgentID] = make(map[string]*PublicKey)
	}
	if _, exists := r.keys[k.AgentID][k.KeyID]; exists {
		return fmt.Errorf("key version %s already registered for agent %s", k.KeyID, k.AgentID)
	}
	r.keys[k.AgentID][k.KeyID] = k
	return nil
}

// Revoke invalidates a key version. Resolution of a revoked key fails
// with ErrKeyNotFound.
func (r *Ring) Revoke(agentID, keyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[agentID+"/"+keyID] = true
}

// Resolve returns the currently-valid key version for an agent.
func (r *Ring) Resolve(_ context.Context, agentID, keyID string) (*PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.revoked[agentID+"/"+keyID] {
		return nil, fmt.Errorf("agent %s key %s: %w", agentID, keyID, ErrKeyNotFound)
	}
	versions, ok := r.keys[agentID]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrKeyNotFound)
	}
	k, ok := versions[keyID]
	if !ok {
		return nil, fmt.Errorf("agent %s key %s: %w", agentID, keyID, ErrKeyNotFound)
	}
	return k, nil
}
