// Package policy evaluates payments against agent spending policies
// under an atomic reserve-then-confirm discipline, so two concurrent
// requests can never both observe "under limit" and jointly exceed it.
package policy

import (
	"context"
	"sync"
	"time"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// SpendStore accumulates confirmed spend per agent. Only terminal
// approved-and-executed amounts are recorded; denied or pending attempts
// never count toward limits.
type SpendStore interface {
	// Record adds a confirmed spend at the given instant.
	Record(ctx context.Context, agentID string, amount int64, currency string, at time.Time) error
	// Sum returns confirmed spend inside the window bucket containing at.
	Sum(ctx context.Context, agentID string, w contracts.Window, at time.Time) (int64, error)
}

// PolicyStore resolves the active spending policy for an agent.
type PolicyStore interface {
	Get(ctx context.Context, agentID string) (*contracts.SpendingPolicy, error)
	Put(ctx context.Context, p *contracts.SpendingPolicy) error
}

type spendRecord struct {
	amount int64
	at     time.Time
}

// MemorySpendStore is the in-process SpendStore used in tests and
// single-node deployments.
type MemorySpendStore struct {
	mu     sync.RWMutex
	spends map[string][]spendRecord
}

// NewMemorySpendStore creates an empty spend store.
func NewMemorySpendStore() *MemorySpendStore {
	return &MemorySpendStore{spends: make(map[string][]spendRecord)}
}

func (s *MemorySpendStore) Record(_ context.Context, agentID string, amount int64, _ string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spends[agentID] = append(s.spends[agentID], spendRecord{amount: amount, at: at.UTC()})
	return nil
}

func (s *MemorySpendStore) Sum(_ context.Context, agentID string, w contracts.Window, at time.Time) (int64, error) {
	start, end := BucketRange(w, at)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, r := range s.spends[agentID] {
		if !r.at.Before(start) && r.at.Before(end) {
			total += r.amount
		}
	}
	return total, nil
}

// MemoryPolicyStore is the in-process PolicyStore.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*contracts.SpendingPolicy
}

// NewMemoryPolicyStore creates an empty policy store.
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]*contracts.SpendingPolicy)}
}

func (s *MemoryPolicyStore) Get(_ context.Context, agentID string) (*contracts.SpendingPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[agentID]
	if !ok {
		return nil, nil // no policy is a policy decision, not an error
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryPolicyStore) Put(_ context.Context, p *contracts.SpendingPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.policies[p.AgentID] = &cp
	return nil
}
