package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// Memory is an in-process Ledger for tests and ephemeral deployments.
type Memory struct {
	mu       sync.RWMutex
	entries  []*contracts.LedgerEntry
	headHash string
	clock    func() time.Time
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{headHash: GenesisHash, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

func (m *Memory) Append(_ context.Context, input contracts.LedgerEntryInput) (*contracts.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &contracts.LedgerEntry{
		Sequence:         uint64(len(m.entries)) + 1,
		EntryID:          uuid.NewString(),
		Timestamp:        m.clock().UTC(),
		LedgerEntryInput: input,
		PrevHash:         m.headHash,
	}
	hash, err := hashEntry(entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash

	m.entries = append(m.entries, entry)
	m.headHash = hash

	cp := *entry
	return &cp, nil
}

func (m *Memory) Get(_ context.Context, seq uint64) (*contracts.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if seq == 0 || seq > uint64(len(m.entries)) {
		return nil, &contracts.LedgerError{Op: "get", Cause: fmt.Errorf("entry %d not found", seq)}
	}
	cp := *m.entries[seq-1]
	return &cp, nil
}

func (m *Memory) Range(_ context.Context, from, to uint64) ([]*contracts.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if from == 0 || from > to || to > uint64(len(m.entries)) {
		return nil, &contracts.LedgerError{Op: "range", Cause: fmt.Errorf("invalid range [%d, %d]", from, to)}
	}
	out := make([]*contracts.LedgerEntry, 0, to-from+1)
	for i := from; i <= to; i++ {
		cp := *m.entries[i-1]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) Head(_ context.Context) (string, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.headHash, uint64(len(m.entries)), nil
}

func (m *Memory) VerifyChain(ctx context.Context, from, to uint64) error {
	entries, err := m.Range(ctx, from, to)
	if err != nil {
		return err
	}
	prev := GenesisHash
	checkPrev := from == 1
	if from > 1 {
		prevEntry, err := m.Get(ctx, from-1)
		if err != nil {
			return err
		}
		prev = prevEntry.EntryHash
		checkPrev = true
	}
	return verifyEntries(entries, prev, checkPrev)
}
