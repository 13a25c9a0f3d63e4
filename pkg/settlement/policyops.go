package settlement

import (
	"context"
	"fmt"

	"golang.org/x/text/currency"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// UpdatePolicy installs a new policy version for an agent and ledgers
// the change. Versions are strictly increasing per agent so the ledger
// replays into an unambiguous policy history.
func (e *Engine) UpdatePolicy(ctx context.Context, p *contracts.SpendingPolicy) (*contracts.LedgerEntry, error) {
	if p == nil || p.AgentID == "" {
		return nil, fmt.Errorf("update policy: missing agent id")
	}
	if _, err := currency.ParseISO(p.Currency); err != nil {
		return nil, fmt.Errorf("update policy for %s: currency %q: %w", p.AgentID, p.Currency, err)
	}
	if p.LimitPerTx <= 0 {
		return nil, fmt.Errorf("update policy for %s: per-transaction limit must be positive", p.AgentID)
	}

	existing, err := e.policies.Get(ctx, p.AgentID)
	if err != nil {
		return nil, fmt.Errorf("update policy for %s: %w", p.AgentID, err)
	}
	if existing != nil && p.Version <= existing.Version {
		return nil, fmt.Errorf("update policy for %s: version %d not newer than %d",
			p.AgentID, p.Version, existing.Version)
	}

	snapshot := *p
	snapshot.UpdatedAt = e.clock().UTC()

	if err := e.policies.Put(ctx, &snapshot); err != nil {
		return nil, fmt.Errorf("update policy for %s: %w", p.AgentID, err)
	}

	entry, err := e.ledger.Append(context.WithoutCancel(ctx), contracts.LedgerEntryInput{
		EntryType:      contracts.EntryTypePolicyUpdate,
		AgentID:        snapshot.AgentID,
		PolicySnapshot: &snapshot,
	})
	if err != nil {
		// The store already holds the new version; surface the gap
		// loudly so operators reconcile it.
		e.logger.ErrorContext(ctx, "policy updated but ledger append failed",
			"agent_id", snapshot.AgentID, "version", snapshot.Version, "error", err)
		return nil, fmt.Errorf("update policy for %s: %w", p.AgentID, err)
	}

	e.logger.InfoContext(ctx, "policy updated",
		"agent_id", snapshot.AgentID, "version", snapshot.Version, "sequence", entry.Sequence)
	return entry, nil
}
