// Package ledger provides the append-only, hash-chained record of every
// settlement decision. Each entry commits to its predecessor:
//
//	entry_hash = SHA-256(JCS(entry fields) || prev_hash)
//
// Entries are never deleted or mutated; corrections are new entries
// referencing the original. Appends never fail silently: no entry gets a
// sequence number unless it is durably persisted.
package ledger

import (
	"context"
	"fmt"

	"github.com/veridianlabs/payguard/pkg/canonicalize"
	"github.com/veridianlabs/payguard/pkg/contracts"
)

// GenesisHash seeds the chain before the first entry.
const GenesisHash = "genesis"

// Ledger is the single linear append point for decision records.
type Ledger interface {
	// Append finalizes and persists an entry atomically, returning it
	// with sequence, hashes and timestamp assigned.
	Append(ctx context.Context, input contracts.LedgerEntryInput) (*contracts.LedgerEntry, error)
	// Get retrieves one entry by sequence number (1-based).
	Get(ctx context.Context, seq uint64) (*contracts.LedgerEntry, error)
	// Range returns entries with from <= sequence <= to, in order.
	Range(ctx context.Context, from, to uint64) ([]*contracts.LedgerEntry, error)
	// Head returns the current head hash and entry count.
	Head(ctx context.Context) (string, uint64, error)
	// VerifyChain recomputes hashes across [from, to] and confirms each
	// entry links to its predecessor.
	VerifyChain(ctx context.Context, from, to uint64) error
}

// VerifyDetached checks hash chaining over entries detached from any
// store, such as a JSONL export. prevHash anchors the first entry's
// link; pass "" to skip that check when the predecessor is unknown.
func VerifyDetached(entries []*contracts.LedgerEntry, prevHash string) error {
	return verifyEntries(entries, prevHash, prevHash != "")
}

// hashEntry computes the content hash of a finalized entry: the
// JCS-canonical entry with its own hash cleared, concatenated with the
// previous head hash.
func hashEntry(e *contracts.LedgerEntry) (string, error) {
	view := *e
	view.EntryHash = ""
	b, err := canonicalize.JCS(&view)
	if err != nil {
		return "", &contracts.LedgerError{Op: "hash", Cause: err}
	}
	return canonicalize.HashBytes(append(b, []byte(e.PrevHash)...)), nil
}

// verifyEntries walks a contiguous slice of entries, recomputing each
// hash and checking predecessor links. prevHash is the hash preceding
// the first entry; pass checkPrev=false when the range does not start at
// the genesis so the first link is only checked internally.
func verifyEntries(entries []*contracts.LedgerEntry, prevHash string, checkPrev bool) error {
	for i, e := range entries {
		if checkPrev || i > 0 {
			if e.PrevHash != prevHash {
				return fmt.Errorf("chain broken at sequence %d: expected prev %s, got %s", e.Sequence, prevHash, e.PrevHash)
			}
		}
		computed, err := hashEntry(e)
		if err != nil {
			return err
		}
		if computed != e.EntryHash {
			return fmt.Errorf("hash mismatch at sequence %d", e.Sequence)
		}
		if i > 0 && e.Sequence != entries[i-1].Sequence+1 {
			return fmt.Errorf("sequence gap: %d follows %d", e.Sequence, entries[i-1].Sequence)
		}
		prevHash = e.EntryHash
	}
	return nil
}
