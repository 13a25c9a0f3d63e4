package merkle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veridianlabs/payguard/pkg/ledger"
)

// Anchor is a published commitment to a ledger range. Anchors are what
// external auditors pin: given an anchor, inclusion proofs for any
// entry in [FromSeq, ToSeq] can be checked offline.
type Anchor struct {
	FromSeq    uint64    `json:"from_seq"`
	ToSeq      uint64    `json:"to_seq"`
	Root       string    `json:"root"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// Anchorer reads ledger ranges and produces anchors and proofs.
type Anchorer struct {
	ledger ledger.Ledger
	clock  func() time.Time
	logger *slog.Logger
}

func NewAnchorer(l ledger.Ledger) *Anchorer {
	return &Anchorer{
		ledger: l,
		clock:  time.Now,
		logger: slog.Default().With("component", "merkle_anchorer"),
	}
}

// WithClock overrides the clock for testing.
func (a *Anchorer) WithClock(clock func() time.Time) *Anchorer {
	a.clock = clock
	return a
}

// Anchor verifies the hash chain across [from, to] and commits to it
// with a Merkle root. A range that fails chain verification is never
// anchored.
func (a *Anchorer) Anchor(ctx context.Context, from, to uint64) (*Anchor, error) {
	if err := a.ledger.VerifyChain(ctx, from, to); err != nil {
		return nil, fmt.Errorf("anchor range [%d, %d]: %w", from, to, err)
	}
	entries, err := a.ledger.Range(ctx, from, to)
	if err != nil {
		return nil, err
	}
	tree, err := Build(entries)
	if err != nil {
		return nil, err
	}
	anchor := &Anchor{
		FromSeq:    from,
		ToSeq:      to,
		Root:       tree.Root,
		AnchoredAt: a.clock().UTC(),
	}
	a.logger.Info("range anchored", "from", from, "to", to, "root", anchor.Root)
	return anchor, nil
}

// Prove rebuilds the tree for the anchor's range and returns the
// inclusion proof for one entry.
func (a *Anchorer) Prove(ctx context.Context, anchor *Anchor, seq uint64) (*InclusionProof, error) {
	if seq < anchor.FromSeq || seq > anchor.ToSeq {
		return nil, fmt.Errorf("sequence %d outside anchored range [%d, %d]", seq, anchor.FromSeq, anchor.ToSeq)
	}
	entries, err := a.ledger.Range(ctx, anchor.FromSeq, anchor.ToSeq)
	if err != nil {
		return nil, err
	}
	tree, err := Build(entries)
	if err != nil {
		return nil, err
	}
	if tree.Root != anchor.Root {
		return nil, fmt.Errorf("ledger range no longer matches anchor root %s", anchor.Root)
	}
	return tree.Prove(seq)
}
