package merkle

import (
	"fmt"
	"strings"
)

// ProofStep is one sibling on the path from a leaf to the root. Side
// says which side the sibling sits on.
type ProofStep struct {
	Side        string `json:"side"` // "L" or "R"
	SiblingHash string `json:"sibling_hash"`
}

// InclusionProof demonstrates that a ledger entry is covered by an
// anchored Merkle root.
type InclusionProof struct {
	Sequence  uint64      `json:"sequence"`
	EntryHash string      `json:"entry_hash"`
	Root      string      `json:"root"`
	Path      []ProofStep `json:"path"`
}

// Prove generates the inclusion proof for the entry at the given ledger
// sequence.
func (t *Tree) Prove(seq uint64) (*InclusionProof, error) {
	idx := -1
	for i, l := range t.Leaves {
		if l.Sequence == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("merkle: sequence %d not in tree", seq)
	}

	proof := &InclusionProof{
		Sequence:  seq,
		EntryHash: t.Leaves[idx].EntryHash,
		Root:      t.Root,
	}

	pos := idx
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := pos ^ 1
		step := ProofStep{Side: "R"}
		if sibling < pos {
			step.Side = "L"
		}
		if sibling >= len(level) {
			// odd level: the last hash is its own sibling
			sibling = pos
		}
		step.SiblingHash = level[sibling]
		proof.Path = append(proof.Path, step)
		pos /= 2
	}
	return proof, nil
}

// Verify recomputes the root from the proof and compares it against the
// trusted root. An empty trustedRoot falls back to the root carried in
// the proof itself, which only checks internal consistency.
func Verify(proof *InclusionProof, trustedRoot string) bool {
	if trustedRoot != "" && !strings.EqualFold(proof.Root, trustedRoot) {
		return false
	}
	current := leafHash(proof.Sequence, proof.EntryHash)
	for _, step := range proof.Path {
		if step.Side == "L" {
			current = nodeHash(step.SiblingHash, current)
		} else {
			current = nodeHash(current, step.SiblingHash)
		}
	}
	return strings.EqualFold(current, proof.Root)
}
