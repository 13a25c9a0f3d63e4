// Package merkle builds Merkle trees over ranges of ledger entries so a
// whole range can be committed to by a single root hash. Roots are
// published as anchors; any entry in an anchored range can later prove
// its inclusion without shipping the full range.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

const (
	leafPrefix = "payguard:ledger:leaf:v1"
	nodePrefix = "payguard:ledger:node:v1"
)

// Leaf is one ledger entry's position in the tree.
type Leaf struct {
	Sequence  uint64 `json:"sequence"`
	EntryHash string `json:"entry_hash"`
	LeafHash  string `json:"leaf_hash"`
}

// Tree is a Merkle tree over a contiguous range of ledger entries.
// Odd levels are balanced by duplicating the last hash.
type Tree struct {
	Leaves []Leaf
	Root   string
	levels [][]string
}

// Build constructs a tree over the given entries. Entries must be a
// contiguous, ordered ledger range.
func Build(entries []*contracts.LedgerEntry) (*Tree, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("merkle: empty range")
	}

	leaves := make([]Leaf, len(entries))
	for i, e := range entries {
		if i > 0 && e.Sequence != entries[i-1].Sequence+1 {
			return nil, fmt.Errorf("merkle: sequence gap at %d", e.Sequence)
		}
		leaves[i] = Leaf{
			Sequence:  e.Sequence,
			EntryHash: e.EntryHash,
			LeafHash:  leafHash(e.Sequence, e.EntryHash),
		}
	}

	tree := &Tree{Leaves: leaves}
	level := make([]string, len(leaves))
	for i, l := range leaves {
		level[i] = l.LeafHash
	}

	for len(level) > 1 {
		tree.levels = append(tree.levels, level)
		level = nextLevel(level)
	}
	tree.levels = append(tree.levels, level)
	tree.Root = level[0]
	return tree, nil
}

// leafHash commits to both the position and the content of an entry:
//
//	SHA-256("payguard:ledger:leaf:v1" || 0x00 || sequence || 0x00 || entry_hash)
func leafHash(seq uint64, entryHash string) string {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	fmt.Fprintf(&buf, "%d", seq)
	buf.WriteByte(0)
	buf.WriteString(entryHash)
	return sha256Hex(buf.Bytes())
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func nextLevel(hashes []string) []string {
	count := len(hashes)
	if count%2 != 0 {
		hashes = append(hashes, hashes[count-1])
		count++
	}
	next := make([]string, count/2)
	for i := 0; i < count; i += 2 {
		next[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return next
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
