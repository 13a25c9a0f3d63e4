//go:build property
// +build property

package merkle

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/veridianlabs/payguard/pkg/contracts"
	"github.com/veridianlabs/payguard/pkg/ledger"
)

// Property: for any ledger size, every entry's inclusion proof verifies
// against the root, and rebuilding the tree yields the same root.
func TestInclusionProofProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("all proofs verify and roots are stable", prop.ForAll(
		func(size uint8) bool {
			n := int(size)
			if n == 0 {
				return true
			}
			l := ledger.NewMemory()
			for i := 0; i < n; i++ {
				if _, err := l.Append(context.Background(), contracts.LedgerEntryInput{
					EntryType: contracts.EntryTypeSettlement,
					AgentID:   "agent-1",
					Status:    contracts.StatusExecuted,
					Amount:    int64(i + 1),
					Currency:  "USD",
				}); err != nil {
					return false
				}
			}
			entries, err := l.Range(context.Background(), 1, uint64(n))
			if err != nil {
				return false
			}
			tree, err := Build(entries)
			if err != nil {
				return false
			}
			again, err := Build(entries)
			if err != nil || again.Root != tree.Root {
				return false
			}
			for seq := uint64(1); seq <= uint64(n); seq++ {
				proof, err := tree.Prove(seq)
				if err != nil || !Verify(proof, tree.Root) {
					return false
				}
			}
			return true
		},
		gen.UInt8Range(1, 40),
	))

	properties.TestingRun(t)
}
