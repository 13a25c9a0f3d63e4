package audit

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridianlabs/payguard/pkg/contracts"
	"github.com/veridianlabs/payguard/pkg/ledger"
)

func seedLedger(t *testing.T) *ledger.Memory {
	t.Helper()
	l := ledger.NewMemory()
	ctx := context.Background()
	inputs := []contracts.LedgerEntryInput{
		{EntryType: contracts.EntryTypeSettlement, AgentID: "a", Status: contracts.StatusExecuted, Amount: 100, Currency: "USD"},
		{EntryType: contracts.EntryTypeSettlement, AgentID: "a", Status: contracts.StatusDeniedPolicy, ReasonCode: contracts.ReasonExceedsPerTxLimit, Amount: 9000, Currency: "USD"},
		{EntryType: contracts.EntryTypeSettlement, AgentID: "b", Status: contracts.StatusExecuted, Amount: 250, Currency: "USD"},
		{EntryType: contracts.EntryTypePolicyUpdate, AgentID: "b"},
	}
	for _, in := range inputs {
		_, err := l.Append(ctx, in)
		require.NoError(t, err)
	}
	return l
}

func TestExportAndReplayRoundTrip(t *testing.T) {
	l := seedLedger(t)
	var buf bytes.Buffer
	require.NoError(t, Export(context.Background(), l, 1, 4, &buf))

	result, err := ReplayFromReader(&buf, ledger.GenesisHash)
	require.NoError(t, err)
	assert.Equal(t, 4, result.TotalEntries)
	assert.True(t, result.ValidChain)
	assert.True(t, result.OrderValid)
	assert.Empty(t, result.DuplicateIDs)
	assert.Equal(t, 2, result.StatusCounts[string(contracts.StatusExecuted)])
	assert.Equal(t, int64(100), result.AgentTotals["a"])
	assert.Equal(t, int64(250), result.AgentTotals["b"])
}

func TestExportToFileAndReplay(t *testing.T) {
	l := seedLedger(t)
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	require.NoError(t, ExportToFile(context.Background(), l, 1, 4, path))

	result, err := ReplayFromFile(path, ledger.GenesisHash)
	require.NoError(t, err)
	assert.True(t, result.ValidChain)
}

func TestReplayDetectsTampering(t *testing.T) {
	l := seedLedger(t)
	var buf bytes.Buffer
	require.NoError(t, Export(context.Background(), l, 1, 4, &buf))

	entries, err := ReadExport(&buf)
	require.NoError(t, err)
	entries[1].Amount = 1 // doctored after export

	result := Replay(entries, ledger.GenesisHash)
	assert.False(t, result.ValidChain)
	assert.NotEmpty(t, result.ChainBreaks)
}

func TestReplayDetectsDuplicatesAndOrdering(t *testing.T) {
	l := seedLedger(t)
	entries, err := l.Range(context.Background(), 1, 4)
	require.NoError(t, err)

	entries[2].Timestamp = entries[1].Timestamp.Add(-time.Hour)
	entries[3].EntryID = entries[0].EntryID

	result := Replay(entries, "")
	assert.False(t, result.OrderValid)
	assert.Contains(t, result.DuplicateIDs, entries[0].EntryID)
}

func TestExportRefusesBrokenRange(t *testing.T) {
	l := seedLedger(t)
	var buf bytes.Buffer
	err := Export(context.Background(), l, 2, 9, &buf)
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestReplayMidRangeWithAnchor(t *testing.T) {
	l := seedLedger(t)
	ctx := context.Background()
	first, err := l.Get(ctx, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Export(ctx, l, 2, 4, &buf))

	result, err := ReplayFromReader(&buf, first.EntryHash)
	require.NoError(t, err)
	assert.True(t, result.ValidChain)
}
