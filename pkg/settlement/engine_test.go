package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridianlabs/payguard/pkg/compliance"
	"github.com/veridianlabs/payguard/pkg/contracts"
	pgcrypto "github.com/veridianlabs/payguard/pkg/crypto"
	"github.com/veridianlabs/payguard/pkg/execution"
	"github.com/veridianlabs/payguard/pkg/keys"
	"github.com/veridianlabs/payguard/pkg/ledger"
	"github.com/veridianlabs/payguard/pkg/mandate"
	"github.com/veridianlabs/payguard/pkg/policy"
	"github.com/veridianlabs/payguard/pkg/replaycache"
)

const (
	testAgent  = "agent-7"
	testDomain = "shop.example.com"
	testWallet = "wallet-42"
)

type fixture struct {
	engine   *Engine
	ledger   *ledger.Memory
	rail     *execution.Simulator
	signer   *pgcrypto.Ed25519Signer
	policies policy.PolicyStore
	checker  *compliance.Static
}

func testPolicy() *contracts.SpendingPolicy {
	return &contracts.SpendingPolicy{
		AgentID:    testAgent,
		Version:    1,
		Currency:   "USD",
		LimitPerTx: 1000,
		WindowLimits: []contracts.WindowLimit{
			{Window: contracts.WindowDaily, Cap: 2000, Currency: "USD"},
		},
		MerchantMode:  contracts.MerchantAllowlist,
		Merchants:     []string{"acme-supplies"},
		AllowedScopes: []string{"checkout"},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	signer, err := pgcrypto.NewEd25519Signer("v1")
	require.NoError(t, err)

	ring := keys.NewRing()
	require.NoError(t, ring.Register(&keys.PublicKey{
		AgentID:   testAgent,
		KeyID:     "v1",
		Algorithm: contracts.AlgEd25519,
		Bytes:     signer.PublicKey(),
	}))

	verifier, err := mandate.NewVerifier(ring, replaycache.NewMemory())
	require.NoError(t, err)

	policies := policy.NewMemoryPolicyStore()
	require.NoError(t, policies.Put(context.Background(), testPolicy()))

	l := ledger.NewMemory()
	rail := execution.NewSimulator()
	checker := &compliance.Static{Approved: true}

	engine := NewEngine(
		verifier,
		policies,
		policy.NewEvaluator(policy.NewMemorySpendStore()),
		compliance.NewFailClosed(checker, time.Second),
		execution.NewIdempotent(rail, execution.NewMemoryResultStore()),
		l,
	)

	return &fixture{
		engine:   engine,
		ledger:   l,
		rail:     rail,
		signer:   signer,
		policies: policies,
		checker:  checker,
	}
}

func (f *fixture) buildChain(t *testing.T, amount int64) *contracts.MandateChain {
	t.Helper()
	chain, err := mandate.NewChainBuilder(testDomain, testWallet, time.Hour).Build(
		testAgent, f.signer, map[string]any{"description": "restock office supplies"},
		testAgent, f.signer, map[string]any{
			"items": []map[string]any{{"sku": "paper-a4", "quantity": 1, "unit_price": amount}},
			"total": amount,
		},
		testAgent, f.signer, map[string]any{
			"amount":   amount,
			"currency": "USD",
			"merchant": "acme-supplies",
			"scope":    "checkout",
		},
	)
	require.NoError(t, err)
	return chain
}

func (f *fixture) assertLedgerLen(t *testing.T, want int) {
	t.Helper()
	_, length, err := f.ledger.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(want), length)
	if want > 0 {
		assert.NoError(t, f.ledger.VerifyChain(context.Background(), 1, uint64(want)))
	}
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t)
	result, err := f.engine.Process(context.Background(), f.buildChain(t, 250))
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusExecuted, result.Status)
	assert.NotEmpty(t, result.LedgerEntryID)
	assert.NotEmpty(t, result.ExternalRef)
	assert.Len(t, f.rail.Executed(), 1)
	f.assertLedgerLen(t, 1)

	entry, err := f.ledger.Get(context.Background(), result.Sequence)
	require.NoError(t, err)
	assert.Equal(t, testAgent, entry.AgentID)
	assert.Equal(t, int64(250), entry.Amount)
	require.NotNil(t, entry.Decision)
	assert.Equal(t, contracts.VerdictApproved, entry.Decision.Verdict)
	require.NotNil(t, entry.Execution)
}

func TestProcessDeniesOverPerTxLimit(t *testing.T) {
	f := newFixture(t)
	result, err := f.engine.Process(context.Background(), f.buildChain(t, 5000))
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusDeniedPolicy, result.Status)
	assert.Equal(t, contracts.ReasonExceedsPerTxLimit, result.ReasonCode)
	assert.Empty(t, f.rail.Executed())
	f.assertLedgerLen(t, 1)
}

func TestProcessDetectsReplay(t *testing.T) {
	f := newFixture(t)
	chain := f.buildChain(t, 100)
	ctx := context.Background()

	first, err := f.engine.Process(ctx, chain)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusExecuted, first.Status)

	second, err := f.engine.Process(ctx, chain)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusDeniedVerification, second.Status)
	assert.Equal(t, string(contracts.VerifyReplayDetected), second.ReasonCode)

	assert.Len(t, f.rail.Executed(), 1)
	f.assertLedgerLen(t, 2)
}

func TestProcessDeniesExpiredChain(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-3 * time.Hour)
	chain, err := mandate.NewChainBuilder(testDomain, testWallet, time.Hour).
		WithClock(func() time.Time { return past }).
		Build(
			testAgent, f.signer, map[string]any{"description": "stale"},
			testAgent, f.signer, map[string]any{
				"items": []map[string]any{{"sku": "x", "quantity": 1, "unit_price": 100}},
				"total": 100,
			},
			testAgent, f.signer, map[string]any{
				"amount": 100, "currency": "USD", "merchant": "acme-supplies", "scope": "checkout",
			},
		)
	require.NoError(t, err)

	result, perr := f.engine.Process(context.Background(), chain)
	require.NoError(t, perr)
	assert.Equal(t, contracts.StatusDeniedVerification, result.Status)
	assert.Equal(t, string(contracts.VerifyExpired), result.ReasonCode)
	f.assertLedgerLen(t, 1)
}

func TestProcessNoPolicyDenies(t *testing.T) {
	f := newFixture(t)
	// replace the store with an empty one
	f.engine.policies = policy.NewMemoryPolicyStore()

	result, err := f.engine.Process(context.Background(), f.buildChain(t, 100))
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusDeniedPolicy, result.Status)
	assert.Equal(t, contracts.ReasonNoPolicy, result.ReasonCode)
	f.assertLedgerLen(t, 1)
}

func TestProcessComplianceOutageDeniesAndReleasesCapacity(t *testing.T) {
	f := newFixture(t)
	broken := compliance.CheckerFunc(func(context.Context, *contracts.VerifiedChain, *contracts.PolicyDecision) (*contracts.ComplianceResult, error) {
		return nil, errors.New("provider unreachable")
	})
	f.engine.checker = compliance.NewFailClosed(broken, 100*time.Millisecond)

	result, err := f.engine.Process(context.Background(), f.buildChain(t, 900))
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusDeniedCompliance, result.Status)
	assert.Empty(t, f.rail.Executed())
	f.assertLedgerLen(t, 1)

	// the denied payment's reservation was released: two more 900s
	// still fit under the 2000 daily cap
	f.engine.checker = compliance.NewFailClosed(&compliance.Static{Approved: true}, time.Second)
	for i := 0; i < 2; i++ {
		result, err = f.engine.Process(context.Background(), f.buildChain(t, 900))
		require.NoError(t, err)
		assert.Equal(t, contracts.StatusExecuted, result.Status)
	}
	f.assertLedgerLen(t, 3)
}

func TestProcessComplianceDenialLedgered(t *testing.T) {
	f := newFixture(t)
	f.checker.Approved = false
	f.checker.Rule = "sanctions_hit"

	result, err := f.engine.Process(context.Background(), f.buildChain(t, 100))
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusDeniedCompliance, result.Status)

	entry, err := f.ledger.Get(context.Background(), result.Sequence)
	require.NoError(t, err)
	require.NotNil(t, entry.Compliance)
	assert.Equal(t, "sanctions_hit", entry.Compliance.Rule)
}

func TestProcessChallengeWithoutResolver(t *testing.T) {
	f := newFixture(t)
	pol := testPolicy()
	pol.Version = 2
	pol.ReviewThreshold = 500
	require.NoError(t, f.policies.Put(context.Background(), pol))

	result, err := f.engine.Process(context.Background(), f.buildChain(t, 600))
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusChallenge, result.Status)
	assert.Equal(t, contracts.ReasonReviewThreshold, result.ReasonCode)
	assert.Empty(t, f.rail.Executed())
	f.assertLedgerLen(t, 1)

	// the unresolved challenge released its reservation
	result, err = f.engine.Process(context.Background(), f.buildChain(t, 400))
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusExecuted, result.Status)
}

func TestProcessChallengeResolvedApproves(t *testing.T) {
	f := newFixture(t)
	pol := testPolicy()
	pol.Version = 2
	pol.ReviewThreshold = 500
	require.NoError(t, f.policies.Put(context.Background(), pol))

	f.engine.WithResolver(ResolverFunc(func(_ context.Context, _ *contracts.VerifiedChain, d *contracts.PolicyDecision) (*Resolution, error) {
		assert.Equal(t, contracts.VerdictChallenge, d.Verdict)
		return &Resolution{Approved: true, Note: "approved by reviewer"}, nil
	}))

	result, err := f.engine.Process(context.Background(), f.buildChain(t, 600))
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusExecuted, result.Status)
	assert.Len(t, f.rail.Executed(), 1)
}

func TestProcessChallengeResolverErrorStaysChallenge(t *testing.T) {
	f := newFixture(t)
	pol := testPolicy()
	pol.Version = 2
	pol.ReviewThreshold = 500
	require.NoError(t, f.policies.Put(context.Background(), pol))

	f.engine.WithResolver(ResolverFunc(func(context.Context, *contracts.VerifiedChain, *contracts.PolicyDecision) (*Resolution, error) {
		return nil, errors.New("reviewer service down")
	}))

	result, err := f.engine.Process(context.Background(), f.buildChain(t, 600))
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusChallenge, result.Status)
	assert.Empty(t, f.rail.Executed())
}

func TestProcessExecutionFailureLedgeredAndReleased(t *testing.T) {
	f := newFixture(t)
	f.rail.SetFail(true)

	result, err := f.engine.Process(context.Background(), f.buildChain(t, 1000))
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusExecutionFailed, result.Status)
	f.assertLedgerLen(t, 1)

	// capacity returned: another 1000 followed by 1000 both fit the
	// 2000 daily cap once the rail recovers
	f.rail.SetFail(false)
	for i := 0; i < 2; i++ {
		result, err = f.engine.Process(context.Background(), f.buildChain(t, 1000))
		require.NoError(t, err)
		assert.Equal(t, contracts.StatusExecuted, result.Status)
	}
}

type failingLedger struct{}

func (failingLedger) Append(context.Context, contracts.LedgerEntryInput) (*contracts.LedgerEntry, error) {
	return nil, &contracts.LedgerError{Op: "append", Cause: errors.New("disk full")}
}
func (failingLedger) Get(context.Context, uint64) (*contracts.LedgerEntry, error) {
	return nil, &contracts.LedgerError{Op: "get", Cause: errors.New("disk full")}
}
func (failingLedger) Range(context.Context, uint64, uint64) ([]*contracts.LedgerEntry, error) {
	return nil, &contracts.LedgerError{Op: "range", Cause: errors.New("disk full")}
}
func (failingLedger) Head(context.Context) (string, uint64, error) {
	return "", 0, &contracts.LedgerError{Op: "head", Cause: errors.New("disk full")}
}
func (failingLedger) VerifyChain(context.Context, uint64, uint64) error {
	return &contracts.LedgerError{Op: "verify", Cause: errors.New("disk full")}
}

func TestProcessLedgerFailureNeverReportsSuccess(t *testing.T) {
	f := newFixture(t)
	f.engine.ledger = failingLedger{}

	result, err := f.engine.Process(context.Background(), f.buildChain(t, 100))
	require.Error(t, err)
	assert.Nil(t, result)
	var lerr *contracts.LedgerError
	assert.ErrorAs(t, err, &lerr)
}

func TestProcessThrottledBeforePipeline(t *testing.T) {
	f := newFixture(t)
	f.engine.WithLimiter(NewAgentLimiter(0, 0))

	result, err := f.engine.Process(context.Background(), f.buildChain(t, 100))
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Nil(t, result)
	f.assertLedgerLen(t, 0)
}

func TestExactlyOneLedgerEntryPerCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	calls := 0

	for _, amount := range []int64{100, 5000, 200, 9999} {
		_, err := f.engine.Process(ctx, f.buildChain(t, amount))
		require.NoError(t, err)
		calls++
	}

	// replayed chain still yields its own entry
	chain := f.buildChain(t, 50)
	_, err := f.engine.Process(ctx, chain)
	require.NoError(t, err)
	calls++
	_, err = f.engine.Process(ctx, chain)
	require.NoError(t, err)
	calls++

	f.assertLedgerLen(t, calls)
}

func TestUpdatePolicyLedgered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pol := testPolicy()
	pol.Version = 2
	pol.LimitPerTx = 750

	entry, err := f.engine.UpdatePolicy(ctx, pol)
	require.NoError(t, err)
	assert.Equal(t, contracts.EntryTypePolicyUpdate, entry.EntryType)
	require.NotNil(t, entry.PolicySnapshot)
	assert.Equal(t, int64(750), entry.PolicySnapshot.LimitPerTx)

	// stale version rejected
	stale := testPolicy()
	stale.Version = 2
	_, err = f.engine.UpdatePolicy(ctx, stale)
	assert.Error(t, err)

	// bad currency rejected
	bad := testPolicy()
	bad.Version = 3
	bad.Currency = "XXXX"
	_, err = f.engine.UpdatePolicy(ctx, bad)
	assert.Error(t, err)

	// the installed policy governs subsequent settlements
	result, err := f.engine.Process(ctx, f.buildChain(t, 800))
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusDeniedPolicy, result.Status)
	assert.Equal(t, contracts.ReasonExceedsPerTxLimit, result.ReasonCode)
}

func TestProcessCancelledBeforeExecution(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	f.engine.checker = compliance.CheckerFunc(func(context.Context, *contracts.VerifiedChain, *contracts.PolicyDecision) (*contracts.ComplianceResult, error) {
		cancel() // caller gives up while compliance runs
		return &contracts.ComplianceResult{Approved: true, Provider: "static"}, nil
	})

	result, err := f.engine.Process(ctx, f.buildChain(t, 100))
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusCancelled, result.Status)
	assert.Empty(t, f.rail.Executed())
	f.assertLedgerLen(t, 1)
}
