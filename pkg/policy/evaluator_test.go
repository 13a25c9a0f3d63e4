package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

func testPolicy() *contracts.SpendingPolicy {
	return &contracts.SpendingPolicy{
		AgentID:    "agent-1",
		Version:    1,
		Currency:   "USD",
		LimitPerTx: 100,
		WindowLimits: []contracts.WindowLimit{
			{Window: contracts.WindowDaily, Cap: 500, Currency: "USD"},
		},
		MerchantMode:  contracts.MerchantAllowlist,
		Merchants:     []string{"acme-supplies"},
		AllowedScopes: []string{"checkout"},
	}
}

func testPayment(amount int64) *contracts.PaymentDetails {
	return &contracts.PaymentDetails{
		Amount:   amount,
		Currency: "USD",
		Merchant: "acme-supplies",
		Scope:    "checkout",
	}
}

func TestEvaluateApproved(t *testing.T) {
	e := NewEvaluator(NewMemorySpendStore())
	d, res, err := e.Evaluate(context.Background(), testPolicy(), testPayment(50))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, contracts.VerdictApproved, d.Verdict)
	require.NoError(t, res.Confirm(context.Background()))
}

func TestEvaluateNoPolicy(t *testing.T) {
	e := NewEvaluator(NewMemorySpendStore())
	d, res, err := e.Evaluate(context.Background(), nil, testPayment(50))
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, contracts.VerdictDenied, d.Verdict)
	assert.Equal(t, contracts.ReasonNoPolicy, d.ReasonCode)
}

func TestEvaluatePerTxLimit(t *testing.T) {
	e := NewEvaluator(NewMemorySpendStore())
	d, res, err := e.Evaluate(context.Background(), testPolicy(), testPayment(150))
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, contracts.VerdictDenied, d.Verdict)
	assert.Equal(t, contracts.ReasonExceedsPerTxLimit, d.ReasonCode)
}

func TestEvaluateDailyLimit(t *testing.T) {
	store := NewMemorySpendStore()
	e := NewEvaluator(store)
	ctx := context.Background()

	// 450 already confirmed today
	require.NoError(t, store.Record(ctx, "agent-1", 450, "USD", time.Now().UTC()))

	d, res, err := e.Evaluate(ctx, testPolicy(), testPayment(100))
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, contracts.ReasonExceedsDailyLimit, d.ReasonCode)

	// 50 still fits
	d, res, err = e.Evaluate(ctx, testPolicy(), testPayment(50))
	require.NoError(t, err)
	assert.Equal(t, contracts.VerdictApproved, d.Verdict)
	res.Release()
}

func TestEvaluateMerchantRules(t *testing.T) {
	e := NewEvaluator(NewMemorySpendStore())
	ctx := context.Background()

	p := testPolicy()
	pay := testPayment(50)
	pay.Merchant = "unknown-shop"
	d, _, err := e.Evaluate(ctx, p, pay)
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonMerchantRule, d.ReasonCode)

	p.MerchantMode = contracts.MerchantDenylist
	p.Merchants = []string{"blocked-shop"}
	d, res, err := e.Evaluate(ctx, p, pay)
	require.NoError(t, err)
	assert.Equal(t, contracts.VerdictApproved, d.Verdict)
	res.Release()

	pay.Merchant = "blocked-shop"
	d, _, err = e.Evaluate(ctx, p, pay)
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonMerchantRule, d.ReasonCode)
}

func TestEvaluateScope(t *testing.T) {
	e := NewEvaluator(NewMemorySpendStore())
	pay := testPayment(50)
	pay.Scope = "on-chain"
	d, _, err := e.Evaluate(context.Background(), testPolicy(), pay)
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonScopeNotPermitted, d.ReasonCode)
}

func TestEvaluateCurrencyMismatch(t *testing.T) {
	e := NewEvaluator(NewMemorySpendStore())
	pay := testPayment(50)
	pay.Currency = "EUR"
	d, _, err := e.Evaluate(context.Background(), testPolicy(), pay)
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonCurrencyMismatch, d.ReasonCode)
}

func TestEvaluateChallengeThreshold(t *testing.T) {
	e := NewEvaluator(NewMemorySpendStore())
	p := testPolicy()
	p.ReviewThreshold = 60

	d, res, err := e.Evaluate(context.Background(), p, testPayment(80))
	require.NoError(t, err)
	require.NotNil(t, res, "challenge holds its reservation")
	assert.Equal(t, contracts.VerdictChallenge, d.Verdict)
	assert.Equal(t, contracts.ReasonReviewThreshold, d.ReasonCode)
	res.Release()

	d, res, err = e.Evaluate(context.Background(), p, testPayment(40))
	require.NoError(t, err)
	assert.Equal(t, contracts.VerdictApproved, d.Verdict)
	res.Release()
}

func TestEvaluateCustomRule(t *testing.T) {
	e := NewEvaluator(NewMemorySpendStore())
	ctx := context.Background()

	p := testPolicy()
	p.CustomRule = `amount <= 60 || scope == "api"`

	d, res, err := e.Evaluate(ctx, p, testPayment(50))
	require.NoError(t, err)
	assert.Equal(t, contracts.VerdictApproved, d.Verdict)
	res.Release()

	d, _, err = e.Evaluate(ctx, p, testPayment(80))
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonCustomRule, d.ReasonCode)
}

func TestEvaluateCustomRuleFailsClosed(t *testing.T) {
	e := NewEvaluator(NewMemorySpendStore())
	p := testPolicy()
	p.CustomRule = `merchant.startsWith(` // malformed

	d, _, err := e.Evaluate(context.Background(), p, testPayment(50))
	require.NoError(t, err)
	assert.Equal(t, contracts.VerdictDenied, d.Verdict)
	assert.Equal(t, contracts.ReasonCustomRule, d.ReasonCode)
}

func TestReleasedReservationReturnsCapacity(t *testing.T) {
	e := NewEvaluator(NewMemorySpendStore())
	ctx := context.Background()
	p := testPolicy() // daily cap 500

	var reservations []*Reservation
	for i := 0; i < 5; i++ {
		d, res, err := e.Evaluate(ctx, p, testPayment(100))
		require.NoError(t, err)
		require.Equal(t, contracts.VerdictApproved, d.Verdict)
		reservations = append(reservations, res)
	}

	// cap fully reserved
	d, _, err := e.Evaluate(ctx, p, testPayment(100))
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonExceedsDailyLimit, d.ReasonCode)

	reservations[0].Release()
	d, res, err := e.Evaluate(ctx, p, testPayment(100))
	require.NoError(t, err)
	assert.Equal(t, contracts.VerdictApproved, d.Verdict)
	res.Release()
	for _, r := range reservations[1:] {
		r.Release()
	}
}

// Limit invariant: N concurrent submissions against the same policy can
// never jointly exceed the daily cap.
func TestEvaluateConcurrentLimit(t *testing.T) {
	store := NewMemorySpendStore()
	e := NewEvaluator(store)
	ctx := context.Background()
	p := testPolicy() // per-tx 100, daily 500

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	var approved int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, res, err := e.Evaluate(ctx, p, testPayment(100))
			if err != nil || d.Verdict != contracts.VerdictApproved {
				return
			}
			require.NoError(t, res.Confirm(ctx))
			mu.Lock()
			approved += 100
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, approved, int64(500))
	assert.Equal(t, int64(500), approved, "full capacity should be granted")

	sum, err := store.Sum(ctx, "agent-1", contracts.WindowDaily, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(500), sum)
}

func TestBucketRange(t *testing.T) {
	at := time.Date(2026, 8, 30, 15, 4, 5, 0, time.UTC)

	start, end := BucketRange(contracts.WindowDaily, at)
	assert.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), end)

	start, end = BucketRange(contracts.WindowMonthly, at)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), end)

	start, end = BucketRange(contracts.WindowWeekly, at)
	assert.Equal(t, 7*24*time.Hour, end.Sub(start))
	assert.False(t, at.Before(start))
	assert.True(t, at.Before(end))
}
