package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftledger/backend/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeVarianceCategories(t *testing.T) {
	policy := DefaultPolicy()

	cases := []struct {
		name     string
		expected string
		actual   string
		variance string
		category domain.VarianceCategory
	}{
		{"exact match", "100", "100", "0", domain.VarianceExact},
		{"inside epsilon over", "100", "100.009", "0.009", domain.VarianceExact},
		{"inside epsilon short", "100", "99.991", "-0.009", domain.VarianceExact},
		{"boundary over is not exact", "100", "100.01", "0.01", domain.VarianceOver},
		{"boundary short is not exact", "100", "99.99", "-0.01", domain.VarianceShort},
		{"over", "500", "520", "20", domain.VarianceOver},
		{"short", "500", "480", "-20", domain.VarianceShort},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.ComputeVariance(d(tc.expected), d(tc.actual))
			assert.True(t, got.Variance.Equal(d(tc.variance)), "variance %s", got.Variance)
			assert.Equal(t, tc.category, got.Category)

			again := policy.ComputeVariance(d(tc.expected), d(tc.actual))
			assert.Equal(t, got.Category, again.Category)
			assert.True(t, got.Variance.Equal(again.Variance))
		})
	}
}

func TestRequiresReviewIsStrictlyGreaterThanThreshold(t *testing.T) {
	policy := DefaultPolicy()

	assert.False(t, policy.RequiresReview(d("10")))
	assert.False(t, policy.RequiresReview(d("-10")))
	assert.True(t, policy.RequiresReview(d("10.01")))
	assert.True(t, policy.RequiresReview(d("-20")))

	strict := Policy{ReviewThreshold: d("1"), ExactEpsilon: d("0.001")}
	assert.True(t, strict.RequiresReview(d("1.5")))
	assert.Equal(t, domain.VarianceOver, strict.ComputeVariance(d("1"), d("1.005")).Category)
}

func TestNormalizeFillsDefaults(t *testing.T) {
	p := Policy{}.Normalize()
	assert.True(t, p.ReviewThreshold.Equal(DefaultReviewThreshold))
	assert.True(t, p.ExactEpsilon.Equal(DefaultExactEpsilon))
}

func TestNormalizeKeepsZeroReviewThreshold(t *testing.T) {
	p := Policy{ReviewThreshold: decimal.Zero, ExactEpsilon: d("0.01")}.Normalize()
	assert.True(t, p.ReviewThreshold.IsZero())
	assert.True(t, p.RequiresReview(d("0.02")))
	assert.False(t, p.RequiresReview(decimal.Zero))

	p = Policy{ReviewThreshold: d("-1"), ExactEpsilon: decimal.Zero}.Normalize()
	assert.True(t, p.ReviewThreshold.Equal(DefaultReviewThreshold))
	assert.True(t, p.ExactEpsilon.Equal(DefaultExactEpsilon))
}

func TestExpectedCashExcludesNonCashTenders(t *testing.T) {
	shift := &domain.ShiftSession{
		OpeningCashTotal: d("500"),
		TotalSales:       d("100"),
		TotalNonCash:     d("100"),
		NetCashFlow:      d("500"),
		AccountBalances: map[string]domain.AccountBalance{
			domain.PhysicalCashAccountID: {AccountID: domain.PhysicalCashAccountID, CurrentBalance: d("500")},
		},
	}
	assert.True(t, ExpectedCash(shift).Equal(d("500")))

	summary := DefaultPolicy().Reconcile(shift, d("500"), nil)
	assert.Equal(t, domain.VarianceExact, summary.Cash.Category)
	assert.False(t, summary.RequiresReview)
	assert.True(t, summary.Accounts[domain.PhysicalCashAccountID].ClosingExpected.Equal(d("500")))
}

func TestExpectedCashFormula(t *testing.T) {
	shift := &domain.ShiftSession{
		OpeningCashTotal: d("500"),
		TotalSales:       d("300"),
		TotalRefunds:     d("40"),
		TotalPayIns:      d("25"),
		TotalPayOuts:     d("10"),
		TotalCashDrops:   d("150"),
	}
	assert.True(t, ExpectedCash(shift).Equal(d("625")))
}

func TestAggregateVariance(t *testing.T) {
	agg := AggregateVariance([]domain.AccountBalance{
		{AccountID: "bank", ClosingExpected: d("1000"), ClosingActual: d("990")},
		{AccountID: "wallet", ClosingExpected: d("200"), ClosingActual: d("205")},
		{AccountID: domain.PhysicalCashAccountID, ClosingExpected: d("500"), ClosingActual: d("500")},
	})
	assert.True(t, agg.TotalExpected.Equal(d("1700")))
	assert.True(t, agg.TotalActual.Equal(d("1695")))
	assert.True(t, agg.TotalVariance.Equal(d("-5")))
}

func TestReconcileShortDrawerNeedsReview(t *testing.T) {
	shift := &domain.ShiftSession{
		OpeningCashTotal: d("500"),
		NetCashFlow:      d("500"),
		AccountBalances: map[string]domain.AccountBalance{
			domain.PhysicalCashAccountID: {AccountID: domain.PhysicalCashAccountID, CurrentBalance: d("500")},
			"bank-1":                     {AccountID: "bank-1", CurrentBalance: d("700")},
		},
	}

	summary := DefaultPolicy().Reconcile(shift, d("480"), map[string]decimal.Decimal{"bank-1": d("700")})

	require.Len(t, summary.Accounts, 2)
	assert.True(t, summary.ExpectedCash.Equal(d("500")))
	assert.True(t, summary.Cash.Variance.Equal(d("-20")))
	assert.Equal(t, domain.VarianceShort, summary.Cash.Category)
	assert.True(t, summary.RequiresReview)
	assert.True(t, summary.Accounts[domain.PhysicalCashAccountID].ClosingVariance.Equal(d("-20")))
	assert.True(t, summary.Accounts["bank-1"].ClosingVariance.IsZero())
	assert.True(t, summary.Aggregate.TotalVariance.Equal(d("-20")))

	// the input shift is untouched
	assert.True(t, shift.AccountBalances["bank-1"].ClosingActual.IsZero())
}

func TestReconcileUndeclaredAccountDefaultsToExpected(t *testing.T) {
	shift := &domain.ShiftSession{
		OpeningCashTotal: d("100"),
		AccountBalances: map[string]domain.AccountBalance{
			"wallet": {AccountID: "wallet", CurrentBalance: d("50")},
		},
	}

	summary := DefaultPolicy().Reconcile(shift, d("100"), nil)

	assert.False(t, summary.RequiresReview)
	assert.True(t, summary.Accounts["wallet"].ClosingActual.Equal(d("50")))
	assert.True(t, summary.Aggregate.TotalExpected.Equal(d("150")))
}

func TestReconcileAccountVarianceFlagsReview(t *testing.T) {
	shift := &domain.ShiftSession{
		OpeningCashTotal: d("100"),
		AccountBalances: map[string]domain.AccountBalance{
			"bank": {AccountID: "bank", CurrentBalance: d("1000")},
		},
	}

	summary := DefaultPolicy().Reconcile(shift, d("100"), map[string]decimal.Decimal{"bank": d("950")})

	assert.Equal(t, domain.VarianceExact, summary.Cash.Category)
	assert.True(t, summary.RequiresReview)
}
