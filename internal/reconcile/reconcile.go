// Package reconcile computes expected versus declared balances for a shift.
// Everything here is pure: no store access, no clock, no logging.
package reconcile

import (
	"sort"

	"github.com/shopspring/decimal"

	"shiftledger/backend/internal/domain"
)

var (
	DefaultReviewThreshold = decimal.NewFromInt(10)
	DefaultExactEpsilon    = decimal.RequireFromString("0.01")
)

// Policy holds the per-deployment thresholds.
type Policy struct {
	// ReviewThreshold flags a shift when |variance| is strictly greater.
	ReviewThreshold decimal.Decimal
	// ExactEpsilon classifies a variance as exact when |variance| is strictly smaller.
	ExactEpsilon decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{ReviewThreshold: DefaultReviewThreshold, ExactEpsilon: DefaultExactEpsilon}
}

// Normalize fills an unset policy with the defaults. A zero review threshold
// on an otherwise set policy is kept and flags every non-zero variance.
func (p Policy) Normalize() Policy {
	if p.ReviewThreshold.IsZero() && p.ExactEpsilon.IsZero() {
		return DefaultPolicy()
	}
	if p.ReviewThreshold.IsNegative() {
		p.ReviewThreshold = DefaultReviewThreshold
	}
	if !p.ExactEpsilon.IsPositive() {
		p.ExactEpsilon = DefaultExactEpsilon
	}
	return p
}

func (p Policy) ComputeVariance(expected, actual decimal.Decimal) domain.VarianceResult {
	variance := actual.Sub(expected)
	category := domain.VarianceExact
	switch {
	case variance.Abs().LessThan(p.ExactEpsilon):
	case variance.IsPositive():
		category = domain.VarianceOver
	default:
		category = domain.VarianceShort
	}
	return domain.VarianceResult{Variance: variance, Category: category}
}

func (p Policy) RequiresReview(variance decimal.Decimal) bool {
	return variance.Abs().GreaterThan(p.ReviewThreshold)
}

// ExpectedCash is opening + sales - refunds + pay-ins - pay-outs - drops,
// less the tenders that never entered the drawer.
func ExpectedCash(shift *domain.ShiftSession) decimal.Decimal {
	return shift.OpeningCashTotal.
		Add(shift.TotalSales).
		Sub(shift.TotalRefunds).
		Add(shift.TotalPayIns).
		Sub(shift.TotalPayOuts).
		Sub(shift.TotalCashDrops).
		Sub(shift.TotalNonCash)
}

// AggregateVariance sums closing expected and actual values across accounts.
// Callers include the physical cash account when they want a whole-shift figure.
func AggregateVariance(balances []domain.AccountBalance) domain.AggregateVariance {
	agg := domain.AggregateVariance{
		TotalExpected: decimal.Zero,
		TotalActual:   decimal.Zero,
		TotalVariance: decimal.Zero,
	}
	for _, b := range balances {
		agg.TotalExpected = agg.TotalExpected.Add(b.ClosingExpected)
		agg.TotalActual = agg.TotalActual.Add(b.ClosingActual)
	}
	agg.TotalVariance = agg.TotalActual.Sub(agg.TotalExpected)
	return agg
}

// Reconcile builds the closing summary without mutating shift. Accounts
// without a declared closing value are treated as declared at their expected
// balance. The physical cash account is always derived from the drawer count.
func (p Policy) Reconcile(shift *domain.ShiftSession, closingCashTotal decimal.Decimal, declared map[string]decimal.Decimal) domain.ReconciliationSummary {
	expectedCash := ExpectedCash(shift)
	cash := p.ComputeVariance(expectedCash, closingCashTotal)

	accounts := make(map[string]domain.AccountBalance, len(shift.AccountBalances)+1)
	ids := make([]string, 0, len(shift.AccountBalances))
	for id := range shift.AccountBalances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	requiresReview := p.RequiresReview(cash.Variance)
	balances := make([]domain.AccountBalance, 0, len(ids)+1)
	for _, id := range ids {
		balance := shift.AccountBalances[id]
		if id == domain.PhysicalCashAccountID {
			balance.ClosingExpected = expectedCash
			balance.ClosingActual = closingCashTotal
		} else {
			balance.ClosingExpected = balance.CurrentBalance
			actual, ok := declared[id]
			if !ok {
				actual = balance.CurrentBalance
			}
			balance.ClosingActual = actual
		}
		balance.ClosingVariance = balance.ClosingActual.Sub(balance.ClosingExpected)
		if p.RequiresReview(balance.ClosingVariance) {
			requiresReview = true
		}
		accounts[id] = balance
		balances = append(balances, balance)
	}
	if _, tracked := shift.AccountBalances[domain.PhysicalCashAccountID]; !tracked {
		balances = append(balances, domain.AccountBalance{
			AccountID:       domain.PhysicalCashAccountID,
			ClosingExpected: expectedCash,
			ClosingActual:   closingCashTotal,
			ClosingVariance: cash.Variance,
		})
	}

	aggregate := AggregateVariance(balances)
	if p.RequiresReview(aggregate.TotalVariance) {
		requiresReview = true
	}

	return domain.ReconciliationSummary{
		ExpectedCash:     expectedCash,
		ClosingCashTotal: closingCashTotal,
		Cash:             cash,
		Accounts:         accounts,
		Aggregate:        aggregate,
		RequiresReview:   requiresReview,
	}
}
