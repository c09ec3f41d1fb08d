package service

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"shiftledger/backend/internal/domain"
	"shiftledger/backend/internal/reconcile"
)

// ShiftReport rebuilds gross and net-of-voids totals from the shift's records.
func (s *Service) ShiftReport(ctx context.Context, shiftID string) (domain.ShiftReport, error) {
	shiftID, err := requireShiftID(shiftID)
	if err != nil {
		return domain.ShiftReport{}, err
	}
	if cached, ok, err := s.reports.Get(ctx, shiftID); err != nil {
		log.Warn().Err(err).Str("shift_id", shiftID).Msg("report cache read failed")
	} else if ok {
		return *cached, nil
	}

	shift, err := s.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftReport{}, err
	}
	transactions, err := s.ListShiftTransactions(ctx, shift.ID, true)
	if err != nil {
		return domain.ShiftReport{}, err
	}
	drops, err := s.repo.ListCashDrops(ctx, shift.ID)
	if err != nil {
		return domain.ShiftReport{}, err
	}
	adjustments, err := s.repo.ListCashAdjustments(ctx, shift.ID)
	if err != nil {
		return domain.ShiftReport{}, err
	}
	movements, err := s.repo.ListAccountMovements(ctx, shift.ID, "")
	if err != nil {
		return domain.ShiftReport{}, err
	}

	report := domain.ShiftReport{
		Shift:           shift,
		Gross:           newTotals(),
		Net:             newTotals(),
		CashDropCount:   len(drops),
		AdjustmentCount: len(adjustments),
		MovementCount:   len(movements),
		GeneratedAt:     s.now(),
	}
	for _, tx := range transactions {
		addToTotals(&report.Gross, tx)
		if tx.IsVoided {
			report.VoidedCount++
			continue
		}
		addToTotals(&report.Net, tx)
	}

	dropTotal := decimal.Zero
	for _, drop := range drops {
		dropTotal = dropTotal.Add(drop.Amount)
	}
	adjIn, adjOut := decimal.Zero, decimal.Zero
	for _, adj := range adjustments {
		if adj.Type == domain.AdjustmentPayIn {
			adjIn = adjIn.Add(adj.Amount)
		} else {
			adjOut = adjOut.Add(adj.Amount)
		}
	}

	rebuiltCash := shift.OpeningCashTotal.Add(report.Net.Cash).Add(adjIn).Sub(adjOut).Sub(dropTotal)
	report.ConservationHeld = shift.TotalSales.Equal(report.Net.Sales) &&
		shift.TotalRefunds.Equal(report.Net.Refunds) &&
		shift.TotalPayIns.Equal(report.Net.PayIns.Add(adjIn)) &&
		shift.TotalPayOuts.Equal(report.Net.PayOuts.Add(adjOut)) &&
		shift.TotalCashDrops.Equal(dropTotal) &&
		shift.NetCashFlow.Equal(rebuiltCash) &&
		shift.NetCashFlow.Equal(reconcile.ExpectedCash(&shift))

	if shift.Status == domain.ShiftStatusClosed {
		summary := domain.ReconciliationSummary{
			ExpectedCash:     shift.ExpectedCash,
			ClosingCashTotal: shift.ClosingCashTotal,
			Cash:             domain.VarianceResult{Variance: shift.CashVariance, Category: shift.VarianceCategory},
			Accounts:         shift.AccountBalances,
			Aggregate:        reconcile.AggregateVariance(closingBalances(shift)),
			RequiresReview:   shift.RequiresReview,
		}
		report.Reconciliation = &summary
		if err := s.reports.Set(ctx, &report, s.reportTTL); err != nil {
			log.Warn().Err(err).Str("shift_id", shift.ID).Msg("report cache write failed")
		}
	}
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, shiftID string, limit int) ([]domain.AuditLog, error) {
	shiftID, err := requireShiftID(shiftID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, shiftID, limit)
}

func newTotals() domain.TransactionTotals {
	return domain.TransactionTotals{
		Sales:   decimal.Zero,
		Refunds: decimal.Zero,
		PayIns:  decimal.Zero,
		PayOuts: decimal.Zero,
		Cash:    decimal.Zero,
		ByTender: map[domain.TenderKind]decimal.Decimal{
			domain.TenderCash:          decimal.Zero,
			domain.TenderCard:          decimal.Zero,
			domain.TenderBankTransfer:  decimal.Zero,
			domain.TenderDigitalWallet: decimal.Zero,
		},
	}
}

func addToTotals(totals *domain.TransactionTotals, tx domain.RegisterTransaction) {
	totals.Count++
	switch tx.Type {
	case domain.TransactionSale:
		totals.Sales = totals.Sales.Add(tx.TotalAmount)
	case domain.TransactionRefund:
		totals.Refunds = totals.Refunds.Add(tx.TotalAmount)
	case domain.TransactionPayIn:
		totals.PayIns = totals.PayIns.Add(tx.TotalAmount)
	case domain.TransactionPayOut:
		totals.PayOuts = totals.PayOuts.Add(tx.TotalAmount)
	}

	sign := decimal.NewFromInt(1)
	if !tx.Type.Inflow() {
		sign = sign.Neg()
	}
	totals.Cash = totals.Cash.Add(tx.CashComponent.Mul(sign))
	for _, tender := range tx.PaymentMethods.Tenders() {
		totals.ByTender[tender.Tender] = totals.ByTender[tender.Tender].Add(tender.Amount.Mul(sign))
	}
}

func closingBalances(shift domain.ShiftSession) []domain.AccountBalance {
	balances := make([]domain.AccountBalance, 0, len(shift.AccountBalances)+1)
	for _, balance := range shift.AccountBalances {
		balances = append(balances, balance)
	}
	if _, ok := shift.AccountBalances[domain.PhysicalCashAccountID]; !ok {
		balances = append(balances, domain.AccountBalance{
			AccountID:       domain.PhysicalCashAccountID,
			ClosingExpected: shift.ExpectedCash,
			ClosingActual:   shift.ClosingCashTotal,
			ClosingVariance: shift.CashVariance,
		})
	}
	return balances
}
