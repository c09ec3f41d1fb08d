package service

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"shiftledger/backend/internal/domain"
	"shiftledger/backend/internal/store"
	"shiftledger/backend/internal/xid"
)

// RecordTransaction books a sale, refund, pay-in or pay-out against an active
// shift. A request carrying an idempotency key that was already recorded
// returns the original transaction with Duplicate set and changes nothing.
func (s *Service) RecordTransaction(ctx context.Context, req domain.RecordTransactionRequest) (domain.TransactionResponse, error) {
	shiftID, err := requireShiftID(req.ShiftID)
	if err != nil {
		return domain.TransactionResponse{}, err
	}
	if !req.Type.Valid() {
		return domain.TransactionResponse{}, validationError(shiftID, "unsupported transaction type %q", req.Type)
	}
	if !req.TotalAmount.IsPositive() {
		return domain.TransactionResponse{}, withAmount(validationError(shiftID, "total_amount must be positive"), req.TotalAmount)
	}
	methods, err := normalizePaymentMethods(shiftID, req.TotalAmount, req.PaymentMethods)
	if err != nil {
		return domain.TransactionResponse{}, err
	}
	idemKey := strings.TrimSpace(req.IdempotencyKey)

	keys := []store.Key{store.ShiftKey(shiftID)}
	if idemKey != "" {
		keys = append(keys, store.IdempotencyKey(idemKey))
	}

	var (
		saved     domain.RegisterTransaction
		duplicate bool
	)
	warnings, err := s.run(ctx, shiftID, keys, func(ctx context.Context, u *unit) error {
		shift, err := loadShift(ctx, u.tx, shiftID)
		if err != nil {
			return err
		}
		if idemKey != "" {
			existing, err := u.tx.FindTransactionByIdempotency(ctx, idemKey)
			switch {
			case err == nil:
				if existing.ShiftID != shiftID {
					return &LedgerError{Kind: ErrValidation, ShiftID: shiftID, TransactionID: existing.ID, Detail: "idempotency key already used on another shift"}
				}
				saved = *existing
				duplicate = true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}
		if err := requireActive(shift); err != nil {
			return err
		}

		now := s.now()
		tx := domain.RegisterTransaction{
			ID:             xid.New("tx"),
			ShiftID:        shift.ID,
			CompanyID:      shift.CompanyID,
			BranchID:       shift.BranchID,
			IdempotencyKey: idemKey,
			Type:           req.Type,
			TotalAmount:    req.TotalAmount,
			PaymentMethods: methods,
			CashComponent:  methods.Cash,
			Timestamp:      now,
			PerformedBy:    actorName(ctx, req.PerformedBy),
			CustomerRef:    strings.TrimSpace(req.CustomerRef),
			Notes:          strings.TrimSpace(req.Notes),
		}
		applyTransaction(shift, tx, decimal.NewFromInt(1))
		shift.UpdatedAt = now

		if err := u.tx.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		if err := u.tx.UpdateShift(ctx, *shift); err != nil {
			return err
		}
		saved = tx
		return u.record(ctx, shift, domain.AuditTransactionCreate, "transaction", tx.ID, map[string]any{
			"type":           tx.Type,
			"total_amount":   tx.TotalAmount,
			"cash_component": tx.CashComponent,
			"payment":        tx.PaymentMethods,
		})
	})
	if err != nil {
		return domain.TransactionResponse{}, err
	}
	return domain.TransactionResponse{Transaction: saved, Duplicate: duplicate, Warnings: warnings}, nil
}

// VoidTransaction flags a transaction and reverses exactly the amounts it
// recorded. The shift must still be active.
func (s *Service) VoidTransaction(ctx context.Context, req domain.VoidTransactionRequest) (domain.TransactionResponse, error) {
	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		return domain.TransactionResponse{}, validationError("", "transaction_id is required")
	}

	current, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TransactionResponse{}, &LedgerError{Kind: ErrTransactionNotFound, TransactionID: transactionID}
		}
		return domain.TransactionResponse{}, err
	}
	shiftID := current.ShiftID

	var saved domain.RegisterTransaction
	keys := []store.Key{store.ShiftKey(shiftID), store.TransactionKey(transactionID)}
	warnings, err := s.run(ctx, shiftID, keys, func(ctx context.Context, u *unit) error {
		tx, err := u.tx.GetTransaction(ctx, transactionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &LedgerError{Kind: ErrTransactionNotFound, ShiftID: shiftID, TransactionID: transactionID}
			}
			return err
		}
		if tx.IsVoided {
			return &LedgerError{Kind: ErrAlreadyVoided, ShiftID: shiftID, TransactionID: tx.ID, Amount: decimal.NewNullDecimal(tx.TotalAmount)}
		}
		shift, err := loadShift(ctx, u.tx, shiftID)
		if err != nil {
			return err
		}
		if err := requireActive(shift); err != nil {
			return err
		}

		now := s.now()
		tx.IsVoided = true
		tx.VoidedAt = &now
		tx.VoidedBy = actorName(ctx, req.VoidedBy)
		tx.VoidReason = defaultString(req.Reason, "unspecified")
		tx.VoidApprovedBy = strings.TrimSpace(req.ApprovedBy)

		applyTransaction(shift, *tx, decimal.NewFromInt(-1))
		shift.UpdatedAt = now
		if err := u.tx.MarkTransactionVoided(ctx, *tx); err != nil {
			return err
		}
		if err := u.tx.UpdateShift(ctx, *shift); err != nil {
			return err
		}
		saved = *tx
		return u.record(ctx, shift, domain.AuditTransactionVoid, "transaction", tx.ID, map[string]any{
			"type":           tx.Type,
			"total_amount":   tx.TotalAmount,
			"cash_component": tx.CashComponent,
			"reason":         tx.VoidReason,
			"approved_by":    tx.VoidApprovedBy,
		})
	})
	if err != nil {
		return domain.TransactionResponse{}, err
	}
	return domain.TransactionResponse{Transaction: saved, Warnings: warnings}, nil
}

func (s *Service) ListShiftTransactions(ctx context.Context, shiftID string, includeVoided bool) ([]domain.RegisterTransaction, error) {
	shiftID, err := requireShiftID(shiftID)
	if err != nil {
		return nil, err
	}

	query := store.TransactionQuery{ShiftID: shiftID, Ordered: true, IncludeVoided: includeVoided}
	transactions, err := s.repo.ListTransactions(ctx, query)
	if errors.Is(err, store.ErrUnsupportedQuery) {
		log.Debug().Str("shift_id", shiftID).Msg("ordered transaction query unsupported, sorting client side")
		query.Ordered = false
		transactions, err = s.repo.ListTransactions(ctx, query)
		if err == nil {
			sortTransactions(transactions)
		}
	}
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

func sortTransactions(transactions []domain.RegisterTransaction) {
	slices.SortStableFunc(transactions, func(a, b domain.RegisterTransaction) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// applyTransaction adds sign × the recorded amounts to the shift. A void
// passes -1 with the stored transaction, so it is an exact inverse.
func applyTransaction(shift *domain.ShiftSession, tx domain.RegisterTransaction, sign decimal.Decimal) {
	amount := tx.TotalAmount.Mul(sign)
	switch tx.Type {
	case domain.TransactionSale:
		shift.TotalSales = shift.TotalSales.Add(amount)
	case domain.TransactionRefund:
		shift.TotalRefunds = shift.TotalRefunds.Add(amount)
	case domain.TransactionPayIn:
		shift.TotalPayIns = shift.TotalPayIns.Add(amount)
	case domain.TransactionPayOut:
		shift.TotalPayOuts = shift.TotalPayOuts.Add(amount)
	}

	cash := tx.CashComponent.Mul(sign)
	nonCash := amount.Sub(cash)
	if !tx.Type.Inflow() {
		cash = cash.Neg()
		nonCash = nonCash.Neg()
	}
	shift.TotalNonCash = shift.TotalNonCash.Add(nonCash)
	applyCashDelta(shift, cash)
}

func normalizePaymentMethods(shiftID string, total decimal.Decimal, methods domain.PaymentMethods) (domain.PaymentMethods, error) {
	if methods.HasNegative() {
		return domain.PaymentMethods{}, validationError(shiftID, "payment amounts must not be negative")
	}
	if methods.IsZero() {
		return domain.PaymentMethods{
			Cash:          total,
			Card:          decimal.Zero,
			BankTransfer:  decimal.Zero,
			DigitalWallet: decimal.Zero,
		}, nil
	}
	if !methods.Total().Equal(total) {
		return domain.PaymentMethods{}, withAmount(validationError(shiftID, "payment methods sum to %s, expected %s", methods.Total(), total), total)
	}
	return methods, nil
}
