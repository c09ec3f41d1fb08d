package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"shiftledger/backend/internal/domain"
	"shiftledger/backend/internal/store"
	"shiftledger/backend/internal/xid"
)

func validMovementType(t domain.MovementType) bool {
	switch t {
	case domain.MovementTransfer, domain.MovementDeposit, domain.MovementWithdrawal, domain.MovementAdjustment:
		return true
	default:
		return false
	}
}

func (s *Service) RecordAccountMovement(ctx context.Context, req domain.AccountMovementRequest) (domain.AccountMovementResponse, error) {
	shiftID, err := requireShiftID(req.ShiftID)
	if err != nil {
		return domain.AccountMovementResponse{}, err
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return domain.AccountMovementResponse{}, validationError(shiftID, "account_id is required")
	}
	if accountID == domain.PhysicalCashAccountID {
		return domain.AccountMovementResponse{}, &LedgerError{Kind: ErrValidation, ShiftID: shiftID, AccountID: accountID, Detail: "physical cash moves through transactions, drops and adjustments"}
	}
	if !validMovementType(req.MovementType) {
		return domain.AccountMovementResponse{}, validationError(shiftID, "unsupported movement type %q", req.MovementType)
	}
	if req.Amount.IsZero() {
		return domain.AccountMovementResponse{}, validationError(shiftID, "movement amount must not be zero")
	}
	if !req.BalanceBefore.Add(req.Amount).Equal(req.BalanceAfter) {
		return domain.AccountMovementResponse{}, &LedgerError{
			Kind:      ErrValidation,
			ShiftID:   shiftID,
			AccountID: accountID,
			Amount:    decimal.NewNullDecimal(req.Amount),
			Detail:    "balance_after must equal balance_before + amount",
		}
	}

	head, err := s.GetShift(ctx, shiftID)
	if err != nil {
		return domain.AccountMovementResponse{}, err
	}

	var saved domain.AccountMovement
	keys := []store.Key{store.ShiftKey(shiftID), store.AccountKey(head.CompanyID, accountID)}
	warnings, err := s.run(ctx, shiftID, keys, func(ctx context.Context, u *unit) error {
		shift, err := loadShift(ctx, u.tx, shiftID)
		if err != nil {
			return err
		}
		if err := requireActive(shift); err != nil {
			return err
		}
		if !shift.IsLinked(accountID) {
			return &LedgerError{Kind: ErrValidation, ShiftID: shift.ID, AccountID: accountID, Detail: "account is not linked to this shift"}
		}

		balance, tracked := shift.AccountBalances[accountID]
		if tracked {
			if !req.BalanceBefore.Equal(balance.CurrentBalance) {
				mismatch := withAmount(validationError(shift.ID, "balance_before %s does not match current balance %s", req.BalanceBefore, balance.CurrentBalance), req.Amount)
				mismatch.AccountID = accountID
				return mismatch
			}
			next := balance.CurrentBalance.Add(req.Amount)
			if !balance.AllowNegative && req.Amount.IsNegative() && next.IsNegative() {
				return &LedgerError{Kind: ErrInsufficientBalance, ShiftID: shift.ID, AccountID: accountID, Amount: decimal.NewNullDecimal(req.Amount.Neg())}
			}
		}

		now := s.now()
		movement := domain.AccountMovement{
			ID:            xid.New("mv"),
			ShiftID:       shift.ID,
			AccountID:     accountID,
			AccountName:   defaultString(req.AccountName, balance.AccountName),
			MovementType:  req.MovementType,
			Amount:        req.Amount,
			BalanceBefore: req.BalanceBefore,
			BalanceAfter:  req.BalanceAfter,
			Reference:     strings.TrimSpace(req.Reference),
			Description:   strings.TrimSpace(req.Description),
			PerformedBy:   actorName(ctx, req.PerformedBy),
			Timestamp:     now,
		}
		if err := u.tx.InsertAccountMovement(ctx, movement); err != nil {
			return err
		}
		if tracked {
			balance.CurrentBalance = balance.CurrentBalance.Add(req.Amount)
			shift.AccountBalances[accountID] = balance
		}
		shift.UpdatedAt = now
		if err := u.tx.UpdateShift(ctx, *shift); err != nil {
			return err
		}
		saved = movement
		return u.record(ctx, shift, domain.AuditAccountMovement, "account_movement", movement.ID, map[string]any{
			"account_id":     accountID,
			"movement_type":  movement.MovementType,
			"amount":         movement.Amount,
			"balance_before": movement.BalanceBefore,
			"balance_after":  movement.BalanceAfter,
			"tracked":        tracked,
		})
	})
	if err != nil {
		return domain.AccountMovementResponse{}, err
	}
	return domain.AccountMovementResponse{Movement: saved, Warnings: warnings}, nil
}

// TransferBetweenAccounts writes both legs and one audit record in a single
// atomic unit.
func (s *Service) TransferBetweenAccounts(ctx context.Context, req domain.TransferRequest) (domain.TransferResponse, error) {
	shiftID, err := requireShiftID(req.ShiftID)
	if err != nil {
		return domain.TransferResponse{}, err
	}
	from := strings.TrimSpace(req.FromAccountID)
	to := strings.TrimSpace(req.ToAccountID)
	if from == "" || to == "" {
		return domain.TransferResponse{}, validationError(shiftID, "from_account_id and to_account_id are required")
	}
	if from == to {
		return domain.TransferResponse{}, &LedgerError{Kind: ErrValidation, ShiftID: shiftID, AccountID: from, Detail: "cannot transfer to the same account"}
	}
	if from == domain.PhysicalCashAccountID || to == domain.PhysicalCashAccountID {
		return domain.TransferResponse{}, &LedgerError{Kind: ErrValidation, ShiftID: shiftID, AccountID: domain.PhysicalCashAccountID, Detail: "physical cash moves through drops and adjustments"}
	}
	if !req.Amount.IsPositive() {
		return domain.TransferResponse{}, withAmount(validationError(shiftID, "transfer amount must be positive"), req.Amount)
	}

	head, err := s.GetShift(ctx, shiftID)
	if err != nil {
		return domain.TransferResponse{}, err
	}

	var resp domain.TransferResponse
	keys := []store.Key{
		store.ShiftKey(shiftID),
		store.AccountKey(head.CompanyID, from),
		store.AccountKey(head.CompanyID, to),
	}
	warnings, err := s.run(ctx, shiftID, keys, func(ctx context.Context, u *unit) error {
		shift, err := loadShift(ctx, u.tx, shiftID)
		if err != nil {
			return err
		}
		if err := requireActive(shift); err != nil {
			return err
		}
		source, err := trackedLinkedAccount(shift, from)
		if err != nil {
			return err
		}
		dest, err := trackedLinkedAccount(shift, to)
		if err != nil {
			return err
		}

		sourceAfter := source.CurrentBalance.Sub(req.Amount)
		if sourceAfter.IsNegative() && !source.AllowNegative {
			return &LedgerError{
				Kind:      ErrInsufficientBalance,
				ShiftID:   shift.ID,
				AccountID: from,
				Amount:    decimal.NewNullDecimal(req.Amount),
				Detail:    "available " + source.CurrentBalance.String(),
			}
		}
		destAfter := dest.CurrentBalance.Add(req.Amount)

		now := s.now()
		transferID := xid.New("xfer")
		performedBy := actorName(ctx, req.PerformedBy)
		reference := strings.TrimSpace(req.Reference)
		description := strings.TrimSpace(req.Description)
		debit := domain.AccountMovement{
			ID:            xid.New("mv"),
			ShiftID:       shift.ID,
			AccountID:     from,
			AccountName:   source.AccountName,
			MovementType:  domain.MovementTransfer,
			Amount:        req.Amount.Neg(),
			BalanceBefore: source.CurrentBalance,
			BalanceAfter:  sourceAfter,
			TransferID:    transferID,
			Reference:     reference,
			Description:   description,
			PerformedBy:   performedBy,
			Timestamp:     now,
		}
		credit := domain.AccountMovement{
			ID:            xid.New("mv"),
			ShiftID:       shift.ID,
			AccountID:     to,
			AccountName:   dest.AccountName,
			MovementType:  domain.MovementTransfer,
			Amount:        req.Amount,
			BalanceBefore: dest.CurrentBalance,
			BalanceAfter:  destAfter,
			TransferID:    transferID,
			Reference:     reference,
			Description:   description,
			PerformedBy:   performedBy,
			Timestamp:     now,
		}

		if err := u.tx.InsertAccountMovement(ctx, debit); err != nil {
			return err
		}
		if err := u.tx.InsertAccountMovement(ctx, credit); err != nil {
			return err
		}
		source.CurrentBalance = sourceAfter
		dest.CurrentBalance = destAfter
		shift.AccountBalances[from] = source
		shift.AccountBalances[to] = dest
		shift.UpdatedAt = now
		if err := u.tx.UpdateShift(ctx, *shift); err != nil {
			return err
		}

		resp = domain.TransferResponse{TransferID: transferID, Debit: debit, Credit: credit}
		return u.record(ctx, shift, domain.AuditAccountMovement, "transfer", transferID, map[string]any{
			"from_account_id": from,
			"to_account_id":   to,
			"amount":          req.Amount,
			"debit_id":        debit.ID,
			"credit_id":       credit.ID,
			"reference":       reference,
		})
	})
	if err != nil {
		return domain.TransferResponse{}, err
	}
	resp.Warnings = warnings
	return resp, nil
}

func (s *Service) ListAccountMovements(ctx context.Context, shiftID string, accountID string) ([]domain.AccountMovement, error) {
	shiftID, err := requireShiftID(shiftID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAccountMovements(ctx, shiftID, strings.TrimSpace(accountID))
}

func trackedLinkedAccount(shift *domain.ShiftSession, accountID string) (domain.AccountBalance, error) {
	if !shift.IsLinked(accountID) {
		return domain.AccountBalance{}, &LedgerError{Kind: ErrValidation, ShiftID: shift.ID, AccountID: accountID, Detail: "account is not linked to this shift"}
	}
	balance, ok := shift.AccountBalances[accountID]
	if !ok {
		return domain.AccountBalance{}, &LedgerError{Kind: ErrValidation, ShiftID: shift.ID, AccountID: accountID, Detail: "account has no opening balance on this shift"}
	}
	return balance, nil
}
