package service

import (
	"context"
	"strings"

	"shiftledger/backend/internal/domain"
	"shiftledger/backend/internal/store"
	"shiftledger/backend/internal/xid"
)

func (s *Service) PerformCashDrop(ctx context.Context, req domain.CashDropRequest) (domain.CashDropResponse, error) {
	shiftID, err := requireShiftID(req.ShiftID)
	if err != nil {
		return domain.CashDropResponse{}, err
	}
	if err := validateDenominations(shiftID, req.Denominations); err != nil {
		return domain.CashDropResponse{}, err
	}
	amount := req.Amount
	if amount.IsZero() && len(req.Denominations) > 0 {
		amount = domain.SumDenominations(req.Denominations)
	}
	if !amount.IsPositive() {
		return domain.CashDropResponse{}, withAmount(validationError(shiftID, "cash drop amount must be positive"), amount)
	}
	if len(req.Denominations) > 0 && !domain.SumDenominations(req.Denominations).Equal(amount) {
		return domain.CashDropResponse{}, withAmount(validationError(shiftID, "denominations do not add up to the drop amount"), amount)
	}

	var saved domain.CashDrop
	warnings, err := s.run(ctx, shiftID, []store.Key{store.ShiftKey(shiftID)}, func(ctx context.Context, u *unit) error {
		shift, err := loadShift(ctx, u.tx, shiftID)
		if err != nil {
			return err
		}
		if err := requireActive(shift); err != nil {
			return err
		}

		now := s.now()
		drop := domain.CashDrop{
			ID:            xid.New("drop"),
			ShiftID:       shift.ID,
			Amount:        amount,
			Denominations: append([]domain.Denomination(nil), req.Denominations...),
			DroppedBy:     actorName(ctx, req.PerformedBy),
			WitnessedBy:   strings.TrimSpace(req.WitnessedBy),
			SafeID:        strings.TrimSpace(req.SafeID),
			Notes:         strings.TrimSpace(req.Notes),
			Timestamp:     now,
		}
		shift.TotalCashDrops = shift.TotalCashDrops.Add(amount)
		applyCashDelta(shift, amount.Neg())
		shift.UpdatedAt = now

		if err := u.tx.InsertCashDrop(ctx, drop); err != nil {
			return err
		}
		if err := u.tx.UpdateShift(ctx, *shift); err != nil {
			return err
		}
		saved = drop
		return u.record(ctx, shift, domain.AuditCashDrop, "cash_drop", drop.ID, map[string]any{
			"amount":       drop.Amount,
			"safe_id":      drop.SafeID,
			"witnessed_by": drop.WitnessedBy,
		})
	})
	if err != nil {
		return domain.CashDropResponse{}, err
	}
	return domain.CashDropResponse{CashDrop: saved, Warnings: warnings}, nil
}

func (s *Service) RecordCashAdjustment(ctx context.Context, req domain.CashAdjustmentRequest) (domain.CashAdjustmentResponse, error) {
	shiftID, err := requireShiftID(req.ShiftID)
	if err != nil {
		return domain.CashAdjustmentResponse{}, err
	}
	if req.Type != domain.AdjustmentPayIn && req.Type != domain.AdjustmentPayOut {
		return domain.CashAdjustmentResponse{}, validationError(shiftID, "adjustment type must be pay_in or pay_out")
	}
	if !req.Amount.IsPositive() {
		return domain.CashAdjustmentResponse{}, withAmount(validationError(shiftID, "adjustment amount must be positive"), req.Amount)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.CashAdjustmentResponse{}, validationError(shiftID, "reason is required")
	}

	var saved domain.CashAdjustment
	warnings, err := s.run(ctx, shiftID, []store.Key{store.ShiftKey(shiftID)}, func(ctx context.Context, u *unit) error {
		shift, err := loadShift(ctx, u.tx, shiftID)
		if err != nil {
			return err
		}
		if err := requireActive(shift); err != nil {
			return err
		}

		now := s.now()
		adjustment := domain.CashAdjustment{
			ID:           xid.New("adj"),
			ShiftID:      shift.ID,
			Type:         req.Type,
			Amount:       req.Amount,
			Reason:       reason,
			AuthorizedBy: strings.TrimSpace(req.AuthorizedBy),
			PerformedBy:  actorName(ctx, req.PerformedBy),
			Timestamp:    now,
		}

		action := domain.AuditPayIn
		if req.Type == domain.AdjustmentPayIn {
			shift.TotalPayIns = shift.TotalPayIns.Add(req.Amount)
			applyCashDelta(shift, req.Amount)
		} else {
			action = domain.AuditPayOut
			shift.TotalPayOuts = shift.TotalPayOuts.Add(req.Amount)
			applyCashDelta(shift, req.Amount.Neg())
		}
		shift.UpdatedAt = now

		if err := u.tx.InsertCashAdjustment(ctx, adjustment); err != nil {
			return err
		}
		if err := u.tx.UpdateShift(ctx, *shift); err != nil {
			return err
		}
		saved = adjustment
		return u.record(ctx, shift, action, "cash_adjustment", adjustment.ID, map[string]any{
			"amount":        adjustment.Amount,
			"reason":        adjustment.Reason,
			"authorized_by": adjustment.AuthorizedBy,
		})
	})
	if err != nil {
		return domain.CashAdjustmentResponse{}, err
	}
	return domain.CashAdjustmentResponse{Adjustment: saved, Warnings: warnings}, nil
}

func (s *Service) ListCashDrops(ctx context.Context, shiftID string) ([]domain.CashDrop, error) {
	shiftID, err := requireShiftID(shiftID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCashDrops(ctx, shiftID)
}

func (s *Service) ListCashAdjustments(ctx context.Context, shiftID string) ([]domain.CashAdjustment, error) {
	shiftID, err := requireShiftID(shiftID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCashAdjustments(ctx, shiftID)
}
