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

const physicalCashName = "Physical Cash"

func (s *Service) OpenShift(ctx context.Context, req domain.OpenShiftRequest) (domain.ShiftResponse, error) {
	req.CompanyID = defaultString(req.CompanyID, s.defaultCompanyID)
	req.BranchID = defaultString(req.BranchID, s.defaultBranchID)
	req.RegisterID = strings.TrimSpace(req.RegisterID)
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	if req.CompanyID == "" || req.BranchID == "" {
		return domain.ShiftResponse{}, validationError("", "company_id and branch_id are required")
	}
	if req.RegisterID == "" || req.EmployeeID == "" {
		return domain.ShiftResponse{}, validationError("", "register_id and employee_id are required")
	}
	if err := validateDenominations("", req.OpeningCash); err != nil {
		return domain.ShiftResponse{}, err
	}

	openingCash := domain.NewCashCount(req.OpeningCash)
	balances, err := openingBalances(req.AccountBalances, openingCash.Total)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	now := s.now()
	shift := domain.ShiftSession{
		ID:                  xid.New("shift"),
		CompanyID:           req.CompanyID,
		BranchID:            req.BranchID,
		RegisterID:          req.RegisterID,
		EmployeeID:          req.EmployeeID,
		Status:              domain.ShiftStatusActive,
		OpenedAt:            now,
		DeclaredOpeningCash: openingCash,
		OpeningCashTotal:    openingCash.Total,
		AccountBalances:     balances,
		LinkedAccounts:      normalizeLinkedAccounts(req.LinkedAccounts),
		OpeningNotes:        strings.TrimSpace(req.Notes),
		TotalSales:          decimal.Zero,
		TotalRefunds:        decimal.Zero,
		TotalPayIns:         decimal.Zero,
		TotalPayOuts:        decimal.Zero,
		TotalCashDrops:      decimal.Zero,
		TotalNonCash:        decimal.Zero,
		NetCashFlow:         openingCash.Total,
		UpdatedAt:           now,
	}

	keys := []store.Key{
		store.ShiftKey(shift.ID),
		store.RegisterKey(shift.CompanyID, shift.BranchID, shift.RegisterID),
		store.EmployeeKey(shift.CompanyID, shift.EmployeeID),
	}
	warnings, err := s.run(ctx, shift.ID, keys, func(ctx context.Context, u *unit) error {
		if existing, err := u.tx.FindOpenShiftByRegister(ctx, shift.CompanyID, shift.BranchID, shift.RegisterID); err == nil {
			return &LedgerError{Kind: ErrRegisterBusy, ShiftID: existing.ID, Detail: "register " + shift.RegisterID}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if existing, err := u.tx.FindOpenShiftByEmployee(ctx, shift.CompanyID, shift.EmployeeID); err == nil {
			return &LedgerError{Kind: ErrEmployeeBusy, ShiftID: existing.ID, Detail: "employee " + shift.EmployeeID}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := u.tx.InsertShift(ctx, shift); err != nil {
			return err
		}
		return u.record(ctx, &shift, domain.AuditShiftOpen, "shift", shift.ID, map[string]any{
			"register_id":        shift.RegisterID,
			"employee_id":        shift.EmployeeID,
			"opening_cash_total": shift.OpeningCashTotal,
			"linked_accounts":    shift.LinkedAccounts,
		})
	})
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	return domain.ShiftResponse{Shift: shift, Warnings: warnings}, nil
}

func (s *Service) SuspendShift(ctx context.Context, req domain.SuspendShiftRequest) (domain.ShiftResponse, error) {
	shiftID, err := requireShiftID(req.ShiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	var saved domain.ShiftSession
	warnings, err := s.run(ctx, shiftID, []store.Key{store.ShiftKey(shiftID)}, func(ctx context.Context, u *unit) error {
		shift, err := loadShift(ctx, u.tx, shiftID)
		if err != nil {
			return err
		}
		if err := requireActive(shift); err != nil {
			return err
		}

		now := s.now()
		shift.Status = domain.ShiftStatusSuspended
		shift.SuspendedAt = &now
		shift.SuspendReason = strings.TrimSpace(req.Reason)
		shift.UpdatedAt = now
		if err := u.tx.UpdateShift(ctx, *shift); err != nil {
			return err
		}
		saved = *shift
		return u.record(ctx, shift, domain.AuditShiftSuspend, "shift", shift.ID, map[string]string{"reason": shift.SuspendReason})
	})
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: saved, Warnings: warnings}, nil
}

func (s *Service) ResumeShift(ctx context.Context, shiftID string) (domain.ShiftResponse, error) {
	shiftID, err := requireShiftID(shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	var saved domain.ShiftSession
	warnings, err := s.run(ctx, shiftID, []store.Key{store.ShiftKey(shiftID)}, func(ctx context.Context, u *unit) error {
		shift, err := loadShift(ctx, u.tx, shiftID)
		if err != nil {
			return err
		}
		if shift.Status != domain.ShiftStatusSuspended {
			return &LedgerError{Kind: ErrShiftNotActive, ShiftID: shift.ID, Detail: "only a suspended shift can resume, status is " + string(shift.Status)}
		}

		shift.Status = domain.ShiftStatusActive
		shift.SuspendedAt = nil
		shift.SuspendReason = ""
		shift.UpdatedAt = s.now()
		if err := u.tx.UpdateShift(ctx, *shift); err != nil {
			return err
		}
		saved = *shift
		return u.record(ctx, shift, domain.AuditShiftResume, "shift", shift.ID, nil)
	})
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: saved, Warnings: warnings}, nil
}

func (s *Service) CloseShift(ctx context.Context, req domain.CloseShiftRequest) (domain.ShiftResponse, error) {
	shiftID, err := requireShiftID(req.ShiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if err := validateDenominations(shiftID, req.ClosingCash); err != nil {
		return domain.ShiftResponse{}, err
	}
	closingCash := domain.NewCashCount(req.ClosingCash)

	var saved domain.ShiftSession
	warnings, err := s.run(ctx, shiftID, []store.Key{store.ShiftKey(shiftID)}, func(ctx context.Context, u *unit) error {
		shift, err := loadShift(ctx, u.tx, shiftID)
		if err != nil {
			return err
		}
		if !shift.Status.IsOpen() {
			return &LedgerError{Kind: ErrShiftNotActive, ShiftID: shift.ID, Detail: "shift is already closed"}
		}
		if err := validateDeclaredAccounts(shift, req.AccountBalances); err != nil {
			return err
		}

		summary := s.policy.Reconcile(shift, closingCash.Total, req.AccountBalances)
		now := s.now()
		shift.Status = domain.ShiftStatusClosed
		shift.ClosedAt = &now
		shift.DeclaredClosingCash = &closingCash
		shift.ClosingCashTotal = closingCash.Total
		shift.ExpectedCash = summary.ExpectedCash
		shift.CashVariance = summary.Cash.Variance
		shift.VarianceCategory = summary.Cash.Category
		shift.RequiresReview = summary.RequiresReview
		shift.AccountBalances = summary.Accounts
		shift.ClosingNotes = strings.TrimSpace(req.Notes)
		shift.ApprovedBy = strings.TrimSpace(req.ApprovedBy)
		shift.SuspendedAt = nil
		shift.SuspendReason = ""
		shift.UpdatedAt = now
		if err := u.tx.UpdateShift(ctx, *shift); err != nil {
			return err
		}
		saved = *shift
		return u.record(ctx, shift, domain.AuditShiftClose, "shift", shift.ID, map[string]any{
			"expected_cash":     summary.ExpectedCash,
			"closing_cash":      summary.ClosingCashTotal,
			"cash_variance":     summary.Cash.Variance,
			"variance_category": summary.Cash.Category,
			"aggregate":         summary.Aggregate,
			"requires_review":   summary.RequiresReview,
			"approved_by":       shift.ApprovedBy,
		})
	})
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: saved, Warnings: warnings}, nil
}

func (s *Service) PreviewClose(ctx context.Context, req domain.CloseShiftRequest) (domain.ClosePreviewResponse, error) {
	shiftID, err := requireShiftID(req.ShiftID)
	if err != nil {
		return domain.ClosePreviewResponse{}, err
	}
	if err := validateDenominations(shiftID, req.ClosingCash); err != nil {
		return domain.ClosePreviewResponse{}, err
	}

	shift, err := s.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ClosePreviewResponse{}, err
	}
	if !shift.Status.IsOpen() {
		return domain.ClosePreviewResponse{}, &LedgerError{Kind: ErrShiftNotActive, ShiftID: shift.ID, Detail: "shift is already closed"}
	}
	if err := validateDeclaredAccounts(&shift, req.AccountBalances); err != nil {
		return domain.ClosePreviewResponse{}, err
	}

	summary := s.policy.Reconcile(&shift, domain.SumDenominations(req.ClosingCash), req.AccountBalances)
	return domain.ClosePreviewResponse{ShiftID: shift.ID, Reconciliation: summary}, nil
}

func (s *Service) ReviewShift(ctx context.Context, req domain.ReviewShiftRequest) (domain.ShiftResponse, error) {
	shiftID, err := requireShiftID(req.ShiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	reviewer := actorName(ctx, req.ReviewedBy)

	var saved domain.ShiftSession
	warnings, err := s.run(ctx, shiftID, []store.Key{store.ShiftKey(shiftID)}, func(ctx context.Context, u *unit) error {
		shift, err := loadShift(ctx, u.tx, shiftID)
		if err != nil {
			return err
		}
		if shift.Status != domain.ShiftStatusClosed {
			return validationError(shift.ID, "only a closed shift can be reviewed")
		}

		now := s.now()
		shift.ReviewedBy = reviewer
		shift.ReviewedAt = &now
		shift.ReviewNotes = strings.TrimSpace(req.Notes)
		shift.UpdatedAt = now
		if err := u.tx.UpdateShift(ctx, *shift); err != nil {
			return err
		}
		saved = *shift
		return u.record(ctx, shift, domain.AuditShiftReview, "shift", shift.ID, map[string]string{
			"reviewed_by": reviewer,
			"notes":       shift.ReviewNotes,
		})
	})
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if err := s.reports.Invalidate(ctx, shiftID); err != nil {
		log.Warn().Err(err).Str("shift_id", shiftID).Msg("report cache invalidate failed")
	}
	return domain.ShiftResponse{Shift: saved, Warnings: warnings}, nil
}

func (s *Service) GetShift(ctx context.Context, shiftID string) (domain.ShiftSession, error) {
	shiftID, err := requireShiftID(shiftID)
	if err != nil {
		return domain.ShiftSession{}, err
	}
	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ShiftSession{}, &LedgerError{Kind: ErrShiftNotFound, ShiftID: shiftID}
		}
		return domain.ShiftSession{}, err
	}
	return *shift, nil
}

func (s *Service) GetOpenShiftForRegister(ctx context.Context, companyID, branchID, registerID string) (domain.ShiftSession, error) {
	companyID = defaultString(companyID, s.defaultCompanyID)
	branchID = defaultString(branchID, s.defaultBranchID)
	if strings.TrimSpace(registerID) == "" {
		return domain.ShiftSession{}, validationError("", "register_id is required")
	}
	shift, err := s.repo.FindOpenShiftByRegister(ctx, companyID, branchID, strings.TrimSpace(registerID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ShiftSession{}, &LedgerError{Kind: ErrShiftNotFound, Detail: "no open shift on register " + registerID}
		}
		return domain.ShiftSession{}, err
	}
	return *shift, nil
}

func validateDenominations(shiftID string, denominations []domain.Denomination) error {
	for _, d := range denominations {
		if d.Kind != domain.DenominationBill && d.Kind != domain.DenominationCoin {
			return validationError(shiftID, "denomination kind must be bill or coin")
		}
		if !d.FaceValue.IsPositive() {
			return withAmount(validationError(shiftID, "denomination face value must be positive"), d.FaceValue)
		}
		if d.Count < 0 {
			return validationError(shiftID, "denomination count must not be negative")
		}
	}
	return nil
}

func openingBalances(declared []domain.OpeningAccountBalance, openingCash decimal.Decimal) (map[string]domain.AccountBalance, error) {
	balances := make(map[string]domain.AccountBalance, len(declared)+1)
	cashExpected := openingCash
	for _, item := range declared {
		id := strings.TrimSpace(item.AccountID)
		if id == "" {
			return nil, validationError("", "account_id is required for every opening balance")
		}
		if _, dup := balances[id]; dup {
			return nil, &LedgerError{Kind: ErrValidation, AccountID: id, Detail: "duplicate opening balance"}
		}
		if id == domain.PhysicalCashAccountID {
			cashExpected = item.ExpectedBalance
			balances[id] = domain.AccountBalance{}
			continue
		}
		accountType := item.AccountType
		if accountType == "" {
			accountType = domain.AccountTypeOther
		}
		balances[id] = domain.AccountBalance{
			AccountID:       id,
			AccountName:     defaultString(item.AccountName, id),
			AccountType:     accountType,
			AllowNegative:   item.AllowNegative,
			OpeningExpected: item.ExpectedBalance,
			OpeningActual:   item.ActualBalance,
			OpeningVariance: item.ActualBalance.Sub(item.ExpectedBalance),
			CurrentBalance:  item.ActualBalance,
		}
	}

	balances[domain.PhysicalCashAccountID] = domain.AccountBalance{
		AccountID:       domain.PhysicalCashAccountID,
		AccountName:     physicalCashName,
		AccountType:     domain.AccountTypeCash,
		OpeningExpected: cashExpected,
		OpeningActual:   openingCash,
		OpeningVariance: openingCash.Sub(cashExpected),
		CurrentBalance:  openingCash,
	}
	return balances, nil
}

func normalizeLinkedAccounts(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func validateDeclaredAccounts(shift *domain.ShiftSession, declared map[string]decimal.Decimal) error {
	for id := range declared {
		if id == domain.PhysicalCashAccountID {
			return &LedgerError{Kind: ErrValidation, ShiftID: shift.ID, AccountID: id, Detail: "physical cash is declared through closing_cash"}
		}
		if _, ok := shift.AccountBalances[id]; !ok {
			return &LedgerError{Kind: ErrValidation, ShiftID: shift.ID, AccountID: id, Detail: "account is not tracked by this shift"}
		}
	}
	return nil
}

func applyCashDelta(shift *domain.ShiftSession, delta decimal.Decimal) {
	shift.NetCashFlow = shift.NetCashFlow.Add(delta)
	if cash, ok := shift.AccountBalances[domain.PhysicalCashAccountID]; ok {
		cash.CurrentBalance = shift.NetCashFlow
		shift.AccountBalances[domain.PhysicalCashAccountID] = cash
	}
}
