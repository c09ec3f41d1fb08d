package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"shiftledger/backend/internal/audit"
	"shiftledger/backend/internal/store"
)

var (
	ErrRegisterBusy        = errors.New("register already has an open shift")
	ErrEmployeeBusy        = errors.New("employee already has an open shift")
	ErrShiftNotFound       = errors.New("shift not found")
	ErrShiftNotActive      = errors.New("shift not active")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadyVoided       = errors.New("transaction already voided")
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrStoreContention     = store.ErrStoreContention
	ErrAuditWriteFailed    = audit.ErrWriteFailed
)

// LedgerError carries the context a caller needs to render an actionable
// message. errors.Is matches it against its Kind.
type LedgerError struct {
	Kind          error
	ShiftID       string
	AccountID     string
	TransactionID string
	Amount        decimal.NullDecimal
	Detail        string
}

func (e *LedgerError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	parts := make([]string, 0, 4)
	if e.ShiftID != "" {
		parts = append(parts, "shift="+e.ShiftID)
	}
	if e.AccountID != "" {
		parts = append(parts, "account="+e.AccountID)
	}
	if e.TransactionID != "" {
		parts = append(parts, "transaction="+e.TransactionID)
	}
	if e.Amount.Valid {
		parts = append(parts, "amount="+e.Amount.Decimal.String())
	}
	if len(parts) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, " "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *LedgerError) Unwrap() error {
	return e.Kind
}

func validationError(shiftID string, format string, args ...any) *LedgerError {
	return &LedgerError{Kind: ErrValidation, ShiftID: shiftID, Detail: fmt.Sprintf(format, args...)}
}

func withAmount(err *LedgerError, amount decimal.Decimal) *LedgerError {
	err.Amount = decimal.NewNullDecimal(amount)
	return err
}

// translateStoreError maps storage failures that escape an atomic unit onto
// ledger kinds. Ledger errors raised inside the unit pass through.
func translateStoreError(err error, shiftID string) error {
	if err == nil {
		return nil
	}
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrStoreContention), errors.Is(err, store.ErrConflict):
		// A conflict means another writer won the race; re-running the unit
		// sees its result.
		return &LedgerError{Kind: ErrStoreContention, ShiftID: shiftID, Detail: err.Error()}
	default:
		return err
	}
}
