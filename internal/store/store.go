package store

import (
	"context"
	"errors"
	"sort"

	"shiftledger/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStoreContention means the atomic unit could not commit because of
	// concurrent writers. Nothing from the unit was applied; retry from scratch.
	ErrStoreContention = errors.New("store contention")
	// ErrUnsupportedQuery is returned when a backend cannot serve the requested
	// query shape (for example ordering without a supporting index).
	ErrUnsupportedQuery = errors.New("unsupported query shape")
	ErrConflict         = errors.New("conflict")
)

// Key names a document an atomic unit reads and writes. Implementations
// serialize units whose key sets intersect.
type Key string

func ShiftKey(shiftID string) Key {
	return Key("shift:" + shiftID)
}

func RegisterKey(companyID, branchID, registerID string) Key {
	return Key("register:" + companyID + "/" + branchID + "/" + registerID)
}

func EmployeeKey(companyID, employeeID string) Key {
	return Key("employee:" + companyID + "/" + employeeID)
}

func TransactionKey(transactionID string) Key {
	return Key("transaction:" + transactionID)
}

func AccountKey(companyID, accountID string) Key {
	return Key("account:" + companyID + "/" + accountID)
}

func IdempotencyKey(key string) Key {
	return Key("idem:" + key)
}

// SortKeys returns a sorted, de-duplicated copy so locks are always taken in
// the same order.
func SortKeys(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tx is the view of the store inside one atomic unit. Writes become visible to
// other units only when the unit's function returns nil.
type Tx interface {
	GetShift(ctx context.Context, shiftID string) (*domain.ShiftSession, error)
	FindOpenShiftByRegister(ctx context.Context, companyID, branchID, registerID string) (*domain.ShiftSession, error)
	FindOpenShiftByEmployee(ctx context.Context, companyID, employeeID string) (*domain.ShiftSession, error)
	InsertShift(ctx context.Context, shift domain.ShiftSession) error
	UpdateShift(ctx context.Context, shift domain.ShiftSession) error

	GetTransaction(ctx context.Context, transactionID string) (*domain.RegisterTransaction, error)
	FindTransactionByIdempotency(ctx context.Context, key string) (*domain.RegisterTransaction, error)
	InsertTransaction(ctx context.Context, tx domain.RegisterTransaction) error
	MarkTransactionVoided(ctx context.Context, tx domain.RegisterTransaction) error

	InsertCashDrop(ctx context.Context, drop domain.CashDrop) error
	InsertCashAdjustment(ctx context.Context, adjustment domain.CashAdjustment) error
	InsertAccountMovement(ctx context.Context, movement domain.AccountMovement) error

	// AppendAuditLog assigns Sequence and a server timestamp and returns the
	// stored entry.
	AppendAuditLog(ctx context.Context, entry domain.AuditLog) (domain.AuditLog, error)
}

type TransactionQuery struct {
	ShiftID string
	// Ordered asks for ascending timestamp order. Backends that cannot serve it
	// return ErrUnsupportedQuery.
	Ordered       bool
	IncludeVoided bool
	Limit         int
}

type Repository interface {
	// WithAtomicUpdate runs fn as one read-modify-write unit scoped to keys.
	// Either every write fn made through tx commits or none do.
	WithAtomicUpdate(ctx context.Context, keys []Key, fn func(ctx context.Context, tx Tx) error) error

	GetShift(ctx context.Context, shiftID string) (*domain.ShiftSession, error)
	FindOpenShiftByRegister(ctx context.Context, companyID, branchID, registerID string) (*domain.ShiftSession, error)
	GetTransaction(ctx context.Context, transactionID string) (*domain.RegisterTransaction, error)
	ListTransactions(ctx context.Context, query TransactionQuery) ([]domain.RegisterTransaction, error)
	ListCashDrops(ctx context.Context, shiftID string) ([]domain.CashDrop, error)
	ListCashAdjustments(ctx context.Context, shiftID string) ([]domain.CashAdjustment, error)
	ListAccountMovements(ctx context.Context, shiftID string, accountID string) ([]domain.AccountMovement, error)
	ListAuditLogs(ctx context.Context, shiftID string, limit int) ([]domain.AuditLog, error)
}
