package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type ShiftStatus string

const (
	ShiftStatusActive    ShiftStatus = "active"
	ShiftStatusSuspended ShiftStatus = "suspended"
	ShiftStatusClosed    ShiftStatus = "closed"
)

// IsOpen reports whether the shift still holds its register and employee slot.
func (s ShiftStatus) IsOpen() bool {
	return s == ShiftStatusActive || s == ShiftStatusSuspended
}

type VarianceCategory string

const (
	VarianceOver  VarianceCategory = "over"
	VarianceShort VarianceCategory = "short"
	VarianceExact VarianceCategory = "exact"
)

type AccountType string

const (
	AccountTypeCash          AccountType = "cash"
	AccountTypeBank          AccountType = "bank"
	AccountTypeDigitalWallet AccountType = "digital_wallet"
	AccountTypeCardProcessor AccountType = "card_processor"
	AccountTypeOther         AccountType = "other"
)

// PhysicalCashAccountID is the synthetic account that mirrors the drawer.
const PhysicalCashAccountID = "physical_cash"

type DenominationKind string

const (
	DenominationBill DenominationKind = "bill"
	DenominationCoin DenominationKind = "coin"
)

type Denomination struct {
	Kind      DenominationKind `json:"kind"`
	FaceValue decimal.Decimal  `json:"face_value"`
	Count     int              `json:"count"`
}

// CashCount is a denomination breakdown plus its derived total.
type CashCount struct {
	Denominations []Denomination  `json:"denominations"`
	Total         decimal.Decimal `json:"total"`
}

func NewCashCount(denominations []Denomination) CashCount {
	return CashCount{
		Denominations: append([]Denomination(nil), denominations...),
		Total:         SumDenominations(denominations),
	}
}

func SumDenominations(denominations []Denomination) decimal.Decimal {
	total := decimal.Zero
	for _, d := range denominations {
		total = total.Add(d.FaceValue.Mul(decimal.NewFromInt(int64(d.Count))))
	}
	return total
}

type AccountBalance struct {
	AccountID       string          `json:"account_id"`
	AccountName     string          `json:"account_name"`
	AccountType     AccountType     `json:"account_type"`
	AllowNegative   bool            `json:"allow_negative"`
	OpeningExpected decimal.Decimal `json:"opening_expected"`
	OpeningActual   decimal.Decimal `json:"opening_actual"`
	OpeningVariance decimal.Decimal `json:"opening_variance"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	ClosingExpected decimal.Decimal `json:"closing_expected"`
	ClosingActual   decimal.Decimal `json:"closing_actual"`
	ClosingVariance decimal.Decimal `json:"closing_variance"`
}

type ShiftSession struct {
	ID         string      `json:"id"`
	CompanyID  string      `json:"company_id"`
	BranchID   string      `json:"branch_id"`
	RegisterID string      `json:"register_id"`
	EmployeeID string      `json:"employee_id"`
	Status     ShiftStatus `json:"status"`
	OpenedAt   time.Time   `json:"opened_at"`

	DeclaredOpeningCash CashCount                 `json:"declared_opening_cash"`
	DeclaredClosingCash *CashCount                `json:"declared_closing_cash,omitempty"`
	OpeningCashTotal    decimal.Decimal           `json:"opening_cash_total"`
	AccountBalances     map[string]AccountBalance `json:"account_balances"`
	LinkedAccounts      []string                  `json:"linked_accounts"`
	OpeningNotes        string                    `json:"opening_notes,omitempty"`

	TotalSales     decimal.Decimal `json:"total_sales"`
	TotalRefunds   decimal.Decimal `json:"total_refunds"`
	TotalPayIns    decimal.Decimal `json:"total_pay_ins"`
	TotalPayOuts   decimal.Decimal `json:"total_pay_outs"`
	TotalCashDrops decimal.Decimal `json:"total_cash_drops"`
	// TotalNonCash is the signed non-cash tender share of the totals above.
	// It never reaches the drawer.
	TotalNonCash decimal.Decimal `json:"total_non_cash"`
	NetCashFlow  decimal.Decimal `json:"net_cash_flow"`

	SuspendedAt   *time.Time `json:"suspended_at,omitempty"`
	SuspendReason string     `json:"suspend_reason,omitempty"`

	ClosedAt         *time.Time       `json:"closed_at,omitempty"`
	ClosingCashTotal decimal.Decimal  `json:"closing_cash_total"`
	ExpectedCash     decimal.Decimal  `json:"expected_cash"`
	CashVariance     decimal.Decimal  `json:"cash_variance"`
	VarianceCategory VarianceCategory `json:"variance_category,omitempty"`
	RequiresReview   bool             `json:"requires_review"`
	ClosingNotes     string           `json:"closing_notes,omitempty"`
	ApprovedBy       string           `json:"approved_by,omitempty"`

	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsLinked reports whether money may move through accountID on this shift.
func (s *ShiftSession) IsLinked(accountID string) bool {
	for _, id := range s.LinkedAccounts {
		if id == accountID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never share maps or slices with callers.
func (s *ShiftSession) Clone() *ShiftSession {
	if s == nil {
		return nil
	}
	dup := *s
	dup.DeclaredOpeningCash = NewCashCount(s.DeclaredOpeningCash.Denominations)
	dup.DeclaredOpeningCash.Total = s.DeclaredOpeningCash.Total
	if s.DeclaredClosingCash != nil {
		closing := NewCashCount(s.DeclaredClosingCash.Denominations)
		closing.Total = s.DeclaredClosingCash.Total
		dup.DeclaredClosingCash = &closing
	}
	dup.AccountBalances = make(map[string]AccountBalance, len(s.AccountBalances))
	for id, balance := range s.AccountBalances {
		dup.AccountBalances[id] = balance
	}
	dup.LinkedAccounts = append([]string(nil), s.LinkedAccounts...)
	dup.SuspendedAt = cloneTime(s.SuspendedAt)
	dup.ClosedAt = cloneTime(s.ClosedAt)
	dup.ReviewedAt = cloneTime(s.ReviewedAt)
	return &dup
}

type TransactionType string

const (
	TransactionSale   TransactionType = "sale"
	TransactionRefund TransactionType = "refund"
	TransactionPayIn  TransactionType = "pay_in"
	TransactionPayOut TransactionType = "pay_out"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionSale, TransactionRefund, TransactionPayIn, TransactionPayOut:
		return true
	default:
		return false
	}
}

// Inflow reports whether the type adds to the drawer (sales and pay-ins).
func (t TransactionType) Inflow() bool {
	return t == TransactionSale || t == TransactionPayIn
}

type TenderKind string

const (
	TenderCash          TenderKind = "cash"
	TenderCard          TenderKind = "card"
	TenderBankTransfer  TenderKind = "bank_transfer"
	TenderDigitalWallet TenderKind = "digital_wallet"
)

// PaymentMethods is the per-tender breakdown of a transaction total. Cash is
// the only tender that moves the drawer.
type PaymentMethods struct {
	Cash          decimal.Decimal `json:"cash"`
	Card          decimal.Decimal `json:"card"`
	BankTransfer  decimal.Decimal `json:"bank_transfer"`
	DigitalWallet decimal.Decimal `json:"digital_wallet"`
}

type TenderAmount struct {
	Tender TenderKind      `json:"tender"`
	Amount decimal.Decimal `json:"amount"`
}

func (p PaymentMethods) Tenders() []TenderAmount {
	return []TenderAmount{
		{Tender: TenderCash, Amount: p.Cash},
		{Tender: TenderCard, Amount: p.Card},
		{Tender: TenderBankTransfer, Amount: p.BankTransfer},
		{Tender: TenderDigitalWallet, Amount: p.DigitalWallet},
	}
}

func (p PaymentMethods) Total() decimal.Decimal {
	return p.Cash.Add(p.Card).Add(p.BankTransfer).Add(p.DigitalWallet)
}

func (p PaymentMethods) IsZero() bool {
	for _, t := range p.Tenders() {
		if !t.Amount.IsZero() {
			return false
		}
	}
	return true
}

// HasNegative reports whether any tender carries a negative amount.
func (p PaymentMethods) HasNegative() bool {
	for _, t := range p.Tenders() {
		if t.Amount.IsNegative() {
			return true
		}
	}
	return false
}

type RegisterTransaction struct {
	ID             string          `json:"id"`
	ShiftID        string          `json:"shift_id"`
	CompanyID      string          `json:"company_id"`
	BranchID       string          `json:"branch_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Type           TransactionType `json:"type"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentMethods PaymentMethods  `json:"payment_methods"`
	// CashComponent is frozen at creation; a void reverses exactly this value.
	CashComponent decimal.Decimal `json:"cash_component"`
	Timestamp     time.Time       `json:"timestamp"`
	PerformedBy   string          `json:"performed_by"`
	CustomerRef   string          `json:"customer_ref,omitempty"`
	Notes         string          `json:"notes,omitempty"`

	IsVoided       bool       `json:"is_voided"`
	VoidedAt       *time.Time `json:"voided_at,omitempty"`
	VoidedBy       string     `json:"voided_by,omitempty"`
	VoidReason     string     `json:"void_reason,omitempty"`
	VoidApprovedBy string     `json:"void_approved_by,omitempty"`
}

func (t *RegisterTransaction) Clone() *RegisterTransaction {
	if t == nil {
		return nil
	}
	dup := *t
	dup.VoidedAt = cloneTime(t.VoidedAt)
	return &dup
}

type CashDrop struct {
	ID            string          `json:"id"`
	ShiftID       string          `json:"shift_id"`
	Amount        decimal.Decimal `json:"amount"`
	Denominations []Denomination  `json:"denominations,omitempty"`
	DroppedBy     string          `json:"dropped_by"`
	WitnessedBy   string          `json:"witnessed_by,omitempty"`
	SafeID        string          `json:"safe_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

type AdjustmentType string

const (
	AdjustmentPayIn  AdjustmentType = "pay_in"
	AdjustmentPayOut AdjustmentType = "pay_out"
)

type CashAdjustment struct {
	ID           string          `json:"id"`
	ShiftID      string          `json:"shift_id"`
	Type         AdjustmentType  `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
	AuthorizedBy string          `json:"authorized_by"`
	PerformedBy  string          `json:"performed_by"`
	Timestamp    time.Time       `json:"timestamp"`
}

type MovementType string

const (
	MovementTransfer   MovementType = "transfer"
	MovementDeposit    MovementType = "deposit"
	MovementWithdrawal MovementType = "withdrawal"
	MovementAdjustment MovementType = "adjustment"
)

// AccountMovement is a signed entry against a named account: negative debits,
// positive credits. BalanceAfter always equals BalanceBefore + Amount.
type AccountMovement struct {
	ID            string          `json:"id"`
	ShiftID       string          `json:"shift_id"`
	AccountID     string          `json:"account_id"`
	AccountName   string          `json:"account_name"`
	MovementType  MovementType    `json:"movement_type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	TransferID    string          `json:"transfer_id,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Description   string          `json:"description,omitempty"`
	PerformedBy   string          `json:"performed_by"`
	Timestamp     time.Time       `json:"timestamp"`
}

type AuditAction string

const (
	AuditShiftOpen         AuditAction = "shift_open"
	AuditShiftClose        AuditAction = "shift_close"
	AuditShiftSuspend      AuditAction = "shift_suspend"
	AuditShiftResume       AuditAction = "shift_resume"
	AuditShiftReview       AuditAction = "shift_review"
	AuditTransactionCreate AuditAction = "transaction_create"
	AuditTransactionVoid   AuditAction = "transaction_void"
	AuditCashDrop          AuditAction = "cash_drop"
	AuditPayIn             AuditAction = "pay_in"
	AuditPayOut            AuditAction = "pay_out"
	AuditAccountMovement   AuditAction = "account_movement"
)

// AuditLog is append-only. Sequence is assigned by the store and orders
// entries even when timestamps collide.
type AuditLog struct {
	ID         string          `json:"id"`
	Sequence   int64           `json:"sequence"`
	CompanyID  string          `json:"company_id"`
	BranchID   string          `json:"branch_id"`
	ShiftID    string          `json:"shift_id"`
	Action     AuditAction     `json:"action"`
	Actor      string          `json:"actor"`
	ActorRole  string          `json:"actor_role"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
