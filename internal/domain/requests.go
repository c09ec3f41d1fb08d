package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OpeningAccountBalance struct {
	AccountID       string          `json:"account_id"`
	AccountName     string          `json:"account_name"`
	AccountType     AccountType     `json:"account_type"`
	AllowNegative   bool            `json:"allow_negative"`
	ExpectedBalance decimal.Decimal `json:"expected_balance"`
	ActualBalance   decimal.Decimal `json:"actual_balance"`
}

type OpenShiftRequest struct {
	CompanyID       string                  `json:"company_id"`
	BranchID        string                  `json:"branch_id"`
	RegisterID      string                  `json:"register_id"`
	EmployeeID      string                  `json:"employee_id"`
	OpeningCash     []Denomination          `json:"opening_cash"`
	AccountBalances []OpeningAccountBalance `json:"account_balances"`
	LinkedAccounts  []string                `json:"linked_accounts"`
	Notes           string                  `json:"notes"`
}

type SuspendShiftRequest struct {
	ShiftID string `json:"shift_id"`
	Reason  string `json:"reason"`
}

type CloseShiftRequest struct {
	ShiftID         string                     `json:"shift_id"`
	ClosingCash     []Denomination             `json:"closing_cash"`
	AccountBalances map[string]decimal.Decimal `json:"account_balances"`
	Notes           string                     `json:"notes"`
	ApprovedBy      string                     `json:"approved_by,omitempty"`
	ManagerPIN      string                     `json:"manager_pin,omitempty"`
}

type ReviewShiftRequest struct {
	ShiftID    string `json:"shift_id"`
	ReviewedBy string `json:"reviewed_by"`
	Notes      string `json:"notes"`
}

type ShiftResponse struct {
	Shift    ShiftSession `json:"shift"`
	Warnings []string     `json:"warnings,omitempty"`
}

type RecordTransactionRequest struct {
	ShiftID        string          `json:"shift_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Type           TransactionType `json:"type"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaymentMethods PaymentMethods  `json:"payment_methods"`
	PerformedBy    string          `json:"performed_by"`
	CustomerRef    string          `json:"customer_ref,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

type TransactionResponse struct {
	Transaction RegisterTransaction `json:"transaction"`
	Duplicate   bool                `json:"duplicate"`
	Warnings    []string            `json:"warnings,omitempty"`
}

type VoidTransactionRequest struct {
	TransactionID string `json:"transaction_id"`
	VoidedBy      string `json:"voided_by"`
	Reason        string `json:"reason"`
	ApprovedBy    string `json:"approved_by,omitempty"`
	ManagerPIN    string `json:"manager_pin,omitempty"`
}

type CashDropRequest struct {
	ShiftID       string          `json:"shift_id"`
	Amount        decimal.Decimal `json:"amount"`
	Denominations []Denomination  `json:"denominations"`
	PerformedBy   string          `json:"performed_by"`
	SafeID        string          `json:"safe_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	WitnessedBy   string          `json:"witnessed_by,omitempty"`
}

type CashDropResponse struct {
	CashDrop CashDrop `json:"cash_drop"`
	Warnings []string `json:"warnings,omitempty"`
}

type CashAdjustmentRequest struct {
	ShiftID      string          `json:"shift_id"`
	Type         AdjustmentType  `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
	AuthorizedBy string          `json:"authorized_by"`
	PerformedBy  string          `json:"performed_by"`
}

type CashAdjustmentResponse struct {
	Adjustment CashAdjustment `json:"adjustment"`
	Warnings   []string       `json:"warnings,omitempty"`
}

type AccountMovementRequest struct {
	ShiftID       string          `json:"shift_id"`
	AccountID     string          `json:"account_id"`
	AccountName   string          `json:"account_name"`
	MovementType  MovementType    `json:"movement_type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Reference     string          `json:"reference,omitempty"`
	Description   string          `json:"description,omitempty"`
	PerformedBy   string          `json:"performed_by"`
}

type AccountMovementResponse struct {
	Movement AccountMovement `json:"movement"`
	Warnings []string        `json:"warnings,omitempty"`
}

type TransferRequest struct {
	ShiftID       string          `json:"shift_id"`
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reference     string          `json:"reference,omitempty"`
	Description   string          `json:"description,omitempty"`
	PerformedBy   string          `json:"performed_by"`
}

type TransferResponse struct {
	TransferID string          `json:"transfer_id"`
	Debit      AccountMovement `json:"debit"`
	Credit     AccountMovement `json:"credit"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// VarianceResult is the outcome of comparing one declared balance to its
// expected value.
type VarianceResult struct {
	Variance decimal.Decimal  `json:"variance"`
	Category VarianceCategory `json:"category"`
}

type AggregateVariance struct {
	TotalExpected decimal.Decimal `json:"total_expected"`
	TotalActual   decimal.Decimal `json:"total_actual"`
	TotalVariance decimal.Decimal `json:"total_variance"`
}

type ReconciliationSummary struct {
	ExpectedCash     decimal.Decimal           `json:"expected_cash"`
	ClosingCashTotal decimal.Decimal           `json:"closing_cash_total"`
	Cash             VarianceResult            `json:"cash"`
	Accounts         map[string]AccountBalance `json:"accounts"`
	Aggregate        AggregateVariance         `json:"aggregate"`
	RequiresReview   bool                      `json:"requires_review"`
}

type ClosePreviewResponse struct {
	ShiftID        string                `json:"shift_id"`
	Reconciliation ReconciliationSummary `json:"reconciliation"`
}

type TransactionTotals struct {
	Count   int             `json:"count"`
	Sales   decimal.Decimal `json:"sales"`
	Refunds decimal.Decimal `json:"refunds"`
	PayIns  decimal.Decimal `json:"pay_ins"`
	PayOuts decimal.Decimal `json:"pay_outs"`
	Cash    decimal.Decimal `json:"cash_net"`
	// ByTender sums each tender with inflows positive and outflows negative.
	ByTender map[TenderKind]decimal.Decimal `json:"by_tender"`
}

type ShiftReport struct {
	Shift            ShiftSession           `json:"shift"`
	Gross            TransactionTotals      `json:"gross"`
	Net              TransactionTotals      `json:"net"`
	VoidedCount      int                    `json:"voided_count"`
	CashDropCount    int                    `json:"cash_drop_count"`
	AdjustmentCount  int                    `json:"adjustment_count"`
	MovementCount    int                    `json:"movement_count"`
	Reconciliation   *ReconciliationSummary `json:"reconciliation,omitempty"`
	ConservationHeld bool                   `json:"conservation_held"`
	GeneratedAt      time.Time              `json:"generated_at"`
}

// ShiftEvent is published on the change feed after every committed mutation.
type ShiftEvent struct {
	ShiftID    string       `json:"shift_id"`
	Action     AuditAction  `json:"action"`
	EntityID   string       `json:"entity_id,omitempty"`
	Shift      ShiftSession `json:"shift"`
	OccurredAt time.Time    `json:"occurred_at"`
}
