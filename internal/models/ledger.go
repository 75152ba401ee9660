package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type LedgerKind string
type AccountStatus string
type LedgerTrxType string

const (
	LedgerCredit   LedgerKind = "credit"
	LedgerKickback LedgerKind = "kickback"
)

const (
	AccountActive        AccountStatus = "ACTIVE"
	AccountSuspended     AccountStatus = "SUSPENDED"
	AccountBlocked       AccountStatus = "BLOCKED"
	AccountPendingReview AccountStatus = "PENDING_REVIEW"
)

const (
	TrxCreditIncrease  LedgerTrxType = "CREDIT_INCREASE"
	TrxCreditDecrease  LedgerTrxType = "CREDIT_DECREASE"
	TrxDebit           LedgerTrxType = "DEBIT"
	TrxPaymentReceived LedgerTrxType = "PAYMENT_RECEIVED"
	TrxRefund          LedgerTrxType = "REFUND"
	TrxAdjustment      LedgerTrxType = "ADJUSTMENT"
)

// ValidLedgerKind reports whether k names one of the two ledgers.
func ValidLedgerKind(k LedgerKind) bool {
	return k == LedgerCredit || k == LedgerKickback
}

// ValidAccountStatus reports whether s is a known account status.
func ValidAccountStatus(s AccountStatus) bool {
	switch s {
	case AccountActive, AccountSuspended, AccountBlocked, AccountPendingReview:
		return true
	}
	return false
}

// LedgerAccount tracks one retailer's balance in one ledger kind. The
// authoritative balance lives on these fields, updated atomically with each
// transaction append. Invariant: Available = Limit - Used. Outstanding and
// payment terms are meaningful for the credit kind only.
type LedgerAccount struct {
	ID         int             `db:"id" json:"id"`
	RetailerID string          `db:"retailer_id" json:"retailerId"`
	Kind       LedgerKind      `db:"kind" json:"kind"`
	Limit      decimal.Decimal `db:"credit_limit" json:"limit"`
	Used       decimal.Decimal `db:"used_amount" json:"used"`
	Available  decimal.Decimal `db:"available_amount" json:"available"`

	Outstanding      decimal.Decimal `db:"outstanding_amount" json:"outstanding"`
	PaymentTermsDays int             `db:"payment_terms_days" json:"paymentTermsDays,omitempty"`
	LastPaymentAt    *time.Time      `db:"last_payment_at" json:"lastPaymentAt,omitempty"`
	NextDueAt        *time.Time      `db:"next_due_at" json:"nextDueAt,omitempty"`

	Status    AccountStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `db:"updated_at" json:"-"`
}

// Consistent checks the balance conservation invariant, including the credit
// ledger's outstanding <= used.
func (a *LedgerAccount) Consistent() bool {
	if !a.Available.Equal(a.Limit.Sub(a.Used)) {
		return false
	}
	if a.Kind == LedgerCredit && a.Outstanding.GreaterThan(a.Used) {
		return false
	}
	return true
}

// UtilizationPercent returns used/limit as a percentage rounded half-up to
// 2 decimal places. Zero limit yields zero.
func (a *LedgerAccount) UtilizationPercent() decimal.Decimal {
	if a.Limit.IsZero() {
		return decimal.Zero
	}
	return a.Used.Mul(decimal.NewFromInt(100)).DivRound(a.Limit, 4).Round(2)
}

// LedgerTransaction is one immutable entry in an account's append-only audit
// trail. BalanceAfter snapshots the available amount after the operation.
type LedgerTransaction struct {
	ID           int             `db:"id" json:"id"`
	AccountID    int             `db:"account_id" json:"-"`
	Type         LedgerTrxType   `db:"type" json:"type"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balanceAfter"`
	OrderID      *string         `db:"order_id" json:"orderId,omitempty"`
	OperatorID   *string         `db:"operator_id" json:"operatorId,omitempty"`
	Description  string          `db:"description" json:"description,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
}
