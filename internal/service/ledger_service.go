package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/GTDGit/gtd_backoffice/internal/models"
	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

// LedgerStore is the persistence contract the ledger service needs.
// Implemented by repository.LedgerRepository; Mutate must run its callback
// under a row lock so read-check-mutate-append is atomic.
type LedgerStore interface {
	CreateAccount(ctx context.Context, acct *models.LedgerAccount, opening *models.LedgerTransaction) error
	GetAccount(ctx context.Context, retailerID string, kind models.LedgerKind) (*models.LedgerAccount, error)
	Mutate(ctx context.Context, retailerID string, kind models.LedgerKind, fn func(acct *models.LedgerAccount) (*models.LedgerTransaction, error)) (*models.LedgerAccount, error)
	History(ctx context.Context, retailerID string, kind models.LedgerKind) ([]models.LedgerTransaction, error)
	ListAccounts(ctx context.Context, kind models.LedgerKind) ([]models.LedgerAccount, error)
	ListPastDueAccounts(ctx context.Context, asOf time.Time, limit int) ([]models.LedgerAccount, error)
}

// LedgerService contains business logic for the credit and kickback ledgers.
// Every balance change appends exactly one transaction in the same storage
// transaction that updates the account row.
type LedgerService struct {
	accounts LedgerStore
}

// NewLedgerService constructs a LedgerService.
func NewLedgerService(accounts LedgerStore) *LedgerService {
	return &LedgerService{accounts: accounts}
}

// Open creates a retailer's account in one ledger kind with an initial limit.
// The opening limit is recorded as the account's first CREDIT_INCREASE entry.
func (s *LedgerService) Open(ctx context.Context, retailerID string, kind models.LedgerKind, initialLimit decimal.Decimal, paymentTermsDays int, operatorID string) (*models.LedgerAccount, error) {
	if !models.ValidLedgerKind(kind) {
		return nil, utils.ErrInvalidState
	}
	if initialLimit.IsNegative() {
		return nil, utils.ErrInvalidAmount
	}
	if kind != models.LedgerCredit {
		paymentTermsDays = 0
	}

	acct := &models.LedgerAccount{
		RetailerID:       retailerID,
		Kind:             kind,
		Limit:            initialLimit,
		PaymentTermsDays: paymentTermsDays,
	}
	opening := &models.LedgerTransaction{
		Type:         models.TrxCreditIncrease,
		Amount:       initialLimit,
		BalanceAfter: initialLimit,
		OperatorID:   &operatorID,
		Description:  "Account opened",
	}
	if err := s.accounts.CreateAccount(ctx, acct, opening); err != nil {
		return nil, err
	}

	log.Info().
		Str("retailer_id", retailerID).
		Str("kind", string(kind)).
		Str("limit", initialLimit.String()).
		Msg("Ledger account opened")
	return acct, nil
}

// AdjustLimit raises or lowers an account's limit by delta and recomputes the
// available amount from the invariant available = limit - used. Lowering the
// limit below the used amount is rejected so available never goes negative.
func (s *LedgerService) AdjustLimit(ctx context.Context, retailerID string, kind models.LedgerKind, delta decimal.Decimal, operatorID, description string) (*models.LedgerAccount, error) {
	if delta.IsZero() {
		return nil, utils.ErrInvalidAmount
	}
	return s.accounts.Mutate(ctx, retailerID, kind, func(acct *models.LedgerAccount) (*models.LedgerTransaction, error) {
		newLimit := acct.Limit.Add(delta)
		if newLimit.IsNegative() || newLimit.LessThan(acct.Used) {
			return nil, utils.ErrInvalidAmount
		}
		acct.Limit = newLimit
		acct.Available = acct.Limit.Sub(acct.Used)

		trxType := models.TrxCreditIncrease
		if delta.IsNegative() {
			trxType = models.TrxCreditDecrease
		}
		return &models.LedgerTransaction{
			Type:         trxType,
			Amount:       delta.Abs(),
			BalanceAfter: acct.Available,
			OperatorID:   &operatorID,
			Description:  description,
		}, nil
	})
}

// Debit consumes balance for an order. Rejected with ErrInsufficientBalance
// when the amount exceeds the available balance; the account is left
// untouched and nothing is appended. Only ACTIVE accounts can be debited.
func (s *LedgerService) Debit(ctx context.Context, retailerID string, kind models.LedgerKind, amount decimal.Decimal, orderID, description string) (*models.LedgerAccount, error) {
	if !amount.IsPositive() {
		return nil, utils.ErrInvalidAmount
	}
	acct, err := s.accounts.Mutate(ctx, retailerID, kind, func(acct *models.LedgerAccount) (*models.LedgerTransaction, error) {
		if acct.Status != models.AccountActive {
			return nil, utils.ErrInvalidState
		}
		if amount.GreaterThan(acct.Available) {
			return nil, utils.ErrInsufficientBalance
		}
		acct.Used = acct.Used.Add(amount)
		acct.Available = acct.Limit.Sub(acct.Used)
		if acct.Kind == models.LedgerCredit {
			acct.Outstanding = acct.Outstanding.Add(amount)
			if acct.NextDueAt == nil && acct.PaymentTermsDays > 0 {
				due := time.Now().AddDate(0, 0, acct.PaymentTermsDays)
				acct.NextDueAt = &due
			}
		}
		return &models.LedgerTransaction{
			Type:         models.TrxDebit,
			Amount:       amount,
			BalanceAfter: acct.Available,
			OrderID:      &orderID,
			Description:  description,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("retailer_id", retailerID).
		Str("kind", string(kind)).
		Str("amount", amount.String()).
		Str("order_id", orderID).
		Msg("Ledger debited")
	return acct, nil
}

// ReceivePayment records a payment against the credit ledger. Used and
// outstanding decrease (floored at zero) and the due date moves out by the
// account's payment terms. Payments are accepted in any account status so a
// suspended retailer can still pay down debt.
func (s *LedgerService) ReceivePayment(ctx context.Context, retailerID string, amount decimal.Decimal, operatorID, description string) (*models.LedgerAccount, error) {
	if !amount.IsPositive() {
		return nil, utils.ErrInvalidAmount
	}
	acct, err := s.accounts.Mutate(ctx, retailerID, models.LedgerCredit, func(acct *models.LedgerAccount) (*models.LedgerTransaction, error) {
		acct.Used = floorZero(acct.Used.Sub(amount))
		acct.Outstanding = floorZero(acct.Outstanding.Sub(amount))
		acct.Available = acct.Limit.Sub(acct.Used)

		now := time.Now()
		acct.LastPaymentAt = &now
		if acct.Outstanding.IsZero() {
			acct.NextDueAt = nil
		} else if acct.PaymentTermsDays > 0 {
			due := now.AddDate(0, 0, acct.PaymentTermsDays)
			acct.NextDueAt = &due
		}
		return &models.LedgerTransaction{
			Type:         models.TrxPaymentReceived,
			Amount:       amount,
			BalanceAfter: acct.Available,
			OperatorID:   &operatorID,
			Description:  description,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("retailer_id", retailerID).
		Str("amount", amount.String()).
		Msg("Payment received")
	return acct, nil
}

// Refund returns a previously debited amount, e.g. after a failed topup.
// Used decreases (floored at zero) and the amount becomes available again.
func (s *LedgerService) Refund(ctx context.Context, retailerID string, kind models.LedgerKind, amount decimal.Decimal, orderID, operatorID, description string) (*models.LedgerAccount, error) {
	if !amount.IsPositive() {
		return nil, utils.ErrInvalidAmount
	}
	acct, err := s.accounts.Mutate(ctx, retailerID, kind, func(acct *models.LedgerAccount) (*models.LedgerTransaction, error) {
		acct.Used = floorZero(acct.Used.Sub(amount))
		if acct.Kind == models.LedgerCredit {
			acct.Outstanding = floorZero(acct.Outstanding.Sub(amount))
		}
		acct.Available = acct.Limit.Sub(acct.Used)
		return &models.LedgerTransaction{
			Type:         models.TrxRefund,
			Amount:       amount,
			BalanceAfter: acct.Available,
			OrderID:      &orderID,
			OperatorID:   &operatorID,
			Description:  description,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("retailer_id", retailerID).
		Str("kind", string(kind)).
		Str("amount", amount.String()).
		Str("order_id", orderID).
		Msg("Ledger refunded")
	return acct, nil
}

// SetStatus changes an account's lifecycle status. Status changes affect
// future operations only; no transaction is appended.
func (s *LedgerService) SetStatus(ctx context.Context, retailerID string, kind models.LedgerKind, status models.AccountStatus) (*models.LedgerAccount, error) {
	if !models.ValidAccountStatus(status) {
		return nil, utils.ErrInvalidState
	}
	acct, err := s.accounts.Mutate(ctx, retailerID, kind, func(acct *models.LedgerAccount) (*models.LedgerTransaction, error) {
		acct.Status = status
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("retailer_id", retailerID).
		Str("kind", string(kind)).
		Str("status", string(status)).
		Msg("Ledger account status changed")
	return acct, nil
}

// HasSufficientBalance is the pre-check used before committing an order.
// Advisory only; the authoritative check happens inside Debit.
func (s *LedgerService) HasSufficientBalance(ctx context.Context, retailerID string, kind models.LedgerKind, amount decimal.Decimal) (bool, error) {
	acct, err := s.accounts.GetAccount(ctx, retailerID, kind)
	if err != nil {
		return false, err
	}
	if acct.Status != models.AccountActive {
		return false, nil
	}
	return !amount.GreaterThan(acct.Available), nil
}

// AccountSnapshot is the account plus its derived utilization.
type AccountSnapshot struct {
	*models.LedgerAccount
	UtilizationPercent decimal.Decimal `json:"utilizationPercent"`
}

// Snapshot returns the current account state with utilization.
func (s *LedgerService) Snapshot(ctx context.Context, retailerID string, kind models.LedgerKind) (*AccountSnapshot, error) {
	acct, err := s.accounts.GetAccount(ctx, retailerID, kind)
	if err != nil {
		return nil, err
	}
	return &AccountSnapshot{LedgerAccount: acct, UtilizationPercent: acct.UtilizationPercent()}, nil
}

// History returns the account's full append-only transaction log.
func (s *LedgerService) History(ctx context.Context, retailerID string, kind models.LedgerKind) ([]models.LedgerTransaction, error) {
	return s.accounts.History(ctx, retailerID, kind)
}

// ListAccounts returns all accounts of one kind.
func (s *LedgerService) ListAccounts(ctx context.Context, kind models.LedgerKind) ([]models.LedgerAccount, error) {
	if !models.ValidLedgerKind(kind) {
		return nil, utils.ErrInvalidState
	}
	return s.accounts.ListAccounts(ctx, kind)
}

// FlagPastDue moves overdue credit accounts to PENDING_REVIEW and returns how
// many were flagged. Called by the payment-due worker.
func (s *LedgerService) FlagPastDue(ctx context.Context, asOf time.Time, batchSize int) (int, error) {
	overdue, err := s.accounts.ListPastDueAccounts(ctx, asOf, batchSize)
	if err != nil {
		return 0, err
	}
	flagged := 0
	for i := range overdue {
		if _, err := s.SetStatus(ctx, overdue[i].RetailerID, models.LedgerCredit, models.AccountPendingReview); err != nil {
			log.Error().Err(err).Str("retailer_id", overdue[i].RetailerID).Msg("Failed to flag past-due account")
			continue
		}
		log.Warn().
			Str("retailer_id", overdue[i].RetailerID).
			Str("outstanding", overdue[i].Outstanding.String()).
			Time("due_at", *overdue[i].NextDueAt).
			Msg("Credit account past due")
		flagged++
	}
	return flagged, nil
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
