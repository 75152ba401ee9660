package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/GTDGit/gtd_backoffice/internal/models"
	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

// LedgerRepository handles data access for ledger accounts and their
// append-only transaction logs. Balance fields and the log are mutated only
// through Mutate, which holds a row lock for the duration of the operation:
// read-check-mutate-append is one transaction, so concurrent debits cannot
// lose updates.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// CreateAccount inserts a new account together with its opening transaction.
// The UNIQUE (retailer_id, kind) constraint enforces one account per retailer
// per ledger.
func (r *LedgerRepository) CreateAccount(ctx context.Context, acct *models.LedgerAccount, opening *models.LedgerTransaction) error {
	err := runInTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const q = `
            INSERT INTO ledger_accounts (
                retailer_id, kind, credit_limit, used_amount, available_amount,
                outstanding_amount, payment_terms_days, status
            ) VALUES ($1,$2,$3,0,$3,0,$4,'ACTIVE')
            RETURNING id, used_amount, available_amount, outstanding_amount, status, created_at, updated_at`

		if err := tx.QueryRowxContext(ctx, q,
			acct.RetailerID, acct.Kind, acct.Limit, acct.PaymentTermsDays,
		).Scan(&acct.ID, &acct.Used, &acct.Available, &acct.Outstanding, &acct.Status, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return err
		}

		opening.AccountID = acct.ID
		return r.appendTransaction(ctx, tx, opening)
	})
	if isUniqueViolation(err) {
		return utils.ErrAccountExists
	}
	return err
}

// GetAccount returns the account for (retailerID, kind).
func (r *LedgerRepository) GetAccount(ctx context.Context, retailerID string, kind models.LedgerKind) (*models.LedgerAccount, error) {
	const q = `SELECT * FROM ledger_accounts WHERE retailer_id = $1 AND kind = $2 LIMIT 1`
	var a models.LedgerAccount
	if err := r.db.GetContext(ctx, &a, q, retailerID, kind); err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Mutate runs fn against the locked account row. fn validates the operation,
// updates the balance fields in place, and returns the transaction to append
// (or nil for pure status changes). Commit persists both atomically; any
// error rolls everything back so no partial counter updates or orphaned log
// entries survive.
func (r *LedgerRepository) Mutate(ctx context.Context, retailerID string, kind models.LedgerKind, fn func(acct *models.LedgerAccount) (*models.LedgerTransaction, error)) (*models.LedgerAccount, error) {
	var result models.LedgerAccount

	err := runInTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var acct models.LedgerAccount
		const lockQ = `SELECT * FROM ledger_accounts WHERE retailer_id = $1 AND kind = $2 FOR UPDATE`
		if err := tx.GetContext(ctx, &acct, lockQ, retailerID, kind); err != nil {
			if err == sql.ErrNoRows {
				return utils.ErrAccountNotFound
			}
			return err
		}

		trx, err := fn(&acct)
		if err != nil {
			return err
		}

		const updQ = `
            UPDATE ledger_accounts SET
                credit_limit = $2,
                used_amount = $3,
                available_amount = $4,
                outstanding_amount = $5,
                last_payment_at = $6,
                next_due_at = $7,
                status = $8,
                updated_at = NOW()
            WHERE id = $1`
		if _, err := tx.ExecContext(ctx, updQ,
			acct.ID, acct.Limit, acct.Used, acct.Available, acct.Outstanding,
			acct.LastPaymentAt, acct.NextDueAt, acct.Status,
		); err != nil {
			return err
		}

		if trx != nil {
			trx.AccountID = acct.ID
			if err := r.appendTransaction(ctx, tx, trx); err != nil {
				return err
			}
		}

		result = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// History returns the full append-only log for an account in insertion order.
func (r *LedgerRepository) History(ctx context.Context, retailerID string, kind models.LedgerKind) ([]models.LedgerTransaction, error) {
	acct, err := r.GetAccount(ctx, retailerID, kind)
	if err != nil {
		return nil, err
	}
	const q = `SELECT * FROM ledger_transactions WHERE account_id = $1 ORDER BY id ASC`
	var list []models.LedgerTransaction
	if err := r.db.SelectContext(ctx, &list, q, acct.ID); err != nil {
		return nil, err
	}
	return list, nil
}

// ListAccounts returns accounts of one kind, newest first.
func (r *LedgerRepository) ListAccounts(ctx context.Context, kind models.LedgerKind) ([]models.LedgerAccount, error) {
	const q = `SELECT * FROM ledger_accounts WHERE kind = $1 ORDER BY created_at DESC`
	var list []models.LedgerAccount
	if err := r.db.SelectContext(ctx, &list, q, kind); err != nil {
		return nil, err
	}
	return list, nil
}

// ListPastDueAccounts returns ACTIVE credit accounts whose next_due_at has
// passed, for the payment-due worker.
func (r *LedgerRepository) ListPastDueAccounts(ctx context.Context, asOf time.Time, limit int) ([]models.LedgerAccount, error) {
	const q = `
        SELECT * FROM ledger_accounts
        WHERE kind = 'credit'
          AND status = 'ACTIVE'
          AND next_due_at IS NOT NULL
          AND next_due_at < $1
          AND outstanding_amount > 0
        ORDER BY next_due_at ASC
        LIMIT $2`
	var list []models.LedgerAccount
	if err := r.db.SelectContext(ctx, &list, q, asOf, limit); err != nil {
		return nil, err
	}
	return list, nil
}

// appendTransaction inserts one immutable log entry. There is deliberately no
// update or delete path for ledger_transactions anywhere in this repository.
func (r *LedgerRepository) appendTransaction(ctx context.Context, tx *sqlx.Tx, trx *models.LedgerTransaction) error {
	const q = `
        INSERT INTO ledger_transactions (
            account_id, type, amount, balance_after, order_id, operator_id, description
        ) VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at`
	return tx.QueryRowxContext(ctx, q,
		trx.AccountID, trx.Type, trx.Amount, trx.BalanceAfter,
		trx.OrderID, trx.OperatorID, trx.Description,
	).Scan(&trx.ID, &trx.CreatedAt)
}
