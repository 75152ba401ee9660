package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/GTDGit/gtd_backoffice/internal/models"
	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

// PoolRepository handles data access for stock pools and their items. It is
// the only writer of pool counters and item states; every item mutation and
// its counter update happen in one transaction.
type PoolRepository struct {
	db *sqlx.DB
}

// NewPoolRepository creates a new PoolRepository.
func NewPoolRepository(db *sqlx.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

// counterColumn maps an item status to the pool counter column tracking it.
// Keys are internal constants, never user input.
var counterColumn = map[models.ItemStatus]string{
	models.ItemAvailable: "available_count",
	models.ItemReserved:  "reserved_count",
	models.ItemAssigned:  "assigned_count",
	models.ItemUsed:      "used_count",
	models.ItemExpired:   "expired_count",
	models.ItemFailed:    "failed_count",
}

// statusCaseSQL recomputes pool status after a counter change: operator-set
// INACTIVE sticks, otherwise ACTIVE/DEPLETED follows remaining stock.
const statusCaseSQL = `CASE
        WHEN status = 'INACTIVE' THEN 'INACTIVE'
        WHEN available_count = 0 AND reserved_count = 0 THEN 'DEPLETED'
        ELSE 'ACTIVE'
    END`

// CreateWithItems inserts a pool and its items in a single transaction.
// Items must arrive pre-encrypted; counters are set from the batch size.
func (r *PoolRepository) CreateWithItems(ctx context.Context, pool *models.Pool, items []models.StockItem) error {
	return runInTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const poolQ = `
            INSERT INTO stock_pools (
                name, credential_type, bucket_id, network, unit_price,
                description, batch_label, status,
                total_count, available_count
            ) VALUES ($1,$2,$3,$4,$5,$6,$7,'ACTIVE',$8,$8)
            RETURNING id, status, created_at, updated_at`

		if err := tx.QueryRowxContext(ctx, poolQ,
			pool.Name, pool.CredentialType, pool.BucketID, pool.Network, pool.UnitPrice,
			pool.Description, pool.BatchLabel, len(items),
		).Scan(&pool.ID, &pool.Status, &pool.CreatedAt, &pool.UpdatedAt); err != nil {
			return err
		}
		pool.TotalCount = len(items)
		pool.AvailableCount = len(items)

		const itemQ = `
            INSERT INTO stock_items (
                pool_id, payload_enc, payload_hash, payload_mask,
                serial_number, price_tag, type_tag, notes, status, expires_at
            ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'AVAILABLE',$9)
            RETURNING id, created_at`

		for i := range items {
			it := &items[i]
			it.PoolID = pool.ID
			it.Status = models.ItemAvailable
			if err := tx.QueryRowxContext(ctx, itemQ,
				pool.ID, it.PayloadEnc, it.PayloadHash, it.PayloadMask,
				it.SerialNumber, it.PriceTag, it.TypeTag, it.Notes, it.ExpiresAt,
			).Scan(&it.ID, &it.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID returns a pool by id.
func (r *PoolRepository) GetByID(ctx context.Context, id int) (*models.Pool, error) {
	const q = `SELECT * FROM stock_pools WHERE id = $1 LIMIT 1`
	var p models.Pool
	if err := r.db.GetContext(ctx, &p, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.ErrPoolNotFound
		}
		return nil, err
	}
	return &p, nil
}

// PoolFilter holds filters for pool listing.
type PoolFilter struct {
	BucketID       *string
	CredentialType *models.CredentialType
	Status         *models.PoolStatus
	Page           int
	Limit          int
}

// List returns pools matching the filter, newest first, with pagination.
func (r *PoolRepository) List(ctx context.Context, filter *PoolFilter) ([]models.Pool, int, error) {
	baseQ := `FROM stock_pools WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.BucketID != nil && *filter.BucketID != "" {
		baseQ += fmt.Sprintf(" AND bucket_id = $%d", argIdx)
		args = append(args, *filter.BucketID)
		argIdx++
	}
	if filter.CredentialType != nil && *filter.CredentialType != "" {
		baseQ += fmt.Sprintf(" AND credential_type = $%d", argIdx)
		args = append(args, *filter.CredentialType)
		argIdx++
	}
	if filter.Status != nil && *filter.Status != "" {
		baseQ += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filter.Status)
		argIdx++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQ, args...); err != nil {
		return nil, 0, err
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	offset := (filter.Page - 1) * filter.Limit

	selectQ := fmt.Sprintf("SELECT * %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d", baseQ, argIdx, argIdx+1)
	args = append(args, filter.Limit, offset)

	var pools []models.Pool
	if err := r.db.SelectContext(ctx, &pools, selectQ, args...); err != nil {
		return nil, 0, err
	}
	return pools, total, nil
}

// GetItems returns a pool's items in insertion order.
func (r *PoolRepository) GetItems(ctx context.Context, poolID int) ([]models.StockItem, error) {
	const q = `SELECT * FROM stock_items WHERE pool_id = $1 ORDER BY id ASC`
	var items []models.StockItem
	if err := r.db.SelectContext(ctx, &items, q, poolID); err != nil {
		return nil, err
	}
	return items, nil
}

// GetItem returns a single item scoped to its pool.
func (r *PoolRepository) GetItem(ctx context.Context, poolID, itemID int) (*models.StockItem, error) {
	const q = `SELECT * FROM stock_items WHERE pool_id = $1 AND id = $2 LIMIT 1`
	var it models.StockItem
	if err := r.db.GetContext(ctx, &it, q, poolID, itemID); err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.ErrItemNotFound
		}
		return nil, err
	}
	return &it, nil
}

// ClaimAvailable atomically claims the first AVAILABLE item across ACTIVE
// pools matching (bucketID, credentialType): oldest pool first, lowest item
// id first. The conditional UPDATE with FOR UPDATE SKIP LOCKED guarantees
// at-most-once issuance under concurrent callers; the pool counter moves in
// the same transaction. Returns sql.ErrNoRows when no eligible item exists.
func (r *PoolRepository) ClaimAvailable(ctx context.Context, bucketID string, credType models.CredentialType, orderID, claimantID, claimantEmail string) (*models.StockItem, error) {
	var claimed models.StockItem

	err := runInTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const claimQ = `
            UPDATE stock_items SET
                status = 'ASSIGNED',
                order_id = $3,
                claimed_by = $4,
                claimed_email = $5,
                assigned_at = NOW(),
                updated_at = NOW()
            WHERE id = (
                SELECT i.id
                FROM stock_items i
                JOIN stock_pools p ON i.pool_id = p.id
                WHERE p.bucket_id = $1
                  AND p.credential_type = $2
                  AND p.status = 'ACTIVE'
                  AND i.status = 'AVAILABLE'
                ORDER BY p.created_at ASC, i.id ASC
                LIMIT 1
                FOR UPDATE OF i SKIP LOCKED
            )
            RETURNING *`

		if err := tx.GetContext(ctx, &claimed, claimQ, bucketID, credType, orderID, claimantID, claimantEmail); err != nil {
			return err
		}

		const counterQ = `
            UPDATE stock_pools SET
                available_count = available_count - 1,
                assigned_count = assigned_count + 1,
                updated_at = NOW()
            WHERE id = $1`
		if _, err := tx.ExecContext(ctx, counterQ, claimed.PoolID); err != nil {
			return err
		}
		return r.refreshStatus(ctx, tx, claimed.PoolID)
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// HasPools reports whether any pool exists for (bucketID, credType) and
// whether at least one of them is ACTIVE. Used to distinguish NOT_FOUND and
// INVALID_STATE from plain OUT_OF_STOCK after a failed claim.
func (r *PoolRepository) HasPools(ctx context.Context, bucketID string, credType models.CredentialType) (exists bool, active bool, err error) {
	const q = `
        SELECT COUNT(*) AS all_pools,
               COUNT(*) FILTER (WHERE status = 'ACTIVE') AS active_pools
        FROM stock_pools
        WHERE bucket_id = $1 AND credential_type = $2`
	var row struct {
		AllPools    int `db:"all_pools"`
		ActivePools int `db:"active_pools"`
	}
	if err := r.db.GetContext(ctx, &row, q, bucketID, credType); err != nil {
		return false, false, err
	}
	return row.AllPools > 0, row.ActivePools > 0, nil
}

// TransitionItem moves an item to a new state, validating the state machine
// and shifting pool counters in the same transaction. usedAt stamps the
// used/expiry timestamp for terminal transitions.
func (r *PoolRepository) TransitionItem(ctx context.Context, poolID, itemID int, to models.ItemStatus, usedAt *time.Time) (*models.StockItem, error) {
	var updated models.StockItem

	err := runInTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var current models.StockItem
		const lockQ = `SELECT * FROM stock_items WHERE pool_id = $1 AND id = $2 FOR UPDATE`
		if err := tx.GetContext(ctx, &current, lockQ, poolID, itemID); err != nil {
			if err == sql.ErrNoRows {
				return utils.ErrItemNotFound
			}
			return err
		}

		if !models.CanTransition(current.Status, to) {
			return utils.ErrInvalidState
		}

		const updQ = `
            UPDATE stock_items SET
                status = $3,
                used_at = COALESCE($4, used_at),
                updated_at = NOW()
            WHERE pool_id = $1 AND id = $2
            RETURNING *`
		if err := tx.GetContext(ctx, &updated, updQ, poolID, itemID, to, usedAt); err != nil {
			return err
		}

		return r.shiftCounters(ctx, tx, poolID, current.Status, to)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ReleaseItem is the explicit operator correction for a mis-assigned item:
// ASSIGNED or RESERVED back to AVAILABLE, assignment stamps cleared, pool
// availability restored. This is the only path back to AVAILABLE.
func (r *PoolRepository) ReleaseItem(ctx context.Context, poolID, itemID int) (*models.StockItem, error) {
	var released models.StockItem

	err := runInTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var current models.StockItem
		const lockQ = `SELECT * FROM stock_items WHERE pool_id = $1 AND id = $2 FOR UPDATE`
		if err := tx.GetContext(ctx, &current, lockQ, poolID, itemID); err != nil {
			if err == sql.ErrNoRows {
				return utils.ErrItemNotFound
			}
			return err
		}

		if current.Status != models.ItemAssigned && current.Status != models.ItemReserved {
			return utils.ErrInvalidState
		}

		const updQ = `
            UPDATE stock_items SET
                status = 'AVAILABLE',
                order_id = NULL,
                claimed_by = NULL,
                claimed_email = NULL,
                assigned_at = NULL,
                updated_at = NOW()
            WHERE pool_id = $1 AND id = $2
            RETURNING *`
		if err := tx.GetContext(ctx, &released, updQ, poolID, itemID); err != nil {
			return err
		}

		return r.shiftCounters(ctx, tx, poolID, current.Status, models.ItemAvailable)
	})
	if err != nil {
		return nil, err
	}
	return &released, nil
}

// UpdateItemMeta updates import-carried metadata only; no state-machine effect.
func (r *PoolRepository) UpdateItemMeta(ctx context.Context, poolID, itemID int, priceTag, typeTag, notes *string) (*models.StockItem, error) {
	const q = `
        UPDATE stock_items SET
            price_tag = COALESCE($3, price_tag),
            type_tag = COALESCE($4, type_tag),
            notes = COALESCE($5, notes),
            updated_at = NOW()
        WHERE pool_id = $1 AND id = $2
        RETURNING *`
	var it models.StockItem
	if err := r.db.GetContext(ctx, &it, q, poolID, itemID, priceTag, typeTag, notes); err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.ErrItemNotFound
		}
		return nil, err
	}
	return &it, nil
}

// DeleteItem removes a single item and fixes the pool counters.
func (r *PoolRepository) DeleteItem(ctx context.Context, poolID, itemID int) error {
	return runInTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var status models.ItemStatus
		const delQ = `DELETE FROM stock_items WHERE pool_id = $1 AND id = $2 RETURNING status`
		if err := tx.GetContext(ctx, &status, delQ, poolID, itemID); err != nil {
			if err == sql.ErrNoRows {
				return utils.ErrItemNotFound
			}
			return err
		}

		q := fmt.Sprintf(`
            UPDATE stock_pools SET
                total_count = total_count - 1,
                %s = %s - 1,
                updated_at = NOW()
            WHERE id = $1`, counterColumn[status], counterColumn[status])
		if _, err := tx.ExecContext(ctx, q, poolID); err != nil {
			return err
		}
		return r.refreshStatus(ctx, tx, poolID)
	})
}

// DeletePool removes a pool and all its items.
func (r *PoolRepository) DeletePool(ctx context.Context, poolID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM stock_pools WHERE id = $1`, poolID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return utils.ErrPoolNotFound
	}
	return nil
}

// DeleteAllPools removes every pool. Used for test/reset flows only.
func (r *PoolRepository) DeleteAllPools(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM stock_pools`)
	return err
}

// Recount rebuilds a pool's counters from an item rescan. Repair tool only;
// the hot path maintains counters incrementally.
func (r *PoolRepository) Recount(ctx context.Context, poolID int) (*models.Pool, error) {
	var pool models.Pool

	err := runInTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const q = `
            UPDATE stock_pools p SET
                total_count = c.total,
                available_count = c.available,
                reserved_count = c.reserved,
                assigned_count = c.assigned,
                used_count = c.used,
                expired_count = c.expired,
                failed_count = c.failed,
                updated_at = NOW()
            FROM (
                SELECT
                    COUNT(*) AS total,
                    COUNT(*) FILTER (WHERE status = 'AVAILABLE') AS available,
                    COUNT(*) FILTER (WHERE status = 'RESERVED') AS reserved,
                    COUNT(*) FILTER (WHERE status = 'ASSIGNED') AS assigned,
                    COUNT(*) FILTER (WHERE status = 'USED') AS used,
                    COUNT(*) FILTER (WHERE status = 'EXPIRED') AS expired,
                    COUNT(*) FILTER (WHERE status = 'FAILED') AS failed
                FROM stock_items WHERE pool_id = $1
            ) c
            WHERE p.id = $1`
		res, err := tx.ExecContext(ctx, q, poolID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return utils.ErrPoolNotFound
		}
		if err := r.refreshStatus(ctx, tx, poolID); err != nil {
			return err
		}
		return tx.GetContext(ctx, &pool, `SELECT * FROM stock_pools WHERE id = $1`, poolID)
	})
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

// SetPoolStatus applies an operator status change (ACTIVE/INACTIVE). The
// DEPLETED state is derived, not settable.
func (r *PoolRepository) SetPoolStatus(ctx context.Context, poolID int, status models.PoolStatus) error {
	return runInTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const q = `UPDATE stock_pools SET status = $2, updated_at = NOW() WHERE id = $1`
		res, err := tx.ExecContext(ctx, q, poolID, status)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return utils.ErrPoolNotFound
		}
		// Re-derive in case the operator re-activated an empty pool.
		return r.refreshStatus(ctx, tx, poolID)
	})
}

// GetExpirableItems returns items past their expiry in non-terminal states.
// SKIP LOCKED keeps concurrent worker runs from colliding.
func (r *PoolRepository) GetExpirableItems(ctx context.Context, limit int) ([]models.StockItem, error) {
	const q = `
        SELECT * FROM stock_items
        WHERE expires_at IS NOT NULL
          AND expires_at < NOW()
          AND status IN ('AVAILABLE','RESERVED','ASSIGNED')
        ORDER BY expires_at ASC
        LIMIT $1
        FOR UPDATE SKIP LOCKED`
	var items []models.StockItem
	if err := r.db.SelectContext(ctx, &items, q, limit); err != nil {
		return nil, err
	}
	return items, nil
}

// ListInconsistentPools returns ids of pools whose materialized counters
// disagree with an item rescan. Reconciliation tool only.
func (r *PoolRepository) ListInconsistentPools(ctx context.Context) ([]int, error) {
	const q = `
        SELECT p.id
        FROM stock_pools p
        LEFT JOIN (
            SELECT pool_id,
                COUNT(*) AS total,
                COUNT(*) FILTER (WHERE status = 'AVAILABLE') AS available,
                COUNT(*) FILTER (WHERE status = 'RESERVED') AS reserved,
                COUNT(*) FILTER (WHERE status = 'ASSIGNED') AS assigned,
                COUNT(*) FILTER (WHERE status = 'USED') AS used,
                COUNT(*) FILTER (WHERE status = 'EXPIRED') AS expired,
                COUNT(*) FILTER (WHERE status = 'FAILED') AS failed
            FROM stock_items GROUP BY pool_id
        ) c ON c.pool_id = p.id
        WHERE p.total_count != COALESCE(c.total, 0)
           OR p.available_count != COALESCE(c.available, 0)
           OR p.reserved_count != COALESCE(c.reserved, 0)
           OR p.assigned_count != COALESCE(c.assigned, 0)
           OR p.used_count != COALESCE(c.used, 0)
           OR p.expired_count != COALESCE(c.expired, 0)
           OR p.failed_count != COALESCE(c.failed, 0)`
	var ids []int
	if err := r.db.SelectContext(ctx, &ids, q); err != nil {
		return nil, err
	}
	return ids, nil
}

// shiftCounters moves one unit between the counter columns for a state
// transition and re-derives the pool status.
func (r *PoolRepository) shiftCounters(ctx context.Context, tx *sqlx.Tx, poolID int, from, to models.ItemStatus) error {
	q := fmt.Sprintf(`
        UPDATE stock_pools SET
            %s = %s - 1,
            %s = %s + 1,
            updated_at = NOW()
        WHERE id = $1`,
		counterColumn[from], counterColumn[from],
		counterColumn[to], counterColumn[to])
	if _, err := tx.ExecContext(ctx, q, poolID); err != nil {
		return err
	}
	return r.refreshStatus(ctx, tx, poolID)
}

// refreshStatus re-derives ACTIVE/DEPLETED from the current counters.
func (r *PoolRepository) refreshStatus(ctx context.Context, tx *sqlx.Tx, poolID int) error {
	q := fmt.Sprintf(`UPDATE stock_pools SET status = %s WHERE id = $1`, statusCaseSQL)
	_, err := tx.ExecContext(ctx, q, poolID)
	return err
}
