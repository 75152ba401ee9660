package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/GTDGit/gtd_backoffice/internal/cache"
	"github.com/GTDGit/gtd_backoffice/internal/models"
	"github.com/GTDGit/gtd_backoffice/internal/repository"
	"github.com/GTDGit/gtd_backoffice/internal/secret"
	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

// StockStore is the persistence contract the stock service needs. Implemented
// by repository.PoolRepository; ClaimAvailable must be atomic (at-most-once
// issuance of any item under concurrent callers).
type StockStore interface {
	CreateWithItems(ctx context.Context, pool *models.Pool, items []models.StockItem) error
	GetByID(ctx context.Context, id int) (*models.Pool, error)
	List(ctx context.Context, filter *repository.PoolFilter) ([]models.Pool, int, error)
	GetItems(ctx context.Context, poolID int) ([]models.StockItem, error)
	GetItem(ctx context.Context, poolID, itemID int) (*models.StockItem, error)
	ClaimAvailable(ctx context.Context, bucketID string, credType models.CredentialType, orderID, claimantID, claimantEmail string) (*models.StockItem, error)
	HasPools(ctx context.Context, bucketID string, credType models.CredentialType) (exists bool, active bool, err error)
	TransitionItem(ctx context.Context, poolID, itemID int, to models.ItemStatus, usedAt *time.Time) (*models.StockItem, error)
	ReleaseItem(ctx context.Context, poolID, itemID int) (*models.StockItem, error)
	UpdateItemMeta(ctx context.Context, poolID, itemID int, priceTag, typeTag, notes *string) (*models.StockItem, error)
	DeleteItem(ctx context.Context, poolID, itemID int) error
	DeletePool(ctx context.Context, poolID int) error
	DeleteAllPools(ctx context.Context) error
	Recount(ctx context.Context, poolID int) (*models.Pool, error)
	SetPoolStatus(ctx context.Context, poolID int, status models.PoolStatus) error
}

// StockService contains business logic for the stock allocation engine.
type StockService struct {
	pools  StockStore
	codec  *secret.Codec
	claims *cache.ClaimCache
}

// NewStockService constructs a StockService. claims may be nil; the claim
// idempotency cache is advisory.
func NewStockService(pools StockStore, codec *secret.Codec, claims *cache.ClaimCache) *StockService {
	return &StockService{pools: pools, codec: codec, claims: claims}
}

// ImportItem is one bulk-import row, already parsed upstream.
type ImportItem struct {
	Payload      string     `json:"payload" binding:"required"`
	SerialNumber *string    `json:"serialNumber"`
	PriceTag     *string    `json:"price"`
	TypeTag      *string    `json:"type"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

// ImportBatchRequest input
type ImportBatchRequest struct {
	Name           string                `json:"name" binding:"required"`
	BucketID       string                `json:"bucketId" binding:"required"`
	CredentialType models.CredentialType `json:"credentialType" binding:"required"`
	Network        string                `json:"network"`
	UnitPrice      decimal.Decimal       `json:"unitPrice"`
	Description    string                `json:"description"`
	BatchLabel     string                `json:"batchLabel"`
	Items          []ImportItem          `json:"items" binding:"required,min=1"`
}

// ImportReport summarizes an import. Duplicate payloads within the batch are
// a caller error, reported but still stored; uniqueness is encouraged by
// upstream validation, not enforced here.
type ImportReport struct {
	Imported       int   `json:"imported"`
	DuplicateRows  []int `json:"duplicateRows,omitempty"`
	DuplicateCount int   `json:"duplicateCount"`
}

// ImportBatch creates a pool from a batch of credential rows. Payloads are
// encrypted before they ever reach storage; every item starts AVAILABLE and
// the pool counters equal the batch size.
func (s *StockService) ImportBatch(ctx context.Context, req *ImportBatchRequest) (*models.Pool, *ImportReport, error) {
	if !models.ValidCredentialType(req.CredentialType) {
		return nil, nil, utils.ErrInvalidState
	}

	report := &ImportReport{}
	seen := make(map[string]bool, len(req.Items))
	items := make([]models.StockItem, 0, len(req.Items))

	for i, row := range req.Items {
		fp := s.codec.Fingerprint(row.Payload)
		if seen[fp] {
			report.DuplicateRows = append(report.DuplicateRows, i)
		}
		seen[fp] = true

		enc, err := s.codec.Encrypt(row.Payload)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, models.StockItem{
			PayloadEnc:   enc,
			PayloadHash:  fp,
			PayloadMask:  secret.Mask(row.Payload),
			SerialNumber: row.SerialNumber,
			PriceTag:     row.PriceTag,
			TypeTag:      row.TypeTag,
			ExpiresAt:    row.ExpiresAt,
		})
	}
	report.Imported = len(items)
	report.DuplicateCount = len(report.DuplicateRows)

	pool := &models.Pool{
		Name:           req.Name,
		CredentialType: req.CredentialType,
		BucketID:       req.BucketID,
		Network:        req.Network,
		UnitPrice:      req.UnitPrice,
		Description:    req.Description,
		BatchLabel:     req.BatchLabel,
	}
	if err := s.pools.CreateWithItems(ctx, pool, items); err != nil {
		return nil, nil, err
	}

	if report.DuplicateCount > 0 {
		log.Warn().
			Int("pool_id", pool.ID).
			Int("duplicates", report.DuplicateCount).
			Msg("Import batch contained duplicate payloads")
	}
	return pool, report, nil
}

// ClaimRequest input
type ClaimRequest struct {
	BucketID       string                `json:"bucketId" binding:"required"`
	CredentialType models.CredentialType `json:"credentialType" binding:"required"`
	OrderID        string                `json:"orderId" binding:"required"`
	ClaimantID     string                `json:"claimantId" binding:"required"`
	ClaimantEmail  string                `json:"claimantEmail"`
}

// ClaimResult carries the claimed item plus the decrypted payload. The
// plaintext is only ever handed to the fulfillment path that called Claim;
// every other read projection stays masked.
type ClaimResult struct {
	Item     *models.StockItem `json:"item"`
	Secret   string            `json:"secret"`
	Replayed bool              `json:"replayed"`
}

// Claim finds and claims exactly one AVAILABLE item of the requested type in
// the requested bucket. Idempotent per (client, orderId): a retried
// fulfillment trigger replays the original claim.
func (s *StockService) Claim(ctx context.Context, req *ClaimRequest, client *models.Client) (*ClaimResult, error) {
	if !models.ValidCredentialType(req.CredentialType) {
		return nil, utils.ErrInvalidState
	}

	if s.claims != nil && client != nil {
		if prior, err := s.claims.Get(ctx, client.ID, req.OrderID); err != nil {
			log.Warn().Err(err).Str("order_id", req.OrderID).Msg("Claim cache lookup failed")
		} else if prior != nil {
			return s.replayClaim(ctx, prior)
		}
	}

	item, err := s.pools.ClaimAvailable(ctx, req.BucketID, req.CredentialType, req.OrderID, req.ClaimantID, req.ClaimantEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyClaimMiss(ctx, req.BucketID, req.CredentialType)
		}
		return nil, err
	}

	plain, err := s.codec.Decrypt(item.PayloadEnc)
	if err != nil {
		// The item is unusable; count it FAILED and keep the claim failing
		// loudly rather than shipping an undecryptable credential.
		log.Error().Err(err).Int("pool_id", item.PoolID).Int("item_id", item.ID).Msg("Claimed item failed decryption")
		if _, terr := s.pools.TransitionItem(ctx, item.PoolID, item.ID, models.ItemFailed, nil); terr != nil {
			log.Error().Err(terr).Int("item_id", item.ID).Msg("Failed to mark undecryptable item")
		}
		return nil, utils.ErrDecryptionFailed
	}

	if s.claims != nil && client != nil {
		data := &cache.ClaimData{
			PoolID:      item.PoolID,
			ItemID:      item.ID,
			OrderID:     req.OrderID,
			BucketID:    req.BucketID,
			PayloadMask: item.PayloadMask,
			ClaimedAt:   time.Now(),
		}
		if item.SerialNumber != nil {
			data.SerialNumber = *item.SerialNumber
		}
		if err := s.claims.Set(ctx, client.ID, data); err != nil {
			log.Warn().Err(err).Str("order_id", req.OrderID).Msg("Claim cache store failed")
		}
	}

	log.Info().
		Int("pool_id", item.PoolID).
		Int("item_id", item.ID).
		Str("order_id", req.OrderID).
		Str("bucket_id", req.BucketID).
		Msg("Stock item claimed")

	return &ClaimResult{Item: item, Secret: plain}, nil
}

// replayClaim re-reads a previously claimed item for an idempotent retry.
func (s *StockService) replayClaim(ctx context.Context, prior *cache.ClaimData) (*ClaimResult, error) {
	item, err := s.pools.GetItem(ctx, prior.PoolID, prior.ItemID)
	if err != nil {
		return nil, err
	}
	plain, err := s.codec.Decrypt(item.PayloadEnc)
	if err != nil {
		return nil, utils.ErrDecryptionFailed
	}
	return &ClaimResult{Item: item, Secret: plain, Replayed: true}, nil
}

// classifyClaimMiss distinguishes an unknown bucket, a bucket with no ACTIVE
// pools, and plain stock exhaustion.
func (s *StockService) classifyClaimMiss(ctx context.Context, bucketID string, credType models.CredentialType) error {
	exists, active, err := s.pools.HasPools(ctx, bucketID, credType)
	if err != nil {
		return err
	}
	if !exists {
		return utils.ErrPoolNotFound
	}
	if !active {
		return utils.ErrInvalidState
	}
	return utils.ErrOutOfStock
}

// Release returns a mis-assigned item to AVAILABLE and restores the pool
// counter. Explicit operator action; nothing releases automatically.
func (s *StockService) Release(ctx context.Context, poolID, itemID int) (*models.StockItem, error) {
	item, err := s.pools.ReleaseItem(ctx, poolID, itemID)
	if err != nil {
		return nil, err
	}
	log.Info().Int("pool_id", poolID).Int("item_id", itemID).Msg("Stock item released")
	return item, nil
}

// MarkUsed completes an assigned item's lifecycle.
func (s *StockService) MarkUsed(ctx context.Context, poolID, itemID int) (*models.StockItem, error) {
	now := time.Now()
	return s.pools.TransitionItem(ctx, poolID, itemID, models.ItemUsed, &now)
}

// MarkFailed sidelines an item that turned out to be bad stock.
func (s *StockService) MarkFailed(ctx context.Context, poolID, itemID int) (*models.StockItem, error) {
	now := time.Now()
	return s.pools.TransitionItem(ctx, poolID, itemID, models.ItemFailed, &now)
}

// MarkExpired retires an item past its validity window.
func (s *StockService) MarkExpired(ctx context.Context, poolID, itemID int) (*models.StockItem, error) {
	now := time.Now()
	return s.pools.TransitionItem(ctx, poolID, itemID, models.ItemExpired, &now)
}

// UpdateItem mutates import-carried metadata only.
func (s *StockService) UpdateItem(ctx context.Context, poolID, itemID int, priceTag, typeTag, notes *string) (*models.StockItem, error) {
	return s.pools.UpdateItemMeta(ctx, poolID, itemID, priceTag, typeTag, notes)
}

// DeleteItem removes one item.
func (s *StockService) DeleteItem(ctx context.Context, poolID, itemID int) error {
	return s.pools.DeleteItem(ctx, poolID, itemID)
}

// DeletePool removes a pool and all its items.
func (s *StockService) DeletePool(ctx context.Context, poolID int) error {
	return s.pools.DeletePool(ctx, poolID)
}

// DeleteAllPools wipes all stock. Test/reset flows only.
func (s *StockService) DeleteAllPools(ctx context.Context) error {
	log.Warn().Msg("Deleting ALL stock pools")
	return s.pools.DeleteAllPools(ctx)
}

// GetPool returns one pool with counters.
func (s *StockService) GetPool(ctx context.Context, poolID int) (*models.Pool, error) {
	return s.pools.GetByID(ctx, poolID)
}

// ListPools returns pools matching the filter.
func (s *StockService) ListPools(ctx context.Context, filter *repository.PoolFilter) ([]models.Pool, int, error) {
	return s.pools.List(ctx, filter)
}

// SetPoolStatus applies an operator ACTIVE/INACTIVE toggle.
func (s *StockService) SetPoolStatus(ctx context.Context, poolID int, status models.PoolStatus) error {
	if status != models.PoolActive && status != models.PoolInactive {
		return utils.ErrInvalidState
	}
	return s.pools.SetPoolStatus(ctx, poolID, status)
}

// ReadMasked lists a pool's items with masked payloads.
func (s *StockService) ReadMasked(ctx context.Context, poolID int) ([]models.StockItem, error) {
	if _, err := s.pools.GetByID(ctx, poolID); err != nil {
		return nil, err
	}
	return s.pools.GetItems(ctx, poolID)
}

// DecryptedItemView is the privileged projection: the payload is verified
// decryptable but re-masked before leaving the service. Full plaintext is
// never returned over this interface; the only plaintext path is Claim.
type DecryptedItemView struct {
	models.StockItem
	Verified bool `json:"verified"`
}

// ReadDecrypted verifies each item's ciphertext against the current key and
// returns re-masked payloads. Items that no longer decrypt (e.g. key rotated
// without migration) are counted FAILED.
func (s *StockService) ReadDecrypted(ctx context.Context, poolID int) ([]DecryptedItemView, error) {
	if _, err := s.pools.GetByID(ctx, poolID); err != nil {
		return nil, err
	}
	items, err := s.pools.GetItems(ctx, poolID)
	if err != nil {
		return nil, err
	}

	views := make([]DecryptedItemView, 0, len(items))
	for i := range items {
		view := DecryptedItemView{StockItem: items[i]}
		plain, err := s.codec.Decrypt(items[i].PayloadEnc)
		if err == nil {
			view.Verified = true
			view.PayloadMask = secret.Mask(plain)
		} else if !models.TerminalStatus(items[i].Status) {
			log.Error().Int("pool_id", poolID).Int("item_id", items[i].ID).Msg("Item payload no longer decrypts")
			if _, terr := s.pools.TransitionItem(ctx, poolID, items[i].ID, models.ItemFailed, nil); terr != nil {
				log.Error().Err(terr).Int("item_id", items[i].ID).Msg("Failed to mark undecryptable item")
			} else {
				view.Status = models.ItemFailed
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// Recount rebuilds a pool's counters from its items. Repair tool.
func (s *StockService) Recount(ctx context.Context, poolID int) (*models.Pool, error) {
	pool, err := s.pools.Recount(ctx, poolID)
	if err != nil {
		return nil, err
	}
	log.Info().Int("pool_id", poolID).Msg("Pool counters recounted")
	return pool, nil
}
