package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GTDGit/gtd_backoffice/internal/middleware"
	"github.com/GTDGit/gtd_backoffice/internal/models"
	"github.com/GTDGit/gtd_backoffice/internal/repository"
	"github.com/GTDGit/gtd_backoffice/internal/service"
	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

// StockHandler handles stock pool and allocation HTTP endpoints.
type StockHandler struct {
	stockService *service.StockService
}

// NewStockHandler constructs a StockHandler.
func NewStockHandler(stockService *service.StockService) *StockHandler {
	return &StockHandler{stockService: stockService}
}

// Claim handles POST /v1/stock/claim
func (h *StockHandler) Claim(c *gin.Context) {
	var req service.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}

	client := middleware.GetClient(c)
	if client == nil {
		utils.Error(c, 401, "INVALID_TOKEN", "Unauthorized")
		return
	}

	res, err := h.stockService.Claim(c.Request.Context(), &req, client)
	if err != nil {
		h.handleError(c, err)
		return
	}

	message := "Stock claimed"
	if res.Replayed {
		message = "Stock claim replayed"
	}
	utils.Success(c, 201, message, res)
}

// ImportBatch handles POST /v1/admin/stock/pools
func (h *StockHandler) ImportBatch(c *gin.Context) {
	var req service.ImportBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}

	pool, report, err := h.stockService.ImportBatch(c.Request.Context(), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	utils.Success(c, 201, "Batch imported", gin.H{
		"pool":   pool,
		"report": report,
	})
}

// ListPools handles GET /v1/admin/stock/pools
func (h *StockHandler) ListPools(c *gin.Context) {
	filter := &repository.PoolFilter{
		Page:  parseIntQuery(c, "page", 1),
		Limit: parseIntQuery(c, "limit", 50),
	}
	if v := c.Query("bucketId"); v != "" {
		filter.BucketID = &v
	}
	if v := c.Query("credentialType"); v != "" {
		t := models.CredentialType(v)
		if !models.ValidCredentialType(t) {
			utils.Error(c, 400, "INVALID_TYPE", "Unknown credential type")
			return
		}
		filter.CredentialType = &t
	}
	if v := c.Query("status"); v != "" {
		s := models.PoolStatus(v)
		filter.Status = &s
	}

	pools, total, err := h.stockService.ListPools(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.SuccessWithPagination(c, 200, "Pools retrieved", pools, filter.Page, filter.Limit, total)
}

// GetPool handles GET /v1/admin/stock/pools/:poolId
func (h *StockHandler) GetPool(c *gin.Context) {
	poolID, ok := h.paramInt(c, "poolId")
	if !ok {
		return
	}
	pool, err := h.stockService.GetPool(c.Request.Context(), poolID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Pool retrieved", pool)
}

// ListItems handles GET /v1/admin/stock/pools/:poolId/items
// Payloads are masked; pass ?decrypted=true to verify decryptability
// (the response stays masked either way).
func (h *StockHandler) ListItems(c *gin.Context) {
	poolID, ok := h.paramInt(c, "poolId")
	if !ok {
		return
	}

	if c.Query("decrypted") == "true" {
		views, err := h.stockService.ReadDecrypted(c.Request.Context(), poolID)
		if err != nil {
			h.handleError(c, err)
			return
		}
		utils.Success(c, 200, "Items retrieved", views)
		return
	}

	items, err := h.stockService.ReadMasked(c.Request.Context(), poolID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Items retrieved", items)
}

// SetPoolStatus handles PATCH /v1/admin/stock/pools/:poolId/status
func (h *StockHandler) SetPoolStatus(c *gin.Context) {
	poolID, ok := h.paramInt(c, "poolId")
	if !ok {
		return
	}
	var req struct {
		Status models.PoolStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}
	if err := h.stockService.SetPoolStatus(c.Request.Context(), poolID, req.Status); err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Pool status updated", nil)
}

// Recount handles POST /v1/admin/stock/pools/:poolId/recount
func (h *StockHandler) Recount(c *gin.Context) {
	poolID, ok := h.paramInt(c, "poolId")
	if !ok {
		return
	}
	pool, err := h.stockService.Recount(c.Request.Context(), poolID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Pool recounted", pool)
}

// DeletePool handles DELETE /v1/admin/stock/pools/:poolId
func (h *StockHandler) DeletePool(c *gin.Context) {
	poolID, ok := h.paramInt(c, "poolId")
	if !ok {
		return
	}
	if err := h.stockService.DeletePool(c.Request.Context(), poolID); err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Pool deleted", nil)
}

// DeleteAllPools handles DELETE /v1/admin/stock/pools
func (h *StockHandler) DeleteAllPools(c *gin.Context) {
	if c.Query("confirm") != "true" {
		utils.Error(c, 400, "MISSING_FIELD", "Pass confirm=true to delete all pools")
		return
	}
	if err := h.stockService.DeleteAllPools(c.Request.Context()); err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "All pools deleted", nil)
}

// UpdateItem handles PATCH /v1/admin/stock/pools/:poolId/items/:itemId
func (h *StockHandler) UpdateItem(c *gin.Context) {
	poolID, ok := h.paramInt(c, "poolId")
	if !ok {
		return
	}
	itemID, ok := h.paramInt(c, "itemId")
	if !ok {
		return
	}
	var req struct {
		PriceTag *string `json:"price"`
		TypeTag  *string `json:"type"`
		Notes    *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}
	item, err := h.stockService.UpdateItem(c.Request.Context(), poolID, itemID, req.PriceTag, req.TypeTag, req.Notes)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Item updated", item)
}

// DeleteItem handles DELETE /v1/admin/stock/pools/:poolId/items/:itemId
func (h *StockHandler) DeleteItem(c *gin.Context) {
	poolID, ok := h.paramInt(c, "poolId")
	if !ok {
		return
	}
	itemID, ok := h.paramInt(c, "itemId")
	if !ok {
		return
	}
	if err := h.stockService.DeleteItem(c.Request.Context(), poolID, itemID); err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Item deleted", nil)
}

// TransitionItem handles POST /v1/admin/stock/pools/:poolId/items/:itemId/:action
// where action is one of release, use, fail, expire.
func (h *StockHandler) TransitionItem(c *gin.Context) {
	poolID, ok := h.paramInt(c, "poolId")
	if !ok {
		return
	}
	itemID, ok := h.paramInt(c, "itemId")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var (
		item *models.StockItem
		err  error
	)
	switch c.Param("action") {
	case "release":
		item, err = h.stockService.Release(ctx, poolID, itemID)
	case "use":
		item, err = h.stockService.MarkUsed(ctx, poolID, itemID)
	case "fail":
		item, err = h.stockService.MarkFailed(ctx, poolID, itemID)
	case "expire":
		item, err = h.stockService.MarkExpired(ctx, poolID, itemID)
	default:
		utils.Error(c, 400, "INVALID_ACTION", "Action must be 'release', 'use', 'fail', or 'expire'")
		return
	}
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Item updated", item)
}

func (h *StockHandler) paramInt(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		utils.Error(c, 400, "INVALID_ID", "Invalid "+name)
		return 0, false
	}
	return v, true
}

func (h *StockHandler) handleError(c *gin.Context, err error) {
	switch err {
	case utils.ErrPoolNotFound:
		utils.Error(c, 404, "POOL_NOT_FOUND", "No stock pool for this bucket and type")
	case utils.ErrItemNotFound:
		utils.Error(c, 404, "ITEM_NOT_FOUND", "Stock item not found")
	case utils.ErrOutOfStock:
		utils.Error(c, 409, "OUT_OF_STOCK", "No available stock for this bucket and type")
	case utils.ErrInvalidState:
		utils.Error(c, 409, "INVALID_STATE", "Operation not allowed in the current state")
	case utils.ErrDecryptionFailed:
		utils.Error(c, 500, "DECRYPTION_FAILED", "Credential payload could not be decrypted")
	case utils.ErrTransientConflict:
		utils.Error(c, 503, "TRANSIENT_CONFLICT", "Storage conflict, retry the request")
	case utils.ErrStorageUnavailable:
		utils.Error(c, 503, "STORAGE_UNAVAILABLE", "Storage temporarily unavailable")
	default:
		utils.Error(c, 500, "INTERNAL_ERROR", "Internal server error")
	}
}

func parseIntQuery(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
