package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/GTDGit/gtd_backoffice/internal/middleware"
	"github.com/GTDGit/gtd_backoffice/internal/models"
	"github.com/GTDGit/gtd_backoffice/internal/service"
	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

// LedgerHandler handles credit and kickback ledger HTTP endpoints. The ledger
// kind is a path segment so both ledgers share one handler.
type LedgerHandler struct {
	ledgerService *service.LedgerService
}

// NewLedgerHandler constructs a LedgerHandler.
func NewLedgerHandler(ledgerService *service.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledgerService: ledgerService}
}

func (h *LedgerHandler) kind(c *gin.Context) (models.LedgerKind, bool) {
	k := models.LedgerKind(c.Param("kind"))
	if !models.ValidLedgerKind(k) {
		utils.Error(c, 400, "INVALID_KIND", "Ledger kind must be 'credit' or 'kickback'")
		return "", false
	}
	return k, true
}

// Open handles POST /v1/admin/ledger/:kind/accounts
func (h *LedgerHandler) Open(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	var req struct {
		RetailerID       string          `json:"retailerId" binding:"required"`
		InitialLimit     decimal.Decimal `json:"initialLimit"`
		PaymentTermsDays int             `json:"paymentTermsDays"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}

	acct, err := h.ledgerService.Open(c.Request.Context(), req.RetailerID, kind, req.InitialLimit, req.PaymentTermsDays, middleware.GetOperatorEmail(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 201, "Account opened", acct)
}

// ListAccounts handles GET /v1/admin/ledger/:kind/accounts
func (h *LedgerHandler) ListAccounts(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	accounts, err := h.ledgerService.ListAccounts(c.Request.Context(), kind)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Accounts retrieved", accounts)
}

// Snapshot handles GET /v1/ledger/:kind/:retailerId
func (h *LedgerHandler) Snapshot(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	snap, err := h.ledgerService.Snapshot(c.Request.Context(), c.Param("retailerId"), kind)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Account retrieved", snap)
}

// History handles GET /v1/ledger/:kind/:retailerId/history
func (h *LedgerHandler) History(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	history, err := h.ledgerService.History(c.Request.Context(), c.Param("retailerId"), kind)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "History retrieved", history)
}

// CheckBalance handles GET /v1/ledger/:kind/:retailerId/check?amount=...
func (h *LedgerHandler) CheckBalance(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil || !amount.IsPositive() {
		utils.Error(c, 400, "INVALID_AMOUNT", "Amount must be a positive number")
		return
	}
	sufficient, err := h.ledgerService.HasSufficientBalance(c.Request.Context(), c.Param("retailerId"), kind, amount)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Balance checked", gin.H{"sufficient": sufficient})
}

// Debit handles POST /v1/ledger/:kind/:retailerId/debit
func (h *LedgerHandler) Debit(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	var req struct {
		Amount      decimal.Decimal `json:"amount" binding:"required"`
		OrderID     string          `json:"orderId" binding:"required"`
		Description string          `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}
	acct, err := h.ledgerService.Debit(c.Request.Context(), c.Param("retailerId"), kind, req.Amount, req.OrderID, req.Description)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Ledger debited", acct)
}

// Refund handles POST /v1/ledger/:kind/:retailerId/refund
func (h *LedgerHandler) Refund(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	var req struct {
		Amount      decimal.Decimal `json:"amount" binding:"required"`
		OrderID     string          `json:"orderId" binding:"required"`
		Description string          `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}
	acct, err := h.ledgerService.Refund(c.Request.Context(), c.Param("retailerId"), kind, req.Amount, req.OrderID, middleware.GetOperatorEmail(c), req.Description)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Ledger refunded", acct)
}

// AdjustLimit handles POST /v1/admin/ledger/:kind/accounts/:retailerId/adjust
func (h *LedgerHandler) AdjustLimit(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	var req struct {
		Delta       decimal.Decimal `json:"delta" binding:"required"`
		Description string          `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}
	acct, err := h.ledgerService.AdjustLimit(c.Request.Context(), c.Param("retailerId"), kind, req.Delta, middleware.GetOperatorEmail(c), req.Description)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Limit adjusted", acct)
}

// ReceivePayment handles POST /v1/admin/ledger/:kind/accounts/:retailerId/payment.
// Payments apply to the credit ledger only.
func (h *LedgerHandler) ReceivePayment(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	if kind != models.LedgerCredit {
		utils.Error(c, 400, "INVALID_KIND", "Payments apply to the credit ledger only")
		return
	}
	var req struct {
		Amount      decimal.Decimal `json:"amount" binding:"required"`
		Description string          `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}
	acct, err := h.ledgerService.ReceivePayment(c.Request.Context(), c.Param("retailerId"), req.Amount, middleware.GetOperatorEmail(c), req.Description)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Payment recorded", acct)
}

// SetStatus handles PATCH /v1/admin/ledger/:kind/accounts/:retailerId/status
func (h *LedgerHandler) SetStatus(c *gin.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}
	var req struct {
		Status models.AccountStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}
	acct, err := h.ledgerService.SetStatus(c.Request.Context(), c.Param("retailerId"), kind, req.Status)
	if err != nil {
		h.handleError(c, err)
		return
	}
	utils.Success(c, 200, "Account status updated", acct)
}

func (h *LedgerHandler) handleError(c *gin.Context, err error) {
	switch err {
	case utils.ErrAccountNotFound:
		utils.Error(c, 404, "ACCOUNT_NOT_FOUND", "Ledger account not found")
	case utils.ErrAccountExists:
		utils.Error(c, 409, "ACCOUNT_EXISTS", "Account already exists for this retailer and kind")
	case utils.ErrInsufficientBalance:
		utils.Error(c, 422, "INSUFFICIENT_BALANCE", "Amount exceeds available balance")
	case utils.ErrInvalidAmount:
		utils.Error(c, 400, "INVALID_AMOUNT", "Amount is not valid for this operation")
	case utils.ErrInvalidState:
		utils.Error(c, 409, "INVALID_STATE", "Operation not allowed in the current account status")
	case utils.ErrTransientConflict:
		utils.Error(c, 503, "TRANSIENT_CONFLICT", "Storage conflict, retry the request")
	case utils.ErrStorageUnavailable:
		utils.Error(c, 503, "STORAGE_UNAVAILABLE", "Storage temporarily unavailable")
	default:
		utils.Error(c, 500, "INTERNAL_ERROR", "Internal server error")
	}
}
