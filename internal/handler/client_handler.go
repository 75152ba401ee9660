package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GTDGit/gtd_backoffice/internal/service"
	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

// ClientHandler handles admin API client management endpoints.
type ClientHandler struct {
	clientService *service.ClientService
}

// NewClientHandler constructs a ClientHandler.
func NewClientHandler(clientService *service.ClientService) *ClientHandler {
	return &ClientHandler{clientService: clientService}
}

// Create handles POST /v1/admin/clients
func (h *ClientHandler) Create(c *gin.Context) {
	var req service.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}

	client, err := h.clientService.Create(c.Request.Context(), &req)
	if err != nil {
		utils.Error(c, 500, "INTERNAL_ERROR", "Failed to create client")
		return
	}
	utils.Success(c, 201, "Client created", client)
}

// List handles GET /v1/admin/clients
func (h *ClientHandler) List(c *gin.Context) {
	clients, err := h.clientService.List(c.Request.Context())
	if err != nil {
		utils.Error(c, 500, "INTERNAL_ERROR", "Failed to list clients")
		return
	}
	utils.Success(c, 200, "Clients retrieved", clients)
}

// Update handles PUT /v1/admin/clients/:id
func (h *ClientHandler) Update(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		utils.Error(c, 400, "INVALID_ID", "Invalid client id")
		return
	}
	var req struct {
		Name        string   `json:"name" binding:"required"`
		IPWhitelist []string `json:"ipWhitelist"`
		IsActive    bool     `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "MISSING_FIELD", "Invalid request body")
		return
	}

	client, err := h.clientService.Update(c.Request.Context(), id, req.Name, req.IPWhitelist, req.IsActive)
	if err != nil {
		utils.Error(c, 404, "CLIENT_NOT_FOUND", "Client not found")
		return
	}
	utils.Success(c, 200, "Client updated", client)
}

// RotateKeys handles POST /v1/admin/clients/:id/rotate
func (h *ClientHandler) RotateKeys(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		utils.Error(c, 400, "INVALID_ID", "Invalid client id")
		return
	}

	client, err := h.clientService.RotateKeys(c.Request.Context(), id)
	if err != nil {
		utils.Error(c, 404, "CLIENT_NOT_FOUND", "Client not found")
		return
	}
	utils.Success(c, 200, "Keys rotated", client)
}
