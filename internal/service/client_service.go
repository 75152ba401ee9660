package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_backoffice/internal/models"
	"github.com/GTDGit/gtd_backoffice/internal/repository"
	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

// ClientService manages API client registrations for the admin surface.
type ClientService struct {
	clientRepo *repository.ClientRepository
}

// NewClientService constructs a new ClientService.
func NewClientService(clientRepo *repository.ClientRepository) *ClientService {
	return &ClientService{clientRepo: clientRepo}
}

// CreateClientRequest input
type CreateClientRequest struct {
	ClientID    string   `json:"clientId" binding:"required"`
	Name        string   `json:"name" binding:"required"`
	IPWhitelist []string `json:"ipWhitelist"`
}

// Create registers a new client and generates its key pair. The keys are
// returned once here; list responses omit them.
func (s *ClientService) Create(ctx context.Context, req *CreateClientRequest) (*models.Client, error) {
	liveKey, err := utils.GenerateLiveKey()
	if err != nil {
		return nil, err
	}
	sandboxKey, err := utils.GenerateSandboxKey()
	if err != nil {
		return nil, err
	}

	client := &models.Client{
		ClientID:    req.ClientID,
		Name:        req.Name,
		APIKey:      liveKey,
		SandboxKey:  sandboxKey,
		IPWhitelist: req.IPWhitelist,
		IsActive:    true,
	}
	if err := s.clientRepo.Create(ctx, client); err != nil {
		return nil, err
	}

	log.Info().Str("client_id", client.ClientID).Msg("API client created")
	return client, nil
}

// List returns all registered clients with keys stripped.
func (s *ClientService) List(ctx context.Context) ([]models.Client, error) {
	clients, err := s.clientRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range clients {
		clients[i].APIKey = ""
		clients[i].SandboxKey = ""
	}
	return clients, nil
}

// Update modifies a client's name, whitelist, and active flag.
func (s *ClientService) Update(ctx context.Context, id int, name string, ipWhitelist []string, isActive bool) (*models.Client, error) {
	client, err := s.clientRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	client.Name = name
	client.IPWhitelist = ipWhitelist
	client.IsActive = isActive
	if err := s.clientRepo.Update(ctx, client); err != nil {
		return nil, err
	}
	client.APIKey = ""
	client.SandboxKey = ""
	return client, nil
}

// RotateKeys replaces both API keys and returns the new pair.
func (s *ClientService) RotateKeys(ctx context.Context, id int) (*models.Client, error) {
	liveKey, err := utils.GenerateLiveKey()
	if err != nil {
		return nil, err
	}
	sandboxKey, err := utils.GenerateSandboxKey()
	if err != nil {
		return nil, err
	}
	if err := s.clientRepo.RotateKeys(ctx, id, liveKey, sandboxKey); err != nil {
		return nil, err
	}
	client, err := s.clientRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	log.Info().Str("client_id", client.ClientID).Msg("API client keys rotated")
	return client, nil
}
