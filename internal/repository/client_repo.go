package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/GTDGit/gtd_backoffice/internal/models"
)

// ClientRepository handles data access for API clients.
type ClientRepository struct {
	db *sqlx.DB
}

// NewClientRepository creates a new ClientRepository.
func NewClientRepository(db *sqlx.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// clientRow mirrors the clients table; ip_whitelist needs pq array scanning.
type clientRow struct {
	ID          int            `db:"id"`
	ClientID    string         `db:"client_id"`
	Name        string         `db:"name"`
	APIKey      string         `db:"api_key"`
	SandboxKey  string         `db:"sandbox_key"`
	IPWhitelist pq.StringArray `db:"ip_whitelist"`
	IsActive    bool           `db:"is_active"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *clientRow) toClient() *models.Client {
	return &models.Client{
		ID:          r.ID,
		ClientID:    r.ClientID,
		Name:        r.Name,
		APIKey:      r.APIKey,
		SandboxKey:  r.SandboxKey,
		IPWhitelist: []string(r.IPWhitelist),
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// Create inserts a new client.
func (r *ClientRepository) Create(ctx context.Context, client *models.Client) error {
	const q = `
        INSERT INTO clients (client_id, name, api_key, sandbox_key, ip_whitelist, is_active)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	return r.db.QueryRowxContext(ctx, q,
		client.ClientID, client.Name, client.APIKey, client.SandboxKey,
		pq.StringArray(client.IPWhitelist), client.IsActive,
	).Scan(&client.ID, &client.CreatedAt, &client.UpdatedAt)
}

// GetByAPIKey returns the client owning a live API key.
func (r *ClientRepository) GetByAPIKey(ctx context.Context, apiKey string) (*models.Client, error) {
	return r.getOne(ctx, `SELECT * FROM clients WHERE api_key = $1 LIMIT 1`, apiKey)
}

// GetBySandboxKey returns the client owning a sandbox key.
func (r *ClientRepository) GetBySandboxKey(ctx context.Context, key string) (*models.Client, error) {
	return r.getOne(ctx, `SELECT * FROM clients WHERE sandbox_key = $1 LIMIT 1`, key)
}

// GetByID returns a client by internal id.
func (r *ClientRepository) GetByID(ctx context.Context, id int) (*models.Client, error) {
	return r.getOne(ctx, `SELECT * FROM clients WHERE id = $1 LIMIT 1`, id)
}

// List returns all clients, newest first.
func (r *ClientRepository) List(ctx context.Context) ([]models.Client, error) {
	const q = `SELECT * FROM clients ORDER BY created_at DESC`
	var rows []clientRow
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	clients := make([]models.Client, 0, len(rows))
	for i := range rows {
		clients = append(clients, *rows[i].toClient())
	}
	return clients, nil
}

// Update modifies name, whitelist, and active flag.
func (r *ClientRepository) Update(ctx context.Context, client *models.Client) error {
	const q = `
        UPDATE clients SET
            name = $2, ip_whitelist = $3, is_active = $4, updated_at = NOW()
        WHERE id = $1
        RETURNING updated_at`
	return r.db.QueryRowxContext(ctx, q,
		client.ID, client.Name, pq.StringArray(client.IPWhitelist), client.IsActive,
	).Scan(&client.UpdatedAt)
}

// RotateKeys replaces both API keys.
func (r *ClientRepository) RotateKeys(ctx context.Context, id int, apiKey, sandboxKey string) error {
	const q = `UPDATE clients SET api_key = $2, sandbox_key = $3, updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, apiKey, sandboxKey)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *ClientRepository) getOne(ctx context.Context, q string, arg interface{}) (*models.Client, error) {
	var row clientRow
	if err := r.db.GetContext(ctx, &row, q, arg); err != nil {
		return nil, err
	}
	return row.toClient(), nil
}
