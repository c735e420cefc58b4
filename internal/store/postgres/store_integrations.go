package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"recordhub-backend/internal/models"
	"recordhub-backend/internal/store"
)

const integrationColumns = `id, tenant_id, provider_name, encrypted_access_token, encrypted_refresh_token, token_expires_at, config, is_active, last_sync_at, created_at, updated_at`

func scanIntegration(row pgx.Row) (*models.Integration, error) {
	var i models.Integration
	err := row.Scan(
		&i.ID,
		&i.TenantID,
		&i.ProviderName,
		&i.EncryptedAccessToken,
		&i.EncryptedRefreshToken,
		&i.TokenExpiresAt,
		&i.Config,
		&i.IsActive,
		&i.LastSyncAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

const createIntegration = `-- name: CreateIntegration :one
INSERT INTO integrations (
    id, tenant_id, provider_name, encrypted_access_token, encrypted_refresh_token, token_expires_at, config, is_active
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8
)
RETURNING ` + integrationColumns + `;`

func (s *PostgresStore) CreateIntegration(ctx context.Context, arg store.CreateIntegrationParams) (*models.Integration, error) {
	row := s.db.QueryRow(ctx, createIntegration,
		arg.ID,
		arg.TenantID,
		arg.ProviderName,
		arg.EncryptedAccessToken,
		arg.EncryptedRefreshToken, // pgx handles *string to NULL automatically
		arg.TokenExpiresAt,
		arg.Config,
		arg.IsActive,
	)
	integ, err := scanIntegration(row)
	if err != nil {
		log.Printf("ERROR [PostgresStore] CreateIntegration: Insert failed for tenant %s, provider %s: %v", arg.TenantID, arg.ProviderName, err)
		return nil, fmt.Errorf("database error creating integration: %w", err)
	}
	return integ, nil
}

const getIntegrationByID = `-- name: GetIntegrationByID :one
SELECT ` + integrationColumns + `
FROM integrations
WHERE id = $1;`

func (s *PostgresStore) GetIntegrationByID(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	integ, err := scanIntegration(s.db.QueryRow(ctx, getIntegrationByID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("error scanning integration: %w", err)
	}
	return integ, nil
}

const getIntegrationByTenantAndProvider = `-- name: GetIntegrationByTenantAndProvider :one
SELECT ` + integrationColumns + `
FROM integrations
WHERE tenant_id = $1 AND provider_name = $2;`

func (s *PostgresStore) GetIntegrationByTenantAndProvider(ctx context.Context, tenantID uuid.UUID, providerName string) (*models.Integration, error) {
	integ, err := scanIntegration(s.db.QueryRow(ctx, getIntegrationByTenantAndProvider, tenantID, providerName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("error scanning integration: %w", err)
	}
	return integ, nil
}

const listIntegrationsByTenant = `-- name: ListIntegrationsByTenant :many
SELECT ` + integrationColumns + `
FROM integrations
WHERE tenant_id = $1
ORDER BY created_at DESC;`

func (s *PostgresStore) ListIntegrationsByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Integration, error) {
	rows, err := s.db.Query(ctx, listIntegrationsByTenant, tenantID)
	if err != nil {
		return nil, fmt.Errorf("error querying integrations: %w", err)
	}
	defer rows.Close()

	var items []models.Integration
	for rows.Next() {
		integ, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning integration row: %w", err)
		}
		items = append(items, *integ)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating integration rows: %w", err)
	}

	return items, nil
}

const updateIntegrationTokens = `-- name: UpdateIntegrationTokens :one
UPDATE integrations
SET encrypted_access_token = $1,
    encrypted_refresh_token = $2,
    token_expires_at = $3,
    last_sync_at = $4,
    is_active = TRUE,
    updated_at = NOW()
WHERE id = $5
RETURNING ` + integrationColumns + `;`

func (s *PostgresStore) UpdateIntegrationTokens(ctx context.Context, arg store.UpdateIntegrationTokensParams) (*models.Integration, error) {
	row := s.db.QueryRow(ctx, updateIntegrationTokens,
		arg.EncryptedAccessToken,
		arg.EncryptedRefreshToken,
		arg.TokenExpiresAt,
		arg.LastSyncAt,
		arg.ID,
	)
	integ, err := scanIntegration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		log.Printf("ERROR [PostgresStore] UpdateIntegrationTokens: Update failed for integration %s: %v", arg.ID, err)
		return nil, fmt.Errorf("database error updating integration tokens: %w", err)
	}
	return integ, nil
}

const updateIntegrationConfig = `-- name: UpdateIntegrationConfig :exec
UPDATE integrations
SET config = $1, updated_at = NOW()
WHERE id = $2;`

func (s *PostgresStore) UpdateIntegrationConfig(ctx context.Context, id uuid.UUID, config []byte) error {
	tag, err := s.db.Exec(ctx, updateIntegrationConfig, config, id)
	if err != nil {
		return fmt.Errorf("error executing update integration config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const clearIntegrationTokens = `-- name: ClearIntegrationTokens :exec
UPDATE integrations
SET encrypted_access_token = '',
    encrypted_refresh_token = NULL,
    token_expires_at = NULL,
    is_active = FALSE,
    updated_at = NOW()
WHERE id = $1;`

// ClearIntegrationTokens wipes stored ciphertext and deactivates the
// integration without deleting its row or history.
func (s *PostgresStore) ClearIntegrationTokens(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, clearIntegrationTokens, id)
	if err != nil {
		return fmt.Errorf("error executing clear integration tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const deleteIntegration = `-- name: DeleteIntegration :exec
DELETE FROM integrations
WHERE id = $1;`

func (s *PostgresStore) DeleteIntegration(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, deleteIntegration, id)
	if err != nil {
		return fmt.Errorf("error executing delete integration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
