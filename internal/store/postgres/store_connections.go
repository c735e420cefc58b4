package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"recordhub-backend/internal/models"
	"recordhub-backend/internal/store"
)

const connectionColumns = `id, record_id, integration_id, external_id, config, is_active, last_posted_at, created_at, updated_at`

func scanConnection(row pgx.Row) (*models.Connection, error) {
	var c models.Connection
	err := row.Scan(
		&c.ID,
		&c.RecordID,
		&c.IntegrationID,
		&c.ExternalID,
		&c.Config,
		&c.IsActive,
		&c.LastPostedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const createConnection = `-- name: CreateConnection :one
INSERT INTO connections (
    id, record_id, integration_id, external_id, config, is_active
) VALUES (
    $1, $2, $3, $4, $5, $6
)
RETURNING ` + connectionColumns + `;`

func (s *PostgresStore) CreateConnection(ctx context.Context, arg store.CreateConnectionParams) (*models.Connection, error) {
	row := s.db.QueryRow(ctx, createConnection,
		arg.ID,
		arg.RecordID,
		arg.IntegrationID,
		arg.ExternalID,
		arg.Config,
		arg.IsActive,
	)
	conn, err := scanConnection(row)
	if err != nil {
		log.Printf("ERROR [PostgresStore] CreateConnection: Insert failed (record %s, integration %s): %v", arg.RecordID, arg.IntegrationID, err)
		return nil, fmt.Errorf("database error creating connection: %w", err)
	}
	return conn, nil
}

const getConnectionByID = `-- name: GetConnectionByID :one
SELECT ` + connectionColumns + `
FROM connections
WHERE id = $1;`

func (s *PostgresStore) GetConnectionByID(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	conn, err := scanConnection(s.db.QueryRow(ctx, getConnectionByID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("error scanning connection: %w", err)
	}
	return conn, nil
}

const listActiveConnectionsByRecord = `-- name: ListActiveConnectionsByRecord :many
SELECT ` + connectionColumns + `
FROM connections
WHERE record_id = $1 AND is_active = TRUE
ORDER BY created_at ASC;`

func (s *PostgresStore) ListActiveConnectionsByRecord(ctx context.Context, recordID uuid.UUID) ([]models.Connection, error) {
	rows, err := s.db.Query(ctx, listActiveConnectionsByRecord, recordID)
	if err != nil {
		return nil, fmt.Errorf("error querying connections: %w", err)
	}
	defer rows.Close()

	var items []models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning connection row: %w", err)
		}
		items = append(items, *conn)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection rows: %w", err)
	}

	return items, nil
}

const listConnectionsByIntegration = `-- name: ListConnectionsByIntegration :many
SELECT ` + connectionColumns + `
FROM connections
WHERE integration_id = $1
ORDER BY created_at ASC;`

func (s *PostgresStore) ListConnectionsByIntegration(ctx context.Context, integrationID uuid.UUID) ([]models.Connection, error) {
	rows, err := s.db.Query(ctx, listConnectionsByIntegration, integrationID)
	if err != nil {
		return nil, fmt.Errorf("error querying connections: %w", err)
	}
	defer rows.Close()

	var items []models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning connection row: %w", err)
		}
		items = append(items, *conn)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection rows: %w", err)
	}

	return items, nil
}

const countConnectionsByIntegration = `-- name: CountConnectionsByIntegration :one
SELECT COUNT(*)
FROM connections
WHERE integration_id = $1;`

func (s *PostgresStore) CountConnectionsByIntegration(ctx context.Context, integrationID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, countConnectionsByIntegration, integrationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting connections: %w", err)
	}
	return count, nil
}

const touchConnectionPosted = `-- name: TouchConnectionPosted :exec
UPDATE connections
SET last_posted_at = $1, updated_at = NOW()
WHERE id = $2;`

func (s *PostgresStore) TouchConnectionPosted(ctx context.Context, id uuid.UUID, postedAt time.Time) error {
	tag, err := s.db.Exec(ctx, touchConnectionPosted, postedAt, id)
	if err != nil {
		return fmt.Errorf("error executing touch connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const setConnectionActive = `-- name: SetConnectionActive :exec
UPDATE connections
SET is_active = $1, updated_at = NOW()
WHERE id = $2;`

func (s *PostgresStore) SetConnectionActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.db.Exec(ctx, setConnectionActive, active, id)
	if err != nil {
		return fmt.Errorf("error executing set connection active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const deleteConnection = `-- name: DeleteConnection :exec
DELETE FROM connections
WHERE id = $1;`

func (s *PostgresStore) DeleteConnection(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, deleteConnection, id)
	if err != nil {
		return fmt.Errorf("error executing delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const deleteConnectionsByIntegration = `-- name: DeleteConnectionsByIntegration :exec
DELETE FROM connections
WHERE integration_id = $1;`

// DeleteConnectionsByIntegration removes every connection under an
// integration. Zero rows affected is not an error here.
func (s *PostgresStore) DeleteConnectionsByIntegration(ctx context.Context, integrationID uuid.UUID) error {
	_, err := s.db.Exec(ctx, deleteConnectionsByIntegration, integrationID)
	if err != nil {
		return fmt.Errorf("error executing delete connections by integration: %w", err)
	}
	return nil
}
