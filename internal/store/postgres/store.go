package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"recordhub-backend/internal/models"
	"recordhub-backend/internal/store"
)

// Compile-time check to ensure PostgresStore implements store.Store
var _ store.Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetUserByEmail retrieves a user by their email address.
// Returns store.ErrNotFound if the user does not exist.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, tenant_id, email, hashed_password, created_at, updated_at
		FROM users
		WHERE email = $1`

	user := &models.User{}
	err := s.db.QueryRow(ctx, query, email).Scan(
		&user.ID,
		&user.TenantID,
		&user.Email,
		&user.HashedPassword,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		log.Printf("ERROR [PostgresStore] GetUserByEmail: Failed to query/scan user for email %s: %v", email, err)
		return nil, fmt.Errorf("database error fetching user by email: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, tenant_id, email, hashed_password, created_at, updated_at
		FROM users
		WHERE id = $1`

	user := &models.User{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.TenantID,
		&user.Email,
		&user.HashedPassword,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		log.Printf("ERROR [PostgresStore] GetUserByID: Failed to query/scan user %s: %v", id, err)
		return nil, fmt.Errorf("database error fetching user by id: %w", err)
	}

	return user, nil
}

// CreateUser inserts a new user record into the database.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, tenant_id, email, hashed_password)
		VALUES ($1, $2, $3, $4)`
	// created_at and updated_at have database defaults (NOW())

	_, err := s.db.Exec(ctx, query,
		user.ID,
		user.TenantID,
		user.Email,
		user.HashedPassword,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// "23505" is unique_violation (duplicate email)
			log.Printf("ERROR [PostgresStore] CreateUser: PostgreSQL error executing insert for email %s: Code=%s, Message=%s, Detail=%s", user.Email, pgErr.Code, pgErr.Message, pgErr.Detail)
		} else {
			log.Printf("ERROR [PostgresStore] CreateUser: Failed to execute insert for email %s: %v", user.Email, err)
		}
		return fmt.Errorf("database error creating user: %w", err)
	}

	return nil
}

// CreateTenant inserts a new tenant record into the database.
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, name)
		VALUES ($1, $2)`

	_, err := s.db.Exec(ctx, query,
		tenant.ID,
		tenant.Name,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			log.Printf("ERROR [PostgresStore] CreateTenant: PostgreSQL error executing insert for tenant %s: Code=%s, Message=%s, Detail=%s", tenant.Name, pgErr.Code, pgErr.Message, pgErr.Detail)
		} else {
			log.Printf("ERROR [PostgresStore] CreateTenant: Failed to execute insert for tenant %s: %v", tenant.Name, err)
		}
		return fmt.Errorf("database error creating tenant: %w", err)
	}

	return nil
}

// --- Record Methods ---

const createRecord = `-- name: CreateRecord :exec
INSERT INTO records (id, tenant_id, title, body, url)
VALUES ($1, $2, $3, $4, $5);
`

func (s *PostgresStore) CreateRecord(ctx context.Context, record *models.Record) error {
	_, err := s.db.Exec(ctx, createRecord,
		record.ID,
		record.TenantID,
		record.Title,
		record.Body,
		record.URL,
	)
	if err != nil {
		log.Printf("ERROR [PostgresStore] CreateRecord: Failed to execute insert for record %s: %v", record.ID, err)
		return fmt.Errorf("database error creating record: %w", err)
	}
	return nil
}

const getRecordByID = `-- name: GetRecordByID :one
SELECT id, tenant_id, title, body, url, created_at, updated_at
FROM records
WHERE id = $1;
`

func (s *PostgresStore) GetRecordByID(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	row := s.db.QueryRow(ctx, getRecordByID, id)

	var r models.Record
	err := row.Scan(
		&r.ID,
		&r.TenantID,
		&r.Title,
		&r.Body,
		&r.URL,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("error scanning record: %w", err)
	}
	return &r, nil
}

const listRecordsByTenant = `-- name: ListRecordsByTenant :many
SELECT id, tenant_id, title, body, url, created_at, updated_at
FROM records
WHERE tenant_id = $1
ORDER BY created_at DESC;
`

func (s *PostgresStore) ListRecordsByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Record, error) {
	rows, err := s.db.Query(ctx, listRecordsByTenant, tenantID)
	if err != nil {
		return nil, fmt.Errorf("error querying records: %w", err)
	}
	defer rows.Close()

	var items []models.Record
	for rows.Next() {
		var r models.Record
		if err := rows.Scan(
			&r.ID,
			&r.TenantID,
			&r.Title,
			&r.Body,
			&r.URL,
			&r.CreatedAt,
			&r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning record row: %w", err)
		}
		items = append(items, r)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record rows: %w", err)
	}

	return items, nil
}
