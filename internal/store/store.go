package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"recordhub-backend/internal/models"
)

// ErrNotFound is returned when a specific record is not found.
var ErrNotFound = errors.New("record not found")

// CreateIntegrationParams contains parameters for creating an integration.
// Token fields are vault ciphertext; plaintext never reaches the store.
type CreateIntegrationParams struct {
	ID                    uuid.UUID
	TenantID              uuid.UUID
	ProviderName          string
	EncryptedAccessToken  string
	EncryptedRefreshToken *string
	TokenExpiresAt        *time.Time
	Config                []byte // JSON marshaled bytes
	IsActive              bool
}

// UpdateIntegrationTokensParams contains parameters for replacing an
// integration's stored tokens after a refresh or reconnect.
type UpdateIntegrationTokensParams struct {
	ID                    uuid.UUID
	EncryptedAccessToken  string
	EncryptedRefreshToken *string
	TokenExpiresAt        *time.Time
	LastSyncAt            time.Time
}

// CreateConnectionParams contains parameters for linking a record to a
// destination.
type CreateConnectionParams struct {
	ID            uuid.UUID
	RecordID      uuid.UUID
	IntegrationID uuid.UUID
	ExternalID    string
	Config        []byte // JSON marshaled bytes
	IsActive      bool
}

// CreateIntegrationLogParams contains parameters for appending one audit
// log entry.
type CreateIntegrationLogParams struct {
	IntegrationID uuid.UUID
	Action        string
	Status        string
	RequestData   []byte
	ResponseData  []byte
	ErrorMessage  *string
}

// Store defines the interface for database operations. The persistence
// engine is an external collaborator reached only through this interface,
// which also allows mocking in tests.
type Store interface {
	// User operations
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	// Tenant operations
	CreateTenant(ctx context.Context, tenant *models.Tenant) error

	// Record operations
	CreateRecord(ctx context.Context, record *models.Record) error
	GetRecordByID(ctx context.Context, id uuid.UUID) (*models.Record, error)
	ListRecordsByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Record, error)

	// Integration operations
	CreateIntegration(ctx context.Context, arg CreateIntegrationParams) (*models.Integration, error)
	GetIntegrationByID(ctx context.Context, id uuid.UUID) (*models.Integration, error)
	GetIntegrationByTenantAndProvider(ctx context.Context, tenantID uuid.UUID, providerName string) (*models.Integration, error)
	ListIntegrationsByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Integration, error)
	UpdateIntegrationTokens(ctx context.Context, arg UpdateIntegrationTokensParams) (*models.Integration, error)
	UpdateIntegrationConfig(ctx context.Context, id uuid.UUID, config []byte) error
	ClearIntegrationTokens(ctx context.Context, id uuid.UUID) error
	DeleteIntegration(ctx context.Context, id uuid.UUID) error

	// Connection operations
	CreateConnection(ctx context.Context, arg CreateConnectionParams) (*models.Connection, error)
	GetConnectionByID(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	ListActiveConnectionsByRecord(ctx context.Context, recordID uuid.UUID) ([]models.Connection, error)
	ListConnectionsByIntegration(ctx context.Context, integrationID uuid.UUID) ([]models.Connection, error)
	CountConnectionsByIntegration(ctx context.Context, integrationID uuid.UUID) (int, error)
	TouchConnectionPosted(ctx context.Context, id uuid.UUID, postedAt time.Time) error
	SetConnectionActive(ctx context.Context, id uuid.UUID, active bool) error
	DeleteConnection(ctx context.Context, id uuid.UUID) error
	DeleteConnectionsByIntegration(ctx context.Context, integrationID uuid.UUID) error

	// Audit log operations (append-only)
	CreateIntegrationLog(ctx context.Context, arg CreateIntegrationLogParams) error
	ListIntegrationLogs(ctx context.Context, integrationID uuid.UUID, status *string, limit int) ([]models.IntegrationLogEntry, error)
}
