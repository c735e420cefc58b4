package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User represents a user in the database.
type User struct {
	ID             uuid.UUID `db:"id"`
	TenantID       uuid.UUID `db:"tenant_id"`
	Email          string    `db:"email"`
	HashedPassword string    `db:"hashed_password"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Tenant represents a tenant workspace in the database.
type Tenant struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Record is a tenant artifact that can be linked to external destinations.
// Changes to a record fan out to every active connection it has.
type Record struct {
	ID        uuid.UUID `db:"id"`
	TenantID  uuid.UUID `db:"tenant_id"`
	Title     string    `db:"title"`
	Body      string    `db:"body"`
	URL       string    `db:"url"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Integration is a tenant's authorized connection to one external provider.
// Token columns hold vault ciphertext (hex, IV inline), never plaintext.
type Integration struct {
	ID                    uuid.UUID       `db:"id"`
	TenantID              uuid.UUID       `db:"tenant_id"`
	ProviderName          string          `db:"provider_name"`
	EncryptedAccessToken  string          `db:"encrypted_access_token"`
	EncryptedRefreshToken *string         `db:"encrypted_refresh_token"`
	TokenExpiresAt        *time.Time      `db:"token_expires_at"`
	Config                json.RawMessage `db:"config"` // Provider-specific, stored as JSONB
	IsActive              bool            `db:"is_active"`
	LastSyncAt            *time.Time      `db:"last_sync_at"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
}

// Connection links one record to one destination (channel/board/page) inside
// an Integration.
type Connection struct {
	ID            uuid.UUID       `db:"id"`
	RecordID      uuid.UUID       `db:"record_id"`
	IntegrationID uuid.UUID       `db:"integration_id"`
	ExternalID    string          `db:"external_id"`
	Config        json.RawMessage `db:"config"` // Stored as JSONB
	IsActive      bool            `db:"is_active"`
	LastPostedAt  *time.Time      `db:"last_posted_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Log entry statuses.
const (
	LogStatusSuccess = "SUCCESS"
	LogStatusError   = "ERROR"
	LogStatusPending = "PENDING"
)

// IntegrationLogEntry is one row of the append-only audit trail kept per
// integration.
type IntegrationLogEntry struct {
	ID            uuid.UUID       `db:"id"`
	IntegrationID uuid.UUID       `db:"integration_id"`
	Action        string          `db:"action"`
	Status        string          `db:"status"` // SUCCESS, ERROR, PENDING
	RequestData   json.RawMessage `db:"request_data"`
	ResponseData  json.RawMessage `db:"response_data"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
}
