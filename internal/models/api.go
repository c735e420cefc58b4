package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// --- Request Structs ---

// SignupRequest defines the expected body for the signup endpoint.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest defines the expected body for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// InitiateOAuthRequest defines the body for starting an OAuth flow.
type InitiateOAuthRequest struct {
	RedirectURI string            `json:"redirect_uri"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// ConnectChannelRequest defines the body for linking a record to a
// destination inside an integration.
type ConnectChannelRequest struct {
	RecordID      uuid.UUID       `json:"record_id"`
	IntegrationID uuid.UUID       `json:"integration_id"`
	ChannelID     string          `json:"channel_id"`
	Config        json.RawMessage `json:"config,omitempty"`
}

// RecordChangeRequest defines the body for notifying connections of a
// record change.
type RecordChangeRequest struct {
	Change ChangeKind `json:"change"`
}

// CreateRecordRequest defines the body for creating a record.
type CreateRecordRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// --- Response Structs ---

// UserResponse defines the user information returned by the API.
// Never includes the hashed password.
type UserResponse struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	TenantID uuid.UUID `json:"tenant_id"`
}

// AuthResponse defines the response body for successful authentication.
type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	User        UserResponse `json:"user"`
}

// ErrorResponse defines the standard structure for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// InitiateOAuthResponse carries the provider authorization URL the caller
// should redirect to, and the signed state guarding the callback. State is
// empty for legacy request-token providers, which keep their authorization
// context server-side.
type InitiateOAuthResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state,omitempty"`
}

// IntegrationResponse defines the integration fields returned by the API.
// Token ciphertext never leaves the server.
type IntegrationResponse struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	ProviderName string          `json:"provider_name"`
	Config       json.RawMessage `json:"config,omitempty"`
	IsActive     bool            `json:"is_active"`
	LastSyncAt   *time.Time      `json:"last_sync_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ConnectionResponse defines the connection fields returned by the API.
type ConnectionResponse struct {
	ID            uuid.UUID       `json:"id"`
	RecordID      uuid.UUID       `json:"record_id"`
	IntegrationID uuid.UUID       `json:"integration_id"`
	ExternalID    string          `json:"external_id"`
	Config        json.RawMessage `json:"config,omitempty"`
	IsActive      bool            `json:"is_active"`
	LastPostedAt  *time.Time      `json:"last_posted_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// IntegrationStatusResponse is the derived status view of an integration.
type IntegrationStatusResponse struct {
	Status          string                `json:"status"` // active, token-expired, disconnected
	LastSync        *time.Time            `json:"last_sync,omitempty"`
	ConnectionCount int                   `json:"connection_count"`
	RecentErrors    []IntegrationLogEntry `json:"recent_errors"`
}

// RecordResponse defines the record fields returned by the API.
type RecordResponse struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
