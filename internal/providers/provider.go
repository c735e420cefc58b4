// Package providers defines the capability contract every external service
// integration implements, and the registry that resolves implementations by
// name or category. Two OAuth shapes are driven through the same contract:
// standard authorization-code exchange (code + signed state) and the legacy
// request-token/verifier exchange used by older services.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"recordhub-backend/internal/models"
)

var (
	ErrProviderNotFound     = errors.New("no provider registered for this name")
	ErrUnsupportedOperation = errors.New("operation not supported by this provider")
)

// Provider categories.
const (
	CategoryChat   = "chat"
	CategoryIssues = "issues"
	CategoryDocs   = "docs"
	CategoryBoards = "boards"
)

// CallbackParams carries the query parameters a provider redirect delivers
// to the OAuth callback endpoint. Code/State belong to the authorization-
// code flow, OAuthToken/OAuthVerifier to the legacy request-token flow.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	OAuthToken       string
	OAuthVerifier    string
	// RedirectURI is reconstructed from the validated state (or the
	// server-side pending authorization) before the exchange.
	RedirectURI string
}

// ConfigField describes one provider-specific configuration key.
type ConfigField struct {
	Key         string `json:"key"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Pattern     string `json:"pattern,omitempty"`
}

// ConfigSchema is the machine-readable description of a provider's config.
type ConfigSchema struct {
	Provider string        `json:"provider"`
	Fields   []ConfigField `json:"fields"`
}

// Provider is the capability interface every external service implements.
//
// Methods that talk to the provider's API receive the decrypted TokenData
// explicitly; providers never reach back into the vault or the store.
type Provider interface {
	// Name returns the registry key, e.g. "slack".
	Name() string

	// Category groups providers by what they connect to (chat, issues, ...).
	Category() string

	// GetAuthURL builds the URL the user is redirected to. state is empty
	// for request-token providers, which stash their authorization context
	// server-side instead.
	GetAuthURL(ctx context.Context, tenantID uuid.UUID, redirectURI, state string, extra map[string]string) (string, error)

	// HandleCallback exchanges the callback parameters for tokens.
	HandleCallback(ctx context.Context, params CallbackParams) (*models.TokenData, error)

	// RefreshToken exchanges a refresh token for fresh TokenData. Providers
	// whose tokens never expire return ErrUnsupportedOperation.
	RefreshToken(ctx context.Context, refreshToken string) (*models.TokenData, error)

	// GetAvailableChannels lists the destinations the integration may post to.
	GetAvailableChannels(ctx context.Context, integration *models.Integration, token models.TokenData) ([]models.Channel, error)

	// PostMessage delivers a record-change message to the connection's
	// destination.
	PostMessage(ctx context.Context, integration *models.Integration, conn *models.Connection, token models.TokenData, msg models.MessageData) error

	// ValidateConnection reports whether the connection's destination is
	// still reachable. It never returns an error; any failure is false.
	ValidateConnection(ctx context.Context, integration *models.Integration, conn *models.Connection, token models.TokenData) bool

	// GetConfigSchema describes the provider-specific config fields.
	GetConfigSchema() ConfigSchema
}

// RequestTokenFlow marks providers whose authorization starts with a
// server-side request token instead of a signed state parameter. The
// orchestration layer skips state minting for them.
type RequestTokenFlow interface {
	RequestTokenFlow()
}

// TokenRevoker is optionally implemented by providers that support remote
// token revocation. Revocation is best-effort; providers without it are
// simply skipped.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, token models.TokenData) error
}

// APIError is an HTTP-level failure from a provider API. The status code
// lets callers distinguish retryable failures (429, 5xx) from fatal ones.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the error is worth retrying (rate limiting or a
// server-side failure).
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// FormatMessageText renders a MessageData as plain text, shared by
// providers whose destinations take free-form text.
func FormatMessageText(msg models.MessageData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Record %s: %s", msg.Change, msg.Title)
	if msg.Author != "" {
		fmt.Fprintf(&b, "\nby %s", msg.Author)
	}
	if msg.Content != "" {
		fmt.Fprintf(&b, "\n\n%s", msg.Content)
	}
	if msg.RecordURL != "" {
		fmt.Fprintf(&b, "\n%s", msg.RecordURL)
	}
	return b.String()
}
