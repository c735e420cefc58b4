// Package oauthstate mints and validates the signed, time-boxed state
// tokens that guard OAuth authorization flows. A state proves that a
// callback corresponds to a request this system initiated, and binds the
// callback to one tenant and one provider.
//
// Wire format: base64url(JSON payload) + "." + hex(HMAC-SHA256(payload)).
package oauthstate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoSecret         = errors.New("oauth state secret is not configured")
	ErrInvalidSignature = errors.New("oauth state signature mismatch")
	ErrExpiredState     = errors.New("oauth state has expired")
	ErrMalformedState   = errors.New("oauth state is malformed")
)

// DefaultValidity is how long a minted state remains acceptable.
const DefaultValidity = 10 * time.Minute

// State is the parsed payload of a validated state token.
type State struct {
	TenantID    uuid.UUID         `json:"tenant_id"`
	Provider    string            `json:"provider"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Timestamp   int64             `json:"ts"` // Unix seconds
	Nonce       string            `json:"nonce"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Manager signs and validates state tokens with a server-side secret.
type Manager struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time // Overridable in tests
}

// NewManager creates a Manager. An empty secret is a configuration error.
// Passing zero for validity uses DefaultValidity.
func NewManager(secret string, validity time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Manager{
		secret:   []byte(secret),
		validity: validity,
		now:      time.Now,
	}, nil
}

// Generate serializes a payload for the given tenant and provider and
// appends an HMAC signature over it. Callers starting an OAuth flow must
// put their chosen redirect URI into extra so the callback handler can
// reconstruct it without a separate session store.
func (m *Manager) Generate(tenantID uuid.UUID, provider, redirectURL string, extra map[string]string) (string, error) {
	if tenantID == uuid.Nil || provider == "" {
		return "", fmt.Errorf("%w: tenant and provider are required", ErrMalformedState)
	}

	payload, err := json.Marshal(State{
		TenantID:    tenantID,
		Provider:    provider,
		RedirectURL: redirectURL,
		Timestamp:   m.now().Unix(),
		Nonce:       uuid.NewString(),
		Extra:       extra,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize oauth state: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + m.sign(encoded), nil
}

// Validate recomputes the HMAC over the received payload and parses it.
// It rejects tampered signatures, malformed payloads, payloads missing
// required fields, and states older than the validity window.
func (m *Manager) Validate(raw string) (*State, error) {
	encoded, sig, found := strings.Cut(raw, ".")
	if !found || encoded == "" || sig == "" {
		return nil, ErrMalformedState
	}

	expected := m.sign(encoded)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return nil, ErrInvalidSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformedState
	}

	var st State
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, ErrMalformedState
	}
	if st.TenantID == uuid.Nil || st.Provider == "" || st.Timestamp == 0 {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformedState)
	}

	age := m.now().Sub(time.Unix(st.Timestamp, 0))
	if age > m.validity {
		return nil, fmt.Errorf("%w: state is %s old", ErrExpiredState, age.Truncate(time.Second))
	}

	return &st, nil
}

func (m *Manager) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(encodedPayload))
	return hex.EncodeToString(mac.Sum(nil))
}
