package models

import "time"

// TokenData is the transient, decrypted form of a provider's OAuth tokens.
// It is never persisted; the vault turns it into EncryptedTokenData first.
type TokenData struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Scope        string            `json:"scope,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// EncryptedTokenData mirrors TokenData with ciphertext token fields. Each
// ciphertext string carries its own IV inline (hex, IV prefix). The IV field
// is a leftover from an older format where a single IV lived at the top
// level; it is kept so previously stored payloads still unmarshal.
type EncryptedTokenData struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	IV           string     `json:"iv,omitempty"` // Legacy, unused
}

// TokenValidation is the result of classifying a token against its expiry.
type TokenValidation struct {
	IsValid      bool  `json:"is_valid"`
	IsExpired    bool  `json:"is_expired"`
	ExpiresIn    int64 `json:"expires_in"` // Seconds; 0 when expired or no expiry
	NeedsRefresh bool  `json:"needs_refresh"`
}

// Channel visibility kinds.
const (
	ChannelVisibilityPublic  = "public"
	ChannelVisibilityPrivate = "private"
	ChannelVisibilityDirect  = "direct"
)

// Channel is the provider-agnostic shape of a postable destination: a Slack
// channel, a Jira project, a Notion page, a Trello board.
type Channel struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Visibility string            `json:"visibility"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ChangeKind describes what happened to a record.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// MessageData is the provider-agnostic payload delivered to a destination
// when a record changes.
type MessageData struct {
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Author    string     `json:"author"`
	RecordURL string     `json:"record_url"`
	Change    ChangeKind `json:"change"`
}
