package crypto

import (
	"crypto/cipher"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"recordhub-backend/internal/models"
)

// ErrInvalidTokenData is returned when token data fails validation before
// encryption (e.g. an empty access token).
var ErrInvalidTokenData = errors.New("token data validation failed")

// RefreshThreshold is how close to expiry a token may get before it is
// flagged as needing a refresh.
const RefreshThreshold = 300 * time.Second

// Vault encrypts and decrypts token strings with AES-256-GCM. The key is the
// single process-wide encryption secret, loaded once at startup. A Vault is
// safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// NewVault creates a Vault from a raw 32-byte key. Anything else is a
// configuration error, never silently padded or truncated.
func NewVault(key []byte) (*Vault, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// EncryptString encrypts plaintext and returns hex(IV || ciphertext || tag).
func (v *Vault) EncryptString(plaintext string) (string, error) {
	sealed, err := seal(v.aead, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString. Malformed hex, a wrong key, or any
// tampering all surface as ErrDecryptionFailed; wrong plaintext is never
// silently returned.
func (v *Vault) DecryptString(ciphertext string) (string, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	plaintext, err := open(v.aead, raw)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptTokenData encrypts the access token (required) and refresh token
// (optional) of t, each under its own IV. Expiry and scope pass through
// unchanged.
func (v *Vault) EncryptTokenData(t models.TokenData) (*models.EncryptedTokenData, error) {
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token cannot be empty", ErrInvalidTokenData)
	}

	encAccess, err := v.EncryptString(t.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	enc := &models.EncryptedTokenData{
		AccessToken: encAccess,
		ExpiresAt:   t.ExpiresAt,
		Scope:       t.Scope,
	}

	if t.RefreshToken != "" {
		encRefresh, err := v.EncryptString(t.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		enc.RefreshToken = encRefresh
	}

	return enc, nil
}

// DecryptTokenData is the inverse of EncryptTokenData. The refresh token is
// decrypted only when present.
func (v *Vault) DecryptTokenData(enc models.EncryptedTokenData) (*models.TokenData, error) {
	accessToken, err := v.DecryptString(enc.AccessToken)
	if err != nil {
		return nil, err
	}

	t := &models.TokenData{
		AccessToken: accessToken,
		ExpiresAt:   enc.ExpiresAt,
		Scope:       enc.Scope,
	}

	if enc.RefreshToken != "" {
		refreshToken, err := v.DecryptString(enc.RefreshToken)
		if err != nil {
			return nil, err
		}
		t.RefreshToken = refreshToken
	}

	return t, nil
}

// ValidateToken classifies a token against its expiry. Tokens without an
// expiry are always valid and never need refresh. Tokens inside
// RefreshThreshold of expiry are flagged NeedsRefresh; expired tokens report
// ExpiresIn of zero.
func ValidateToken(t models.TokenData) models.TokenValidation {
	if t.ExpiresAt == nil {
		return models.TokenValidation{IsValid: true}
	}

	remaining := time.Until(*t.ExpiresAt)
	if remaining <= 0 {
		return models.TokenValidation{IsExpired: true}
	}

	return models.TokenValidation{
		IsValid:      true,
		ExpiresIn:    int64(remaining / time.Second),
		NeedsRefresh: remaining <= RefreshThreshold,
	}
}

// SecureCompare compares two strings in constant time with respect to their
// contents. Strings of different lengths are rejected immediately without
// inspecting a single byte.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
