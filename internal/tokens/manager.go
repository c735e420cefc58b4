package tokens

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"recordhub-backend/internal/crypto"
	"recordhub-backend/internal/models"
	"recordhub-backend/internal/providers"
	"recordhub-backend/internal/store"
)

// Manager is the facade combining the vault and the store for an
// integration's credentials: storing them encrypted, reading them back,
// and producing a guaranteed-valid access token with transparent refresh.
//
// Concurrent refreshes of the same integration are collapsed into a single
// provider call through a per-integration singleflight group; without this,
// two simultaneous callers could both hit the refresh endpoint and, with
// rotating refresh tokens, the second exchange would invalidate the first.
type Manager struct {
	store        store.Store
	vault        *crypto.Vault
	refresher    *RefreshManager
	refreshGroup singleflight.Group
}

// NewManager creates a token Manager.
func NewManager(s store.Store, vault *crypto.Vault, refresher *RefreshManager) *Manager {
	return &Manager{
		store:     s,
		vault:     vault,
		refresher: refresher,
	}
}

// StoreTokenData encrypts the token data and persists it on the
// integration. Callers log failures without necessarily aborting their
// surrounding flow.
func (m *Manager) StoreTokenData(ctx context.Context, integrationID uuid.UUID, t models.TokenData) error {
	enc, err := m.vault.EncryptTokenData(t)
	if err != nil {
		return fmt.Errorf("failed to encrypt token data: %w", err)
	}

	arg := store.UpdateIntegrationTokensParams{
		ID:                   integrationID,
		EncryptedAccessToken: enc.AccessToken,
		TokenExpiresAt:       enc.ExpiresAt,
		LastSyncAt:           time.Now(),
	}
	if enc.RefreshToken != "" {
		refresh := enc.RefreshToken
		arg.EncryptedRefreshToken = &refresh
	}

	if _, err := m.store.UpdateIntegrationTokens(ctx, arg); err != nil {
		return fmt.Errorf("failed to persist token data: %w", err)
	}
	return nil
}

// GetTokenData loads and decrypts an integration's tokens. It returns
// (nil, nil) when the integration does not exist.
func (m *Manager) GetTokenData(ctx context.Context, integrationID uuid.UUID) (*models.TokenData, error) {
	integ, err := m.store.GetIntegrationByID(ctx, integrationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return m.decryptIntegrationTokens(integ)
}

// GetValidTokenData returns token data that is safe to use right now,
// refreshing (and persisting) first when the current token is inside the
// refresh threshold or expired. It returns ErrReauthRequired when no
// usable token can be produced: expired with no refresh token, or a fatal
// refresh failure.
func (m *Manager) GetValidTokenData(ctx context.Context, integ *models.Integration, p providers.Provider) (*models.TokenData, error) {
	t, err := m.decryptIntegrationTokens(integ)
	if err != nil {
		return nil, err
	}

	v := crypto.ValidateToken(*t)
	if v.IsValid && !v.NeedsRefresh {
		return t, nil
	}

	if t.RefreshToken == "" {
		if v.IsExpired {
			return nil, fmt.Errorf("%w: token expired and no refresh token is stored", ErrReauthRequired)
		}
		// Inside the refresh threshold but still valid, and nothing to
		// refresh with: hand out the current token.
		return t, nil
	}

	res, err, _ := m.refreshGroup.Do(integ.ID.String(), func() (interface{}, error) {
		return m.refreshAndPersist(ctx, integ.ID, p.Name(), t.RefreshToken)
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.TokenData), nil
}

// GetValidAccessToken is GetValidTokenData reduced to the access token
// string, for callers that only need a bearer value.
func (m *Manager) GetValidAccessToken(ctx context.Context, integ *models.Integration, p providers.Provider) (string, error) {
	t, err := m.GetValidTokenData(ctx, integ, p)
	if err != nil {
		return "", err
	}
	return t.AccessToken, nil
}

// ForceRefresh refreshes the integration's tokens unconditionally, for
// callers that need a guaranteed-fresh token (e.g. a retry after an
// expired-session response from a provider API). It shares the
// singleflight key with the lazy path.
func (m *Manager) ForceRefresh(ctx context.Context, integ *models.Integration, p providers.Provider) (*models.TokenData, error) {
	t, err := m.decryptIntegrationTokens(integ)
	if err != nil {
		return nil, err
	}
	if t.RefreshToken == "" {
		return nil, fmt.Errorf("%w: integration has no refresh token", ErrReauthRequired)
	}

	res, err, _ := m.refreshGroup.Do(integ.ID.String(), func() (interface{}, error) {
		return m.refreshAndPersist(ctx, integ.ID, p.Name(), t.RefreshToken)
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.TokenData), nil
}

// RevokeToken best-effort revokes the token remotely (skipped when the
// provider has no revocation support) and removes the local credentials.
// It reports whether the local removal succeeded.
func (m *Manager) RevokeToken(ctx context.Context, integrationID uuid.UUID, p providers.Provider) bool {
	t, err := m.GetTokenData(ctx, integrationID)
	if err != nil {
		log.Printf("WARN [TokenManager] RevokeToken: could not load tokens for %s: %v", integrationID, err)
	} else if t != nil && p != nil {
		if revoker, ok := p.(providers.TokenRevoker); ok {
			if err := revoker.RevokeToken(ctx, *t); err != nil {
				log.Printf("WARN [TokenManager] Remote revocation failed for %s: %v", integrationID, err)
			}
		}
	}

	if err := m.store.ClearIntegrationTokens(ctx, integrationID); err != nil {
		log.Printf("ERROR [TokenManager] Failed to clear local tokens for %s: %v", integrationID, err)
		return false
	}
	return true
}

func (m *Manager) refreshAndPersist(ctx context.Context, integrationID uuid.UUID, providerName, refreshToken string) (*models.TokenData, error) {
	fresh, err := m.refresher.RefreshTokenWithRetry(ctx, providerName, refreshToken)
	if err != nil {
		return nil, err
	}

	// Providers that do not rotate refresh tokens omit them in the
	// refresh response; keep the one we have.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = refreshToken
	}

	if err := m.StoreTokenData(ctx, integrationID, *fresh); err != nil {
		// Losing a rotated refresh token is worse than failing loudly.
		return nil, err
	}
	log.Printf("[TokenManager] Refreshed and persisted tokens for integration %s", integrationID)
	return fresh, nil
}

func (m *Manager) decryptIntegrationTokens(integ *models.Integration) (*models.TokenData, error) {
	enc := models.EncryptedTokenData{
		AccessToken: integ.EncryptedAccessToken,
		ExpiresAt:   integ.TokenExpiresAt,
	}
	if integ.EncryptedRefreshToken != nil {
		enc.RefreshToken = *integ.EncryptedRefreshToken
	}
	return m.vault.DecryptTokenData(enc)
}
