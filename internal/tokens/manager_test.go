package tokens

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordhub-backend/internal/crypto"
	"recordhub-backend/internal/models"
	"recordhub-backend/internal/providers"
	"recordhub-backend/internal/store"
)

// fakeTokenStore implements the slices of store.Store the token manager
// touches. Everything else panics via the embedded nil interface.
type fakeTokenStore struct {
	store.Store

	mu           sync.Mutex
	integrations map[uuid.UUID]*models.Integration
	updateCalls  int
	clearCalls   int
	updateErr    error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{integrations: make(map[uuid.UUID]*models.Integration)}
}

func (f *fakeTokenStore) GetIntegrationByID(_ context.Context, id uuid.UUID) (*models.Integration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	integ, ok := f.integrations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *integ
	return &cp, nil
}

func (f *fakeTokenStore) UpdateIntegrationTokens(_ context.Context, arg store.UpdateIntegrationTokensParams) (*models.Integration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	integ, ok := f.integrations[arg.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	integ.EncryptedAccessToken = arg.EncryptedAccessToken
	integ.EncryptedRefreshToken = arg.EncryptedRefreshToken
	integ.TokenExpiresAt = arg.TokenExpiresAt
	integ.LastSyncAt = &arg.LastSyncAt
	cp := *integ
	return &cp, nil
}

func (f *fakeTokenStore) ClearIntegrationTokens(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	integ, ok := f.integrations[id]
	if !ok {
		return store.ErrNotFound
	}
	integ.EncryptedAccessToken = ""
	integ.EncryptedRefreshToken = nil
	integ.TokenExpiresAt = nil
	integ.IsActive = false
	return nil
}

func newTestVault(t *testing.T) *crypto.Vault {
	t.Helper()
	v, err := crypto.NewVault(bytes.Repeat([]byte{0x5a}, 32))
	require.NoError(t, err)
	return v
}

// seedIntegration stores an integration with the given plaintext tokens
// encrypted the same way the real flow would.
func seedIntegration(t *testing.T, fs *fakeTokenStore, v *crypto.Vault, td models.TokenData) *models.Integration {
	t.Helper()
	enc, err := v.EncryptTokenData(td)
	require.NoError(t, err)

	integ := &models.Integration{
		ID:                   uuid.New(),
		TenantID:             uuid.New(),
		ProviderName:         "stub",
		EncryptedAccessToken: enc.AccessToken,
		TokenExpiresAt:       enc.ExpiresAt,
		IsActive:             true,
	}
	if enc.RefreshToken != "" {
		refresh := enc.RefreshToken
		integ.EncryptedRefreshToken = &refresh
	}
	fs.integrations[integ.ID] = integ
	return integ
}

func TestManager_StoreAndGetTokenData(t *testing.T) {
	fs := newFakeTokenStore()
	v := newTestVault(t)
	m := NewManager(fs, v, NewRefreshManager(providers.NewRegistry()))

	integ := seedIntegration(t, fs, v, models.TokenData{AccessToken: "seeded"})

	err := m.StoreTokenData(context.Background(), integ.ID, models.TokenData{
		AccessToken:  "replacement",
		RefreshToken: "replacement-refresh",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fs.updateCalls)

	// Ciphertext landed in the store, not plaintext.
	stored := fs.integrations[integ.ID]
	assert.NotEqual(t, "replacement", stored.EncryptedAccessToken)
	require.NotNil(t, stored.EncryptedRefreshToken)
	assert.NotEqual(t, "replacement-refresh", *stored.EncryptedRefreshToken)

	got, err := m.GetTokenData(context.Background(), integ.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "replacement", got.AccessToken)
	assert.Equal(t, "replacement-refresh", got.RefreshToken)
}

func TestManager_GetTokenData_MissingIntegration(t *testing.T) {
	m := NewManager(newFakeTokenStore(), newTestVault(t), NewRefreshManager(providers.NewRegistry()))

	got, err := m.GetTokenData(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManager_GetValidTokenData_NoRefreshNeeded(t *testing.T) {
	fs := newFakeTokenStore()
	v := newTestVault(t)

	p := &stubProvider{name: "stub"}
	p.refreshFn = func(context.Context, string) (*models.TokenData, error) {
		t.Fatal("refresh must not be called for a healthy token")
		return nil, nil
	}
	reg := providers.NewRegistry()
	reg.Register(p)
	m := NewManager(fs, v, NewRefreshManager(reg))

	expiry := time.Now().Add(time.Hour)
	integ := seedIntegration(t, fs, v, models.TokenData{AccessToken: "healthy", ExpiresAt: &expiry})

	got, err := m.GetValidTokenData(context.Background(), integ, p)
	require.NoError(t, err)
	assert.Equal(t, "healthy", got.AccessToken)
	assert.Equal(t, 0, p.refreshCall)
}

func TestManager_GetValidTokenData_RefreshesNearExpiry(t *testing.T) {
	fs := newFakeTokenStore()
	v := newTestVault(t)

	newExpiry := time.Now().Add(time.Hour)
	p := &stubProvider{name: "stub"}
	p.refreshFn = func(_ context.Context, refreshToken string) (*models.TokenData, error) {
		assert.Equal(t, "stored-refresh", refreshToken)
		return &models.TokenData{AccessToken: "fresh", RefreshToken: "rotated", ExpiresAt: &newExpiry}, nil
	}
	reg := providers.NewRegistry()
	reg.Register(p)
	m := NewManager(fs, v, NewRefreshManager(reg))

	nearExpiry := time.Now().Add(60 * time.Second)
	integ := seedIntegration(t, fs, v, models.TokenData{
		AccessToken:  "stale",
		RefreshToken: "stored-refresh",
		ExpiresAt:    &nearExpiry,
	})

	got, err := m.GetValidTokenData(context.Background(), integ, p)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.AccessToken)
	assert.Equal(t, "rotated", got.RefreshToken)
	assert.Equal(t, 1, fs.updateCalls, "refreshed tokens must be persisted")

	// Rotated refresh token is what got stored.
	stored, err := m.GetTokenData(context.Background(), integ.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated", stored.RefreshToken)
}

func TestManager_GetValidTokenData_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	fs := newFakeTokenStore()
	v := newTestVault(t)

	p := &stubProvider{name: "stub"}
	p.refreshFn = func(context.Context, string) (*models.TokenData, error) {
		// No refresh token in the response.
		return &models.TokenData{AccessToken: "fresh"}, nil
	}
	reg := providers.NewRegistry()
	reg.Register(p)
	m := NewManager(fs, v, NewRefreshManager(reg))

	nearExpiry := time.Now().Add(60 * time.Second)
	integ := seedIntegration(t, fs, v, models.TokenData{
		AccessToken:  "stale",
		RefreshToken: "keep-me",
		ExpiresAt:    &nearExpiry,
	})

	got, err := m.GetValidTokenData(context.Background(), integ, p)
	require.NoError(t, err)
	assert.Equal(t, "keep-me", got.RefreshToken)
}

func TestManager_GetValidTokenData_ExpiredWithoutRefreshToken(t *testing.T) {
	fs := newFakeTokenStore()
	v := newTestVault(t)
	p := &stubProvider{name: "stub"}
	reg := providers.NewRegistry()
	reg.Register(p)
	m := NewManager(fs, v, NewRefreshManager(reg))

	past := time.Now().Add(-time.Minute)
	integ := seedIntegration(t, fs, v, models.TokenData{AccessToken: "dead", ExpiresAt: &past})

	_, err := m.GetValidTokenData(context.Background(), integ, p)
	assert.ErrorIs(t, err, ErrReauthRequired)
}

func TestManager_GetValidTokenData_NearExpiryWithoutRefreshToken(t *testing.T) {
	fs := newFakeTokenStore()
	v := newTestVault(t)
	p := &stubProvider{name: "stub"}
	reg := providers.NewRegistry()
	reg.Register(p)
	m := NewManager(fs, v, NewRefreshManager(reg))

	// Inside the threshold but not expired: the current token is still
	// usable and is handed out as-is.
	soon := time.Now().Add(60 * time.Second)
	integ := seedIntegration(t, fs, v, models.TokenData{AccessToken: "short-lived", ExpiresAt: &soon})

	got, err := m.GetValidTokenData(context.Background(), integ, p)
	require.NoError(t, err)
	assert.Equal(t, "short-lived", got.AccessToken)
}

func TestManager_GetValidTokenData_PersistFailureSurfaces(t *testing.T) {
	fs := newFakeTokenStore()
	v := newTestVault(t)

	p := &stubProvider{name: "stub"}
	p.refreshFn = func(context.Context, string) (*models.TokenData, error) {
		return &models.TokenData{AccessToken: "fresh", RefreshToken: "rotated"}, nil
	}
	reg := providers.NewRegistry()
	reg.Register(p)
	m := NewManager(fs, v, NewRefreshManager(reg))

	nearExpiry := time.Now().Add(60 * time.Second)
	integ := seedIntegration(t, fs, v, models.TokenData{
		AccessToken:  "stale",
		RefreshToken: "stored-refresh",
		ExpiresAt:    &nearExpiry,
	})
	fs.updateErr = errors.New("db down")

	_, err := m.GetValidTokenData(context.Background(), integ, p)
	assert.Error(t, err)
}

func TestManager_ForceRefresh(t *testing.T) {
	fs := newFakeTokenStore()
	v := newTestVault(t)

	p := &stubProvider{name: "stub"}
	p.refreshFn = func(context.Context, string) (*models.TokenData, error) {
		return &models.TokenData{AccessToken: "forced"}, nil
	}
	reg := providers.NewRegistry()
	reg.Register(p)
	m := NewManager(fs, v, NewRefreshManager(reg))

	// Token is nowhere near expiry; ForceRefresh refreshes anyway.
	far := time.Now().Add(time.Hour)
	integ := seedIntegration(t, fs, v, models.TokenData{
		AccessToken:  "current",
		RefreshToken: "r",
		ExpiresAt:    &far,
	})

	got, err := m.ForceRefresh(context.Background(), integ, p)
	require.NoError(t, err)
	assert.Equal(t, "forced", got.AccessToken)
	assert.Equal(t, 1, p.refreshCall)

	// Without a refresh token there is nothing to force.
	integ2 := seedIntegration(t, fs, v, models.TokenData{AccessToken: "no-refresh"})
	_, err = m.ForceRefresh(context.Background(), integ2, p)
	assert.ErrorIs(t, err, ErrReauthRequired)
}

func TestManager_RevokeToken(t *testing.T) {
	fs := newFakeTokenStore()
	v := newTestVault(t)
	p := &stubProvider{name: "stub"}
	m := NewManager(fs, v, NewRefreshManager(providers.NewRegistry()))

	integ := seedIntegration(t, fs, v, models.TokenData{AccessToken: "to-revoke"})

	// stubProvider has no TokenRevoker; local clearing still happens.
	ok := m.RevokeToken(context.Background(), integ.ID, p)
	assert.True(t, ok)
	assert.Equal(t, 1, fs.clearCalls)
	assert.Empty(t, fs.integrations[integ.ID].EncryptedAccessToken)
	assert.False(t, fs.integrations[integ.ID].IsActive)
}
