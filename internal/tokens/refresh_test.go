package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordhub-backend/internal/models"
	"recordhub-backend/internal/providers"
)

// stubProvider implements providers.Provider with a scriptable RefreshToken.
type stubProvider struct {
	name        string
	refreshFn   func(ctx context.Context, refreshToken string) (*models.TokenData, error)
	refreshCall int
}

func (s *stubProvider) Name() string     { return s.name }
func (s *stubProvider) Category() string { return providers.CategoryChat }

func (s *stubProvider) GetAuthURL(context.Context, uuid.UUID, string, string, map[string]string) (string, error) {
	return "https://example.com/authorize", nil
}

func (s *stubProvider) HandleCallback(context.Context, providers.CallbackParams) (*models.TokenData, error) {
	return nil, errors.New("not implemented")
}

func (s *stubProvider) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenData, error) {
	s.refreshCall++
	return s.refreshFn(ctx, refreshToken)
}

func (s *stubProvider) GetAvailableChannels(context.Context, *models.Integration, models.TokenData) ([]models.Channel, error) {
	return nil, nil
}

func (s *stubProvider) PostMessage(context.Context, *models.Integration, *models.Connection, models.TokenData, models.MessageData) error {
	return nil
}

func (s *stubProvider) ValidateConnection(context.Context, *models.Integration, *models.Connection, models.TokenData) bool {
	return true
}

func (s *stubProvider) GetConfigSchema() providers.ConfigSchema {
	return providers.ConfigSchema{Provider: s.name}
}

var _ providers.Provider = (*stubProvider)(nil)

// newTestRefreshManager returns a manager whose backoff sleeps are recorded
// instead of slept.
func newTestRefreshManager(reg *providers.Registry) (*RefreshManager, *[]time.Duration) {
	rm := NewRefreshManager(reg)
	var slept []time.Duration
	rm.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return rm, &slept
}

func TestRefreshTokenWithRetry_Success(t *testing.T) {
	p := &stubProvider{name: "stub"}
	p.refreshFn = func(_ context.Context, refreshToken string) (*models.TokenData, error) {
		assert.Equal(t, "old-refresh", refreshToken)
		return &models.TokenData{AccessToken: "new-access", RefreshToken: "new-refresh"}, nil
	}
	reg := providers.NewRegistry()
	reg.Register(p)
	rm, slept := newTestRefreshManager(reg)

	token, err := rm.RefreshTokenWithRetry(context.Background(), "stub", "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", token.AccessToken)
	assert.Equal(t, 1, p.refreshCall)
	assert.Empty(t, *slept)
}

func TestRefreshTokenWithRetry_RetryableThenSuccess(t *testing.T) {
	p := &stubProvider{name: "stub"}
	p.refreshFn = func(context.Context, string) (*models.TokenData, error) {
		if p.refreshCall < 3 {
			return nil, &providers.APIError{StatusCode: 503, Body: "unavailable"}
		}
		return &models.TokenData{AccessToken: "recovered"}, nil
	}
	reg := providers.NewRegistry()
	reg.Register(p)
	rm, slept := newTestRefreshManager(reg)

	token, err := rm.RefreshTokenWithRetry(context.Background(), "stub", "r")
	require.NoError(t, err)
	assert.Equal(t, "recovered", token.AccessToken)
	assert.Equal(t, 3, p.refreshCall)
	// Backoff grows between attempts.
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *slept)
}

func TestRefreshTokenWithRetry_ExhaustsAttempts(t *testing.T) {
	apiErr := &providers.APIError{StatusCode: 429, Body: "rate limited"}
	p := &stubProvider{name: "stub"}
	p.refreshFn = func(context.Context, string) (*models.TokenData, error) {
		return nil, apiErr
	}
	reg := providers.NewRegistry()
	reg.Register(p)
	rm, _ := newTestRefreshManager(reg)

	_, err := rm.RefreshTokenWithRetry(context.Background(), "stub", "r")
	require.Error(t, err)
	// After exhausting retries the last provider error surfaces, not a
	// reauth signal.
	assert.NotErrorIs(t, err, ErrReauthRequired)
	var gotAPIErr *providers.APIError
	assert.ErrorAs(t, err, &gotAPIErr)
	assert.Equal(t, defaultMaxAttempts, p.refreshCall)
}

func TestRefreshTokenWithRetry_FatalFailsImmediately(t *testing.T) {
	p := &stubProvider{name: "stub"}
	p.refreshFn = func(context.Context, string) (*models.TokenData, error) {
		// A 400 invalid_grant style rejection must not be retried.
		return nil, &providers.APIError{StatusCode: 400, Body: `{"error":"invalid_grant"}`}
	}
	reg := providers.NewRegistry()
	reg.Register(p)
	rm, slept := newTestRefreshManager(reg)

	_, err := rm.RefreshTokenWithRetry(context.Background(), "stub", "r")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReauthRequired)
	assert.Equal(t, 1, p.refreshCall)
	assert.Empty(t, *slept)
}

func TestRefreshTokenWithRetry_UnknownProvider(t *testing.T) {
	rm, _ := newTestRefreshManager(providers.NewRegistry())

	_, err := rm.RefreshTokenWithRetry(context.Background(), "nope", "r")
	assert.ErrorIs(t, err, providers.ErrProviderNotFound)
}

func TestShouldRefreshToken(t *testing.T) {
	rm := NewRefreshManager(providers.NewRegistry())

	soon := time.Now().Add(100 * time.Second)
	far := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Minute)

	assert.True(t, rm.ShouldRefreshToken(models.TokenData{AccessToken: "a", ExpiresAt: &soon}))
	assert.False(t, rm.ShouldRefreshToken(models.TokenData{AccessToken: "a", ExpiresAt: &far}))
	// Already expired: refreshing is pointless from the caller's view,
	// that path goes through reauth handling instead.
	assert.False(t, rm.ShouldRefreshToken(models.TokenData{AccessToken: "a", ExpiresAt: &past}))
	assert.False(t, rm.ShouldRefreshToken(models.TokenData{AccessToken: "a"}))

	assert.True(t, rm.IsTokenExpired(models.TokenData{AccessToken: "a", ExpiresAt: &past}))
	assert.False(t, rm.IsTokenExpired(models.TokenData{AccessToken: "a"}))
}
