package providers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordhub-backend/internal/models"
)

type fakeProvider struct {
	name     string
	category string
}

var _ Provider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Category() string { return f.category }

func (f *fakeProvider) GetAuthURL(ctx context.Context, tenantID uuid.UUID, redirectURI, state string, extra map[string]string) (string, error) {
	return "https://example.com/authorize", nil
}

func (f *fakeProvider) HandleCallback(ctx context.Context, params CallbackParams) (*models.TokenData, error) {
	return &models.TokenData{AccessToken: "tok"}, nil
}

func (f *fakeProvider) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenData, error) {
	return nil, ErrUnsupportedOperation
}

func (f *fakeProvider) GetAvailableChannels(ctx context.Context, integration *models.Integration, token models.TokenData) ([]models.Channel, error) {
	return nil, nil
}

func (f *fakeProvider) PostMessage(ctx context.Context, integration *models.Integration, conn *models.Connection, token models.TokenData, msg models.MessageData) error {
	return nil
}

func (f *fakeProvider) ValidateConnection(ctx context.Context, integration *models.Integration, conn *models.Connection, token models.TokenData) bool {
	return true
}

func (f *fakeProvider) GetConfigSchema() ConfigSchema {
	return ConfigSchema{Provider: f.name}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	slack := &fakeProvider{name: "slack", category: CategoryChat}
	r.Register(slack)

	got, err := r.Get("slack")
	require.NoError(t, err)
	assert.Same(t, slack, got)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.Contains(t, err.Error(), "nope")
}

func TestRegistry_DuplicateOverwrites(t *testing.T) {
	r := NewRegistry()
	first := &fakeProvider{name: "slack", category: CategoryChat}
	second := &fakeProvider{name: "slack", category: CategoryChat}
	r.Register(first)
	r.Register(second)

	got, err := r.Get("slack")
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Len(t, r.Names(), 1)
}

func TestRegistry_GetByCategory(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "slack", category: CategoryChat})
	r.Register(&fakeProvider{name: "jira", category: CategoryIssues})
	r.Register(&fakeProvider{name: "notion", category: CategoryDocs})

	chat := r.GetByCategory(CategoryChat)
	require.Len(t, chat, 1)
	assert.Equal(t, "slack", chat[0].Name())

	assert.Empty(t, r.GetByCategory(CategoryBoards))
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "slack", category: CategoryChat})
	r.Register(&fakeProvider{name: "trello", category: CategoryBoards})

	assert.ElementsMatch(t, []string{"slack", "trello"}, r.Names())
}
