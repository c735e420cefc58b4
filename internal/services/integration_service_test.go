package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordhub-backend/internal/crypto"
	"recordhub-backend/internal/models"
	"recordhub-backend/internal/oauthstate"
	"recordhub-backend/internal/providers"
	"recordhub-backend/internal/store"
	"recordhub-backend/internal/tokens"
)

// fakeStore implements the subset of store.Store the integration service
// exercises. The embedded interface panics on anything not overridden,
// which catches unexpected store calls.
type fakeStore struct {
	store.Store

	records      map[uuid.UUID]*models.Record
	users        map[uuid.UUID]*models.User
	integrations map[uuid.UUID]*models.Integration
	connections  map[uuid.UUID][]models.Connection

	recordGets      int
	createdIntegs   []store.CreateIntegrationParams
	createdConns    []store.CreateConnectionParams
	updateTokenArgs []store.UpdateIntegrationTokensParams
	touched         []uuid.UUID
	activeFlips     []bool
	logs            []store.CreateIntegrationLogParams
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:      make(map[uuid.UUID]*models.Record),
		users:        make(map[uuid.UUID]*models.User),
		integrations: make(map[uuid.UUID]*models.Integration),
		connections:  make(map[uuid.UUID][]models.Connection),
	}
}

func (f *fakeStore) GetRecordByID(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	f.recordGets++
	if r, ok := f.records[id]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetIntegrationByID(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	if integ, ok := f.integrations[id]; ok {
		return integ, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetIntegrationByTenantAndProvider(ctx context.Context, tenantID uuid.UUID, providerName string) (*models.Integration, error) {
	for _, integ := range f.integrations {
		if integ.TenantID == tenantID && integ.ProviderName == providerName {
			return integ, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateIntegration(ctx context.Context, arg store.CreateIntegrationParams) (*models.Integration, error) {
	f.createdIntegs = append(f.createdIntegs, arg)
	integ := &models.Integration{
		ID:                    arg.ID,
		TenantID:              arg.TenantID,
		ProviderName:          arg.ProviderName,
		EncryptedAccessToken:  arg.EncryptedAccessToken,
		EncryptedRefreshToken: arg.EncryptedRefreshToken,
		TokenExpiresAt:        arg.TokenExpiresAt,
		Config:                arg.Config,
		IsActive:              arg.IsActive,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}
	f.integrations[integ.ID] = integ
	return integ, nil
}

func (f *fakeStore) UpdateIntegrationTokens(ctx context.Context, arg store.UpdateIntegrationTokensParams) (*models.Integration, error) {
	f.updateTokenArgs = append(f.updateTokenArgs, arg)
	integ, ok := f.integrations[arg.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	integ.EncryptedAccessToken = arg.EncryptedAccessToken
	integ.EncryptedRefreshToken = arg.EncryptedRefreshToken
	integ.TokenExpiresAt = arg.TokenExpiresAt
	integ.LastSyncAt = &arg.LastSyncAt
	integ.IsActive = true
	return integ, nil
}

func (f *fakeStore) UpdateIntegrationConfig(ctx context.Context, id uuid.UUID, config []byte) error {
	integ, ok := f.integrations[id]
	if !ok {
		return store.ErrNotFound
	}
	integ.Config = config
	return nil
}

func (f *fakeStore) CreateConnection(ctx context.Context, arg store.CreateConnectionParams) (*models.Connection, error) {
	f.createdConns = append(f.createdConns, arg)
	conn := &models.Connection{
		ID:            arg.ID,
		RecordID:      arg.RecordID,
		IntegrationID: arg.IntegrationID,
		ExternalID:    arg.ExternalID,
		Config:        arg.Config,
		IsActive:      arg.IsActive,
		CreatedAt:     time.Now(),
	}
	f.connections[arg.RecordID] = append(f.connections[arg.RecordID], *conn)
	return conn, nil
}

func (f *fakeStore) GetConnectionByID(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	for _, conns := range f.connections {
		for i := range conns {
			if conns[i].ID == id {
				return &conns[i], nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) SetConnectionActive(ctx context.Context, id uuid.UUID, active bool) error {
	for _, conns := range f.connections {
		for i := range conns {
			if conns[i].ID == id {
				conns[i].IsActive = active
				f.activeFlips = append(f.activeFlips, active)
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) ListActiveConnectionsByRecord(ctx context.Context, recordID uuid.UUID) ([]models.Connection, error) {
	return f.connections[recordID], nil
}

func (f *fakeStore) CountConnectionsByIntegration(ctx context.Context, integrationID uuid.UUID) (int, error) {
	count := 0
	for _, conns := range f.connections {
		for _, c := range conns {
			if c.IntegrationID == integrationID {
				count++
			}
		}
	}
	return count, nil
}

func (f *fakeStore) TouchConnectionPosted(ctx context.Context, id uuid.UUID, postedAt time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeStore) CreateIntegrationLog(ctx context.Context, arg store.CreateIntegrationLogParams) error {
	f.logs = append(f.logs, arg)
	return nil
}

func (f *fakeStore) ListIntegrationLogs(ctx context.Context, integrationID uuid.UUID, status *string, limit int) ([]models.IntegrationLogEntry, error) {
	return nil, nil
}

func (f *fakeStore) logsWithStatus(status string) []store.CreateIntegrationLogParams {
	var out []store.CreateIntegrationLogParams
	for _, l := range f.logs {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out
}

// fakeChatProvider is a scriptable provider for service tests.
type fakeChatProvider struct {
	name        string
	channels    []models.Channel
	callbackFn  func(providers.CallbackParams) (*models.TokenData, error)
	postErrFor  map[string]error // keyed by connection external ID
	unreachable map[string]bool  // external IDs ValidateConnection rejects
	posted      []string
}

var _ providers.Provider = (*fakeChatProvider)(nil)

func (f *fakeChatProvider) Name() string     { return f.name }
func (f *fakeChatProvider) Category() string { return providers.CategoryChat }

func (f *fakeChatProvider) GetAuthURL(ctx context.Context, tenantID uuid.UUID, redirectURI, state string, extra map[string]string) (string, error) {
	return "https://" + f.name + ".example.com/authorize?state=" + state, nil
}

func (f *fakeChatProvider) HandleCallback(ctx context.Context, params providers.CallbackParams) (*models.TokenData, error) {
	if f.callbackFn != nil {
		return f.callbackFn(params)
	}
	return &models.TokenData{AccessToken: "token"}, nil
}

func (f *fakeChatProvider) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenData, error) {
	return nil, providers.ErrUnsupportedOperation
}

func (f *fakeChatProvider) GetAvailableChannels(ctx context.Context, integration *models.Integration, token models.TokenData) ([]models.Channel, error) {
	return f.channels, nil
}

func (f *fakeChatProvider) PostMessage(ctx context.Context, integration *models.Integration, conn *models.Connection, token models.TokenData, msg models.MessageData) error {
	if err, ok := f.postErrFor[conn.ExternalID]; ok {
		return err
	}
	f.posted = append(f.posted, conn.ExternalID)
	return nil
}

func (f *fakeChatProvider) ValidateConnection(ctx context.Context, integration *models.Integration, conn *models.Connection, token models.TokenData) bool {
	return !f.unreachable[conn.ExternalID]
}

func (f *fakeChatProvider) GetConfigSchema() providers.ConfigSchema {
	return providers.ConfigSchema{Provider: f.name}
}

// fakeLegacyProvider is a request-token provider.
type fakeLegacyProvider struct {
	fakeChatProvider
}

func (f *fakeLegacyProvider) RequestTokenFlow() {}

func newServiceUnderTest(t *testing.T, fs *fakeStore, provs ...providers.Provider) (IntegrationService, *oauthstate.Manager, *crypto.Vault) {
	t.Helper()
	vault, err := crypto.NewVault(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	states, err := oauthstate.NewManager("service-test-secret", 10*time.Minute)
	require.NoError(t, err)

	reg := providers.NewRegistry()
	for _, p := range provs {
		reg.Register(p)
	}
	tm := tokens.NewManager(fs, vault, tokens.NewRefreshManager(reg))
	return NewIntegrationService(fs, vault, reg, states, tm), states, vault
}

// seedAuthorized stores an integration whose tokens decrypt with the given
// vault and never expire, so no refresh interferes with the test.
func seedAuthorized(t *testing.T, fs *fakeStore, vault *crypto.Vault, tenantID uuid.UUID, providerName string) *models.Integration {
	t.Helper()
	enc, err := vault.EncryptTokenData(models.TokenData{AccessToken: "plain-access"})
	require.NoError(t, err)

	integ := &models.Integration{
		ID:                   uuid.New(),
		TenantID:             tenantID,
		ProviderName:         providerName,
		EncryptedAccessToken: enc.AccessToken,
		IsActive:             true,
	}
	fs.integrations[integ.ID] = integ
	return integ
}

func addConnection(fs *fakeStore, recordID, integrationID uuid.UUID, externalID string) uuid.UUID {
	id := uuid.New()
	fs.connections[recordID] = append(fs.connections[recordID], models.Connection{
		ID:            id,
		RecordID:      recordID,
		IntegrationID: integrationID,
		ExternalID:    externalID,
		IsActive:      true,
	})
	return id
}

// --- OAuth flow ---

func TestInitiateOAuth_AuthorizationCodeFlow(t *testing.T) {
	fs := newFakeStore()
	p := &fakeChatProvider{name: "slack"}
	svc, states, _ := newServiceUnderTest(t, fs, p)

	tenantID := uuid.New()
	resp, err := svc.InitiateOAuth(context.Background(), tenantID, "slack", models.InitiateOAuthRequest{
		RedirectURI: "https://app.example.com/done",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.State)
	assert.Contains(t, resp.AuthURL, resp.State)

	st, err := states.Validate(resp.State)
	require.NoError(t, err)
	assert.Equal(t, tenantID, st.TenantID)
	assert.Equal(t, "slack", st.Provider)
	assert.Equal(t, "https://app.example.com/done", st.RedirectURL)
}

func TestInitiateOAuth_RequestTokenFlowOmitsState(t *testing.T) {
	fs := newFakeStore()
	p := &fakeLegacyProvider{fakeChatProvider{name: "trello"}}
	svc, _, _ := newServiceUnderTest(t, fs, p)

	resp, err := svc.InitiateOAuth(context.Background(), uuid.New(), "trello", models.InitiateOAuthRequest{
		RedirectURI: "https://app.example.com/done",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.State)
	assert.NotEmpty(t, resp.AuthURL)
}

func TestInitiateOAuth_UnknownProvider(t *testing.T) {
	fs := newFakeStore()
	svc, _, _ := newServiceUnderTest(t, fs)

	_, err := svc.InitiateOAuth(context.Background(), uuid.New(), "nope", models.InitiateOAuthRequest{})
	assert.ErrorIs(t, err, providers.ErrProviderNotFound)
}

func TestHandleOAuthCallback_CodeFlow(t *testing.T) {
	fs := newFakeStore()
	var exchanged providers.CallbackParams
	p := &fakeChatProvider{
		name: "slack",
		callbackFn: func(params providers.CallbackParams) (*models.TokenData, error) {
			exchanged = params
			return &models.TokenData{
				AccessToken: "plain-access",
				Metadata:    map[string]string{"team_id": "T123"},
			}, nil
		},
	}
	svc, states, vault := newServiceUnderTest(t, fs, p)

	tenantID := uuid.New()
	state, err := states.Generate(tenantID, "slack", "https://app.example.com/done", nil)
	require.NoError(t, err)

	resp, redirect, err := svc.HandleOAuthCallback(context.Background(), "slack", providers.CallbackParams{
		Code:  "auth-code",
		State: state,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/done", redirect)
	assert.Equal(t, tenantID, resp.TenantID)
	assert.True(t, resp.IsActive)

	// The exchange must repeat the redirect URI the flow started with.
	assert.Equal(t, "https://app.example.com/done", exchanged.RedirectURI)
	assert.Equal(t, "auth-code", exchanged.Code)

	// The stored token is ciphertext that decrypts back to the plaintext.
	require.Len(t, fs.createdIntegs, 1)
	created := fs.createdIntegs[0]
	assert.NotEqual(t, "plain-access", created.EncryptedAccessToken)
	back, err := vault.DecryptString(created.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "plain-access", back)

	var cfg map[string]string
	require.NoError(t, json.Unmarshal(created.Config, &cfg))
	assert.Equal(t, "T123", cfg["team_id"])

	success := fs.logsWithStatus(models.LogStatusSuccess)
	require.Len(t, success, 1)
	assert.Equal(t, "oauth_callback", success[0].Action)
}

func TestHandleOAuthCallback_ReauthorizeUpdatesExisting(t *testing.T) {
	fs := newFakeStore()
	p := &fakeChatProvider{
		name: "slack",
		callbackFn: func(providers.CallbackParams) (*models.TokenData, error) {
			return &models.TokenData{AccessToken: "fresh-access"}, nil
		},
	}
	svc, states, vault := newServiceUnderTest(t, fs, p)

	tenantID := uuid.New()
	existing := seedAuthorized(t, fs, vault, tenantID, "slack")

	state, err := states.Generate(tenantID, "slack", "", nil)
	require.NoError(t, err)

	resp, _, err := svc.HandleOAuthCallback(context.Background(), "slack", providers.CallbackParams{
		Code:  "auth-code",
		State: state,
	})
	require.NoError(t, err)

	assert.Equal(t, existing.ID, resp.ID)
	assert.Empty(t, fs.createdIntegs)
	require.Len(t, fs.updateTokenArgs, 1)
	back, err := vault.DecryptString(fs.updateTokenArgs[0].EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", back)
}

func TestHandleOAuthCallback_StateMintedForOtherProvider(t *testing.T) {
	fs := newFakeStore()
	slack := &fakeChatProvider{name: "slack"}
	jira := &fakeChatProvider{name: "jira"}
	svc, states, _ := newServiceUnderTest(t, fs, slack, jira)

	state, err := states.Generate(uuid.New(), "jira", "", nil)
	require.NoError(t, err)

	_, _, err = svc.HandleOAuthCallback(context.Background(), "slack", providers.CallbackParams{
		Code:  "auth-code",
		State: state,
	})
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Empty(t, fs.createdIntegs)
}

func TestHandleOAuthCallback_ProviderDeniedSkipsExchange(t *testing.T) {
	fs := newFakeStore()
	p := &fakeChatProvider{
		name: "slack",
		callbackFn: func(providers.CallbackParams) (*models.TokenData, error) {
			t.Fatal("token exchange must not run when the provider reported an error")
			return nil, nil
		},
	}
	svc, _, _ := newServiceUnderTest(t, fs, p)

	_, _, err := svc.HandleOAuthCallback(context.Background(), "slack", providers.CallbackParams{
		Error:            "access_denied",
		ErrorDescription: "user cancelled",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOAuthFailed)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestHandleOAuthCallback_RequestTokenFlowResolvesTenant(t *testing.T) {
	fs := newFakeStore()
	tenantID := uuid.New()
	p := &fakeLegacyProvider{fakeChatProvider{
		name: "trello",
		callbackFn: func(providers.CallbackParams) (*models.TokenData, error) {
			return &models.TokenData{
				AccessToken: "trello-token",
				Metadata: map[string]string{
					"tenant_id":    tenantID.String(),
					"redirect_url": "https://app.example.com/done",
				},
			}, nil
		},
	}}
	svc, _, _ := newServiceUnderTest(t, fs, p)

	resp, redirect, err := svc.HandleOAuthCallback(context.Background(), "trello", providers.CallbackParams{
		OAuthToken:    "req-token",
		OAuthVerifier: "verif",
	})
	require.NoError(t, err)
	assert.Equal(t, tenantID, resp.TenantID)
	assert.Equal(t, "https://app.example.com/done", redirect)

	// Routing metadata must not leak into the persisted config.
	require.Len(t, fs.createdIntegs, 1)
	assert.NotContains(t, string(fs.createdIntegs[0].Config), "tenant_id")
	assert.NotContains(t, string(fs.createdIntegs[0].Config), "redirect_url")
}

// --- Connections ---

func TestConnectRecordToChannel(t *testing.T) {
	fs := newFakeStore()
	p := &fakeChatProvider{
		name: "slack",
		channels: []models.Channel{
			{ID: "C1", Name: "general", Visibility: models.ChannelVisibilityPublic},
			{ID: "C2", Name: "releases", Visibility: models.ChannelVisibilityPublic},
		},
	}
	svc, _, vault := newServiceUnderTest(t, fs, p)

	tenantID := uuid.New()
	integ := seedAuthorized(t, fs, vault, tenantID, "slack")
	record := &models.Record{ID: uuid.New(), TenantID: tenantID, Title: "Release notes"}
	fs.records[record.ID] = record

	conn, err := svc.ConnectRecordToChannel(context.Background(), tenantID, models.ConnectChannelRequest{
		RecordID:      record.ID,
		IntegrationID: integ.ID,
		ChannelID:     "C2",
	})
	require.NoError(t, err)
	assert.Equal(t, "C2", conn.ExternalID)
	assert.True(t, conn.IsActive)
	require.Len(t, fs.createdConns, 1)
}

func TestConnectRecordToChannel_UnknownChannel(t *testing.T) {
	fs := newFakeStore()
	p := &fakeChatProvider{
		name:     "slack",
		channels: []models.Channel{{ID: "C1", Name: "general"}},
	}
	svc, _, vault := newServiceUnderTest(t, fs, p)

	tenantID := uuid.New()
	integ := seedAuthorized(t, fs, vault, tenantID, "slack")
	record := &models.Record{ID: uuid.New(), TenantID: tenantID, Title: "Doc"}
	fs.records[record.ID] = record

	_, err := svc.ConnectRecordToChannel(context.Background(), tenantID, models.ConnectChannelRequest{
		RecordID:      record.ID,
		IntegrationID: integ.ID,
		ChannelID:     "C404",
	})
	assert.ErrorIs(t, err, ErrChannelNotFound)
	assert.Empty(t, fs.createdConns)
}

func TestConnectRecordToChannel_CrossTenantIntegration(t *testing.T) {
	fs := newFakeStore()
	p := &fakeChatProvider{name: "slack", channels: []models.Channel{{ID: "C1"}}}
	svc, _, vault := newServiceUnderTest(t, fs, p)

	tenantID := uuid.New()
	otherTenant := uuid.New()
	integ := seedAuthorized(t, fs, vault, otherTenant, "slack")
	record := &models.Record{ID: uuid.New(), TenantID: tenantID, Title: "Doc"}
	fs.records[record.ID] = record

	_, err := svc.ConnectRecordToChannel(context.Background(), tenantID, models.ConnectChannelRequest{
		RecordID:      record.ID,
		IntegrationID: integ.ID,
		ChannelID:     "C1",
	})
	assert.ErrorIs(t, err, ErrIntegrationNotFound)
}

func TestRevalidateConnection(t *testing.T) {
	fs := newFakeStore()
	p := &fakeChatProvider{name: "slack", unreachable: map[string]bool{"gone": true}}
	svc, _, vault := newServiceUnderTest(t, fs, p)

	tenantID := uuid.New()
	integ := seedAuthorized(t, fs, vault, tenantID, "slack")
	recordID := uuid.New()
	reachable := addConnection(fs, recordID, integ.ID, "still-there")
	unreachable := addConnection(fs, recordID, integ.ID, "gone")

	active, err := svc.RevalidateConnection(context.Background(), tenantID, reachable)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Empty(t, fs.activeFlips, "active connection with reachable destination stays untouched")

	active, err = svc.RevalidateConnection(context.Background(), tenantID, unreachable)
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, []bool{false}, fs.activeFlips)

	// Destination came back: revalidation reactivates.
	delete(p.unreachable, "gone")
	active, err = svc.RevalidateConnection(context.Background(), tenantID, unreachable)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, []bool{false, true}, fs.activeFlips)
}

func TestRevalidateConnection_CrossTenant(t *testing.T) {
	fs := newFakeStore()
	p := &fakeChatProvider{name: "slack"}
	svc, _, vault := newServiceUnderTest(t, fs, p)

	integ := seedAuthorized(t, fs, vault, uuid.New(), "slack")
	connID := addConnection(fs, uuid.New(), integ.ID, "c-one")

	_, err := svc.RevalidateConnection(context.Background(), uuid.New(), connID)
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

// --- Record change fan-out ---

func TestHandleRecordChange_PartialFailureDeliversRest(t *testing.T) {
	fs := newFakeStore()
	p := &fakeChatProvider{
		name:       "slack",
		postErrFor: map[string]error{"bad": errors.New("channel is archived")},
	}
	svc, _, vault := newServiceUnderTest(t, fs, p)

	tenantID := uuid.New()
	integ := seedAuthorized(t, fs, vault, tenantID, "slack")
	record := &models.Record{ID: uuid.New(), TenantID: tenantID, Title: "Launch plan", Body: "ship it"}
	fs.records[record.ID] = record
	actor := &models.User{ID: uuid.New(), TenantID: tenantID, Email: "dev@example.com"}
	fs.users[actor.ID] = actor

	good1 := addConnection(fs, record.ID, integ.ID, "c-one")
	addConnection(fs, record.ID, integ.ID, "bad")
	good2 := addConnection(fs, record.ID, integ.ID, "c-two")

	err := svc.HandleRecordChange(context.Background(), tenantID, record.ID, actor.ID, models.ChangeUpdated)
	require.NoError(t, err)

	assert.Equal(t, []string{"c-one", "c-two"}, p.posted)
	assert.ElementsMatch(t, []uuid.UUID{good1, good2}, fs.touched)

	failures := fs.logsWithStatus(models.LogStatusError)
	require.Len(t, failures, 1)
	assert.Equal(t, "message_post", failures[0].Action)
	require.NotNil(t, failures[0].ErrorMessage)
	assert.Contains(t, *failures[0].ErrorMessage, "archived")

	assert.Len(t, fs.logsWithStatus(models.LogStatusSuccess), 2)
}

func TestHandleRecordChange_NoConnectionsShortCircuits(t *testing.T) {
	fs := newFakeStore()
	svc, _, _ := newServiceUnderTest(t, fs)

	err := svc.HandleRecordChange(context.Background(), uuid.New(), uuid.New(), uuid.New(), models.ChangeCreated)
	require.NoError(t, err)
	assert.Zero(t, fs.recordGets, "record lookup must not run when there is nothing to deliver")
	assert.Empty(t, fs.logs)
}

func TestHandleRecordChange_CrossTenantRecord(t *testing.T) {
	fs := newFakeStore()
	p := &fakeChatProvider{name: "slack"}
	svc, _, vault := newServiceUnderTest(t, fs, p)

	tenantID := uuid.New()
	otherTenant := uuid.New()
	integ := seedAuthorized(t, fs, vault, otherTenant, "slack")
	record := &models.Record{ID: uuid.New(), TenantID: otherTenant, Title: "Private"}
	fs.records[record.ID] = record
	addConnection(fs, record.ID, integ.ID, "c-one")

	err := svc.HandleRecordChange(context.Background(), tenantID, record.ID, uuid.New(), models.ChangeUpdated)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.Empty(t, p.posted)
}

func TestHandleRecordChange_ActorLookupFailureTolerated(t *testing.T) {
	fs := newFakeStore()
	p := &fakeChatProvider{name: "slack"}
	svc, _, vault := newServiceUnderTest(t, fs, p)

	tenantID := uuid.New()
	integ := seedAuthorized(t, fs, vault, tenantID, "slack")
	record := &models.Record{ID: uuid.New(), TenantID: tenantID, Title: "Doc"}
	fs.records[record.ID] = record
	addConnection(fs, record.ID, integ.ID, "c-one")

	// Actor was deleted; delivery proceeds with an empty author.
	err := svc.HandleRecordChange(context.Background(), tenantID, record.ID, uuid.New(), models.ChangeDeleted)
	require.NoError(t, err)
	assert.Equal(t, []string{"c-one"}, p.posted)
}

// --- Status ---

func TestGetIntegrationStatus(t *testing.T) {
	fs := newFakeStore()
	p := &fakeChatProvider{name: "slack"}
	svc, _, vault := newServiceUnderTest(t, fs, p)
	tenantID := uuid.New()

	t.Run("active", func(t *testing.T) {
		integ := seedAuthorized(t, fs, vault, tenantID, "slack")
		status, err := svc.GetIntegrationStatus(context.Background(), tenantID, integ.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, status.Status)
	})

	t.Run("token expired", func(t *testing.T) {
		integ := seedAuthorized(t, fs, vault, tenantID, "slack")
		past := time.Now().Add(-time.Hour)
		integ.TokenExpiresAt = &past

		status, err := svc.GetIntegrationStatus(context.Background(), tenantID, integ.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusTokenExpired, status.Status)
	})

	t.Run("disconnected", func(t *testing.T) {
		integ := seedAuthorized(t, fs, vault, tenantID, "slack")
		integ.IsActive = false

		status, err := svc.GetIntegrationStatus(context.Background(), tenantID, integ.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusDisconnected, status.Status)
	})

	t.Run("cross tenant reads as not found", func(t *testing.T) {
		integ := seedAuthorized(t, fs, vault, uuid.New(), "slack")
		_, err := svc.GetIntegrationStatus(context.Background(), tenantID, integ.ID)
		assert.ErrorIs(t, err, ErrIntegrationNotFound)
	})
}
