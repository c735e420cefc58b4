package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"recordhub-backend/internal/crypto"
	"recordhub-backend/internal/models"
	"recordhub-backend/internal/oauthstate"
	"recordhub-backend/internal/providers"
	"recordhub-backend/internal/store"
	"recordhub-backend/internal/tokens"

	"github.com/google/uuid"
)

// Custom errors for the integration service
var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrRecordNotFound      = errors.New("record not found")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrChannelNotFound     = errors.New("channel not found or not accessible")
	ErrOAuthFailed         = errors.New("oauth authorization failed")
	ErrStateMismatch       = errors.New("oauth state does not match this provider")
)

// Audit log action names.
const (
	actionOAuthCallback  = "oauth_callback"
	actionTokenRefresh   = "token_refresh"
	actionConnectChannel = "connect_channel"
	actionMessagePost    = "message_post"
	actionDisconnect     = "disconnect"
)

// Integration status values returned by GetIntegrationStatus.
const (
	StatusActive       = "active"
	StatusTokenExpired = "token-expired"
	StatusDisconnected = "disconnected"
)

// IntegrationService orchestrates provider authorization, channel
// connections, and record-change fan-out.
type IntegrationService interface {
	InitiateOAuth(ctx context.Context, tenantID uuid.UUID, providerName string, req models.InitiateOAuthRequest) (*models.InitiateOAuthResponse, error)
	HandleOAuthCallback(ctx context.Context, providerName string, params providers.CallbackParams) (*models.IntegrationResponse, string, error)
	ListIntegrations(ctx context.Context, tenantID uuid.UUID) ([]models.IntegrationResponse, error)
	GetIntegrationStatus(ctx context.Context, tenantID, integrationID uuid.UUID) (*models.IntegrationStatusResponse, error)
	RefreshIntegrationTokens(ctx context.Context, tenantID, integrationID uuid.UUID) error
	DisconnectIntegration(ctx context.Context, tenantID, integrationID uuid.UUID) error
	GetAvailableChannels(ctx context.Context, tenantID, integrationID uuid.UUID) ([]models.Channel, error)
	ConnectRecordToChannel(ctx context.Context, tenantID uuid.UUID, req models.ConnectChannelRequest) (*models.ConnectionResponse, error)
	ListRecordConnections(ctx context.Context, tenantID, recordID uuid.UUID) ([]models.ConnectionResponse, error)
	RevalidateConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (bool, error)
	DisconnectChannel(ctx context.Context, tenantID, connectionID uuid.UUID) error
	HandleRecordChange(ctx context.Context, tenantID, recordID, actorID uuid.UUID, change models.ChangeKind) error
}

type integrationService struct {
	store    store.Store
	vault    *crypto.Vault
	registry *providers.Registry
	states   *oauthstate.Manager
	tokens   *tokens.Manager
}

// NewIntegrationService creates a new IntegrationService.
func NewIntegrationService(s store.Store, vault *crypto.Vault, reg *providers.Registry, states *oauthstate.Manager, tm *tokens.Manager) IntegrationService {
	return &integrationService{
		store:    s,
		vault:    vault,
		registry: reg,
		states:   states,
		tokens:   tm,
	}
}

// --- Helper Functions ---

func mapIntegrationToResponse(integ *models.Integration) *models.IntegrationResponse {
	return &models.IntegrationResponse{
		ID:           integ.ID,
		TenantID:     integ.TenantID,
		ProviderName: integ.ProviderName,
		Config:       integ.Config,
		IsActive:     integ.IsActive,
		LastSyncAt:   integ.LastSyncAt,
		CreatedAt:    integ.CreatedAt,
		UpdatedAt:    integ.UpdatedAt,
	}
}

func mapConnectionToResponse(conn *models.Connection) *models.ConnectionResponse {
	return &models.ConnectionResponse{
		ID:            conn.ID,
		RecordID:      conn.RecordID,
		IntegrationID: conn.IntegrationID,
		ExternalID:    conn.ExternalID,
		Config:        conn.Config,
		IsActive:      conn.IsActive,
		LastPostedAt:  conn.LastPostedAt,
		CreatedAt:     conn.CreatedAt,
	}
}

// getTenantIntegration loads an integration and verifies tenant ownership.
// A cross-tenant ID is reported as not found, never as forbidden.
func (s *integrationService) getTenantIntegration(ctx context.Context, tenantID, integrationID uuid.UUID) (*models.Integration, error) {
	integ, err := s.store.GetIntegrationByID(ctx, integrationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIntegrationNotFound
		}
		log.Printf("ERROR [IntegrationService] getTenantIntegration: Store call failed for ID %s: %v", integrationID, err)
		return nil, fmt.Errorf("failed to retrieve integration: %w", err)
	}
	if integ.TenantID != tenantID {
		return nil, ErrIntegrationNotFound
	}
	return integ, nil
}

// audit appends one log entry. Audit failures are logged and swallowed so
// they never break the operation being audited.
func (s *integrationService) audit(ctx context.Context, integrationID uuid.UUID, action, status string, requestData any, errMsg *string) {
	var reqJSON []byte
	if requestData != nil {
		if b, err := json.Marshal(requestData); err == nil {
			reqJSON = b
		}
	}
	err := s.store.CreateIntegrationLog(ctx, store.CreateIntegrationLogParams{
		IntegrationID: integrationID,
		Action:        action,
		Status:        status,
		RequestData:   reqJSON,
		ErrorMessage:  errMsg,
	})
	if err != nil {
		log.Printf("WARN [IntegrationService] Failed to write audit log (integration %s, action %s): %v", integrationID, action, err)
	}
}

func strPtr(s string) *string { return &s }

// --- OAuth Flow ---

// InitiateOAuth starts an authorization flow with the named provider and
// returns the URL to redirect the user to. Standard providers get a signed
// state token; request-token providers keep their context server-side.
func (s *integrationService) InitiateOAuth(ctx context.Context, tenantID uuid.UUID, providerName string, req models.InitiateOAuthRequest) (*models.InitiateOAuthResponse, error) {
	p, err := s.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	if _, legacy := p.(providers.RequestTokenFlow); legacy {
		authURL, err := p.GetAuthURL(ctx, tenantID, req.RedirectURI, "", req.Extra)
		if err != nil {
			log.Printf("ERROR [IntegrationService] InitiateOAuth: GetAuthURL failed for %s, tenant %s: %v", providerName, tenantID, err)
			return nil, fmt.Errorf("%w: %v", ErrOAuthFailed, err)
		}
		log.Printf("[IntegrationService] InitiateOAuth: Started request-token flow for %s (tenant %s)", providerName, tenantID)
		return &models.InitiateOAuthResponse{AuthURL: authURL}, nil
	}

	state, err := s.states.Generate(tenantID, providerName, req.RedirectURI, req.Extra)
	if err != nil {
		log.Printf("ERROR [IntegrationService] InitiateOAuth: State generation failed for %s, tenant %s: %v", providerName, tenantID, err)
		return nil, fmt.Errorf("failed to generate oauth state: %w", err)
	}

	authURL, err := p.GetAuthURL(ctx, tenantID, req.RedirectURI, state, req.Extra)
	if err != nil {
		log.Printf("ERROR [IntegrationService] InitiateOAuth: GetAuthURL failed for %s, tenant %s: %v", providerName, tenantID, err)
		return nil, fmt.Errorf("%w: %v", ErrOAuthFailed, err)
	}

	log.Printf("[IntegrationService] InitiateOAuth: Started authorization-code flow for %s (tenant %s)", providerName, tenantID)
	return &models.InitiateOAuthResponse{AuthURL: authURL, State: state}, nil
}

// HandleOAuthCallback completes an authorization flow. It returns the
// created or updated integration and the redirect URL the caller asked for
// when the flow began (empty if none was given).
func (s *integrationService) HandleOAuthCallback(ctx context.Context, providerName string, params providers.CallbackParams) (*models.IntegrationResponse, string, error) {
	if params.Error != "" {
		log.Printf("WARN [IntegrationService] HandleOAuthCallback: Provider %s returned error: %s (%s)", providerName, params.Error, params.ErrorDescription)
		return nil, "", fmt.Errorf("%w: %s: %s", ErrOAuthFailed, params.Error, params.ErrorDescription)
	}

	p, err := s.registry.Get(providerName)
	if err != nil {
		return nil, "", err
	}

	var tenantID uuid.UUID
	var redirectURL string

	if params.OAuthToken == "" {
		// Authorization-code flow: tenant and redirect come from the state.
		st, err := s.states.Validate(params.State)
		if err != nil {
			log.Printf("WARN [IntegrationService] HandleOAuthCallback: State validation failed for %s: %v", providerName, err)
			return nil, "", err
		}
		if st.Provider != providerName {
			log.Printf("WARN [IntegrationService] HandleOAuthCallback: State minted for %s presented to %s", st.Provider, providerName)
			return nil, "", ErrStateMismatch
		}
		tenantID = st.TenantID
		redirectURL = st.RedirectURL
		// The token exchange must repeat the redirect URI used at initiation.
		params.RedirectURI = st.RedirectURL
	}

	tokenData, err := p.HandleCallback(ctx, params)
	if err != nil {
		log.Printf("ERROR [IntegrationService] HandleOAuthCallback: Token exchange failed for %s: %v", providerName, err)
		return nil, "", fmt.Errorf("%w: %v", ErrOAuthFailed, err)
	}

	if params.OAuthToken != "" {
		// Request-token flow: the provider carried the authorization context
		// server-side and hands it back in metadata.
		rawTenant := tokenData.Metadata["tenant_id"]
		tenantID, err = uuid.Parse(rawTenant)
		if err != nil {
			log.Printf("ERROR [IntegrationService] HandleOAuthCallback: Invalid tenant id %q from %s callback: %v", rawTenant, providerName, err)
			return nil, "", fmt.Errorf("%w: callback did not resolve to a tenant", ErrOAuthFailed)
		}
		redirectURL = tokenData.Metadata["redirect_url"]
		delete(tokenData.Metadata, "tenant_id")
		delete(tokenData.Metadata, "redirect_url")
	}

	integ, err := s.persistAuthorizedTokens(ctx, tenantID, providerName, tokenData)
	if err != nil {
		return nil, "", err
	}

	s.audit(ctx, integ.ID, actionOAuthCallback, models.LogStatusSuccess, map[string]string{"provider": providerName}, nil)
	log.Printf("[IntegrationService] HandleOAuthCallback: Authorized %s for tenant %s (integration %s)", providerName, tenantID, integ.ID)
	return mapIntegrationToResponse(integ), redirectURL, nil
}

// persistAuthorizedTokens encrypts the exchanged tokens and creates the
// integration, or replaces the tokens on an existing one (re-authorization).
func (s *integrationService) persistAuthorizedTokens(ctx context.Context, tenantID uuid.UUID, providerName string, tokenData *models.TokenData) (*models.Integration, error) {
	enc, err := s.vault.EncryptTokenData(*tokenData)
	if err != nil {
		log.Printf("ERROR [IntegrationService] persistAuthorizedTokens: Encryption failed for %s, tenant %s: %v", providerName, tenantID, err)
		return nil, fmt.Errorf("failed to encrypt tokens: %w", err)
	}

	var encRefresh *string
	if enc.RefreshToken != "" {
		encRefresh = &enc.RefreshToken
	}

	var configJSON []byte
	if len(tokenData.Metadata) > 0 {
		configJSON, err = json.Marshal(tokenData.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal provider config: %w", err)
		}
	}

	existing, err := s.store.GetIntegrationByTenantAndProvider(ctx, tenantID, providerName)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("ERROR [IntegrationService] persistAuthorizedTokens: Lookup failed for %s, tenant %s: %v", providerName, tenantID, err)
		return nil, fmt.Errorf("failed to look up integration: %w", err)
	}

	if existing != nil {
		updated, err := s.store.UpdateIntegrationTokens(ctx, store.UpdateIntegrationTokensParams{
			ID:                    existing.ID,
			EncryptedAccessToken:  enc.AccessToken,
			EncryptedRefreshToken: encRefresh,
			TokenExpiresAt:        enc.ExpiresAt,
			LastSyncAt:            time.Now(),
		})
		if err != nil {
			log.Printf("ERROR [IntegrationService] persistAuthorizedTokens: Token update failed for integration %s: %v", existing.ID, err)
			return nil, fmt.Errorf("failed to update integration tokens: %w", err)
		}
		if configJSON != nil {
			if err := s.store.UpdateIntegrationConfig(ctx, existing.ID, configJSON); err != nil {
				log.Printf("WARN [IntegrationService] persistAuthorizedTokens: Config update failed for integration %s: %v", existing.ID, err)
			} else {
				updated.Config = configJSON
			}
		}
		return updated, nil
	}

	created, err := s.store.CreateIntegration(ctx, store.CreateIntegrationParams{
		ID:                    uuid.New(),
		TenantID:              tenantID,
		ProviderName:          providerName,
		EncryptedAccessToken:  enc.AccessToken,
		EncryptedRefreshToken: encRefresh,
		TokenExpiresAt:        enc.ExpiresAt,
		Config:                configJSON,
		IsActive:              true,
	})
	if err != nil {
		log.Printf("ERROR [IntegrationService] persistAuthorizedTokens: Create failed for %s, tenant %s: %v", providerName, tenantID, err)
		return nil, fmt.Errorf("failed to create integration: %w", err)
	}
	return created, nil
}

// --- Integration Management ---

func (s *integrationService) ListIntegrations(ctx context.Context, tenantID uuid.UUID) ([]models.IntegrationResponse, error) {
	integs, err := s.store.ListIntegrationsByTenant(ctx, tenantID)
	if err != nil {
		log.Printf("ERROR [IntegrationService] ListIntegrations: Store call failed for tenant %s: %v", tenantID, err)
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}

	resp := make([]models.IntegrationResponse, len(integs))
	for i := range integs {
		resp[i] = *mapIntegrationToResponse(&integs[i])
	}
	return resp, nil
}

// GetIntegrationStatus derives a status view: disconnected when the
// integration is inactive, token-expired when the stored expiry has passed,
// active otherwise.
func (s *integrationService) GetIntegrationStatus(ctx context.Context, tenantID, integrationID uuid.UUID) (*models.IntegrationStatusResponse, error) {
	integ, err := s.getTenantIntegration(ctx, tenantID, integrationID)
	if err != nil {
		return nil, err
	}

	status := StatusActive
	switch {
	case !integ.IsActive || integ.EncryptedAccessToken == "":
		status = StatusDisconnected
	case integ.TokenExpiresAt != nil && !time.Now().Before(*integ.TokenExpiresAt):
		status = StatusTokenExpired
	}

	count, err := s.store.CountConnectionsByIntegration(ctx, integrationID)
	if err != nil {
		log.Printf("WARN [IntegrationService] GetIntegrationStatus: Connection count failed for %s: %v", integrationID, err)
		count = 0
	}

	errStatus := models.LogStatusError
	recentErrors, err := s.store.ListIntegrationLogs(ctx, integrationID, &errStatus, 5)
	if err != nil {
		log.Printf("WARN [IntegrationService] GetIntegrationStatus: Log lookup failed for %s: %v", integrationID, err)
		recentErrors = nil
	}

	return &models.IntegrationStatusResponse{
		Status:          status,
		LastSync:        integ.LastSyncAt,
		ConnectionCount: count,
		RecentErrors:    recentErrors,
	}, nil
}

// RefreshIntegrationTokens forces a token refresh regardless of expiry.
func (s *integrationService) RefreshIntegrationTokens(ctx context.Context, tenantID, integrationID uuid.UUID) error {
	integ, err := s.getTenantIntegration(ctx, tenantID, integrationID)
	if err != nil {
		return err
	}

	p, err := s.registry.Get(integ.ProviderName)
	if err != nil {
		return err
	}

	if _, err := s.tokens.ForceRefresh(ctx, integ, p); err != nil {
		s.audit(ctx, integrationID, actionTokenRefresh, models.LogStatusError, nil, strPtr(err.Error()))
		log.Printf("ERROR [IntegrationService] RefreshIntegrationTokens: Refresh failed for integration %s: %v", integrationID, err)
		return err
	}

	s.audit(ctx, integrationID, actionTokenRefresh, models.LogStatusSuccess, nil, nil)
	log.Printf("[IntegrationService] RefreshIntegrationTokens: Refreshed tokens for integration %s", integrationID)
	return nil
}

// DisconnectIntegration revokes tokens remotely (best-effort), removes the
// integration's connections, and deletes the integration.
func (s *integrationService) DisconnectIntegration(ctx context.Context, tenantID, integrationID uuid.UUID) error {
	integ, err := s.getTenantIntegration(ctx, tenantID, integrationID)
	if err != nil {
		return err
	}

	if p, err := s.registry.Get(integ.ProviderName); err == nil {
		revoked := s.tokens.RevokeToken(ctx, integ.ID, p)
		log.Printf("[IntegrationService] DisconnectIntegration: Remote revocation for integration %s: revoked=%v", integrationID, revoked)
	}

	s.audit(ctx, integrationID, actionDisconnect, models.LogStatusSuccess, nil, nil)

	if err := s.store.DeleteConnectionsByIntegration(ctx, integrationID); err != nil {
		log.Printf("ERROR [IntegrationService] DisconnectIntegration: Connection cleanup failed for %s: %v", integrationID, err)
		return fmt.Errorf("failed to remove connections: %w", err)
	}
	if err := s.store.DeleteIntegration(ctx, integrationID); err != nil {
		log.Printf("ERROR [IntegrationService] DisconnectIntegration: Delete failed for %s: %v", integrationID, err)
		return fmt.Errorf("failed to delete integration: %w", err)
	}

	log.Printf("[IntegrationService] DisconnectIntegration: Removed integration %s (tenant %s)", integrationID, tenantID)
	return nil
}

// --- Channels and Connections ---

func (s *integrationService) GetAvailableChannels(ctx context.Context, tenantID, integrationID uuid.UUID) ([]models.Channel, error) {
	integ, err := s.getTenantIntegration(ctx, tenantID, integrationID)
	if err != nil {
		return nil, err
	}

	p, err := s.registry.Get(integ.ProviderName)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.GetValidTokenData(ctx, integ, p)
	if err != nil {
		log.Printf("ERROR [IntegrationService] GetAvailableChannels: Token resolution failed for integration %s: %v", integrationID, err)
		return nil, err
	}

	channels, err := p.GetAvailableChannels(ctx, integ, *token)
	if err != nil {
		log.Printf("ERROR [IntegrationService] GetAvailableChannels: Provider call failed for integration %s: %v", integrationID, err)
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

// ConnectRecordToChannel links a record to a destination inside an
// integration. The destination must exist in the provider's channel list.
func (s *integrationService) ConnectRecordToChannel(ctx context.Context, tenantID uuid.UUID, req models.ConnectChannelRequest) (*models.ConnectionResponse, error) {
	record, err := s.store.GetRecordByID(ctx, req.RecordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to retrieve record: %w", err)
	}
	if record.TenantID != tenantID {
		return nil, ErrRecordNotFound
	}

	integ, err := s.getTenantIntegration(ctx, tenantID, req.IntegrationID)
	if err != nil {
		return nil, err
	}

	p, err := s.registry.Get(integ.ProviderName)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.GetValidTokenData(ctx, integ, p)
	if err != nil {
		return nil, err
	}

	channels, err := p.GetAvailableChannels(ctx, integ, *token)
	if err != nil {
		log.Printf("ERROR [IntegrationService] ConnectRecordToChannel: Channel listing failed for integration %s: %v", integ.ID, err)
		return nil, fmt.Errorf("failed to verify channel: %w", err)
	}
	found := false
	for _, ch := range channels {
		if ch.ID == req.ChannelID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, req.ChannelID)
	}

	conn, err := s.store.CreateConnection(ctx, store.CreateConnectionParams{
		ID:            uuid.New(),
		RecordID:      req.RecordID,
		IntegrationID: req.IntegrationID,
		ExternalID:    req.ChannelID,
		Config:        req.Config,
		IsActive:      true,
	})
	if err != nil {
		log.Printf("ERROR [IntegrationService] ConnectRecordToChannel: Create failed (record %s, integration %s): %v", req.RecordID, req.IntegrationID, err)
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	s.audit(ctx, integ.ID, actionConnectChannel, models.LogStatusSuccess,
		map[string]string{"record_id": req.RecordID.String(), "channel_id": req.ChannelID}, nil)
	log.Printf("[IntegrationService] ConnectRecordToChannel: Connected record %s to %s channel %s (connection %s)", req.RecordID, integ.ProviderName, req.ChannelID, conn.ID)
	return mapConnectionToResponse(conn), nil
}

func (s *integrationService) ListRecordConnections(ctx context.Context, tenantID, recordID uuid.UUID) ([]models.ConnectionResponse, error) {
	record, err := s.store.GetRecordByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to retrieve record: %w", err)
	}
	if record.TenantID != tenantID {
		return nil, ErrRecordNotFound
	}

	conns, err := s.store.ListActiveConnectionsByRecord(ctx, recordID)
	if err != nil {
		log.Printf("ERROR [IntegrationService] ListRecordConnections: Store call failed for record %s: %v", recordID, err)
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	resp := make([]models.ConnectionResponse, len(conns))
	for i := range conns {
		resp[i] = *mapConnectionToResponse(&conns[i])
	}
	return resp, nil
}

// RevalidateConnection asks the provider whether the connection's
// destination is still reachable and flips the active flag to match, in
// either direction. Returns the resulting active state.
func (s *integrationService) RevalidateConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (bool, error) {
	conn, err := s.store.GetConnectionByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrConnectionNotFound
		}
		return false, fmt.Errorf("failed to retrieve connection: %w", err)
	}

	integ, err := s.getTenantIntegration(ctx, tenantID, conn.IntegrationID)
	if err != nil {
		return false, ErrConnectionNotFound
	}

	p, err := s.registry.Get(integ.ProviderName)
	if err != nil {
		return false, err
	}

	token, err := s.tokens.GetValidTokenData(ctx, integ, p)
	if err != nil {
		return false, err
	}

	reachable := p.ValidateConnection(ctx, integ, conn, *token)
	if reachable != conn.IsActive {
		if err := s.store.SetConnectionActive(ctx, connectionID, reachable); err != nil {
			log.Printf("ERROR [IntegrationService] RevalidateConnection: Failed to set active=%v on connection %s: %v", reachable, connectionID, err)
			return reachable, fmt.Errorf("failed to update connection: %w", err)
		}
		log.Printf("[IntegrationService] RevalidateConnection: Connection %s active flag changed to %v", connectionID, reachable)
	}
	return reachable, nil
}

func (s *integrationService) DisconnectChannel(ctx context.Context, tenantID, connectionID uuid.UUID) error {
	conn, err := s.store.GetConnectionByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConnectionNotFound
		}
		return fmt.Errorf("failed to retrieve connection: %w", err)
	}

	// Ownership check runs through the parent integration.
	if _, err := s.getTenantIntegration(ctx, tenantID, conn.IntegrationID); err != nil {
		return ErrConnectionNotFound
	}

	if err := s.store.DeleteConnection(ctx, connectionID); err != nil {
		log.Printf("ERROR [IntegrationService] DisconnectChannel: Delete failed for connection %s: %v", connectionID, err)
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	log.Printf("[IntegrationService] DisconnectChannel: Removed connection %s", connectionID)
	return nil
}

// --- Record Change Fan-Out ---

// HandleRecordChange notifies every active connection of the record about a
// change. Delivery is best-effort per connection: one destination failing
// never blocks the others, and failures surface only in the audit log.
func (s *integrationService) HandleRecordChange(ctx context.Context, tenantID, recordID, actorID uuid.UUID, change models.ChangeKind) error {
	conns, err := s.store.ListActiveConnectionsByRecord(ctx, recordID)
	if err != nil {
		log.Printf("ERROR [IntegrationService] HandleRecordChange: Connection lookup failed for record %s: %v", recordID, err)
		return fmt.Errorf("failed to list connections: %w", err)
	}
	if len(conns) == 0 {
		log.Printf("[IntegrationService] HandleRecordChange: Record %s has no active connections, nothing to do", recordID)
		return nil
	}

	record, err := s.store.GetRecordByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to retrieve record: %w", err)
	}
	if record.TenantID != tenantID {
		return ErrRecordNotFound
	}

	// The actor is cosmetic; a failed lookup degrades to an empty author.
	author := ""
	if actor, err := s.store.GetUserByID(ctx, actorID); err == nil {
		author = actor.Email
	} else {
		log.Printf("WARN [IntegrationService] HandleRecordChange: Actor lookup failed for %s: %v", actorID, err)
	}

	msg := models.MessageData{
		Title:     record.Title,
		Content:   record.Body,
		Author:    author,
		RecordURL: record.URL,
		Change:    change,
	}

	delivered := 0
	for i := range conns {
		conn := &conns[i]
		if err := s.deliverToConnection(ctx, conn, msg); err != nil {
			s.audit(ctx, conn.IntegrationID, actionMessagePost, models.LogStatusError,
				map[string]string{"record_id": recordID.String(), "connection_id": conn.ID.String()},
				strPtr(err.Error()))
			log.Printf("ERROR [IntegrationService] HandleRecordChange: Delivery failed for connection %s (record %s): %v", conn.ID, recordID, err)
			continue
		}
		delivered++
		if err := s.store.TouchConnectionPosted(ctx, conn.ID, time.Now()); err != nil {
			log.Printf("WARN [IntegrationService] HandleRecordChange: Failed to update last_posted_at for connection %s: %v", conn.ID, err)
		}
		s.audit(ctx, conn.IntegrationID, actionMessagePost, models.LogStatusSuccess,
			map[string]string{"record_id": recordID.String(), "connection_id": conn.ID.String()}, nil)
	}

	log.Printf("[IntegrationService] HandleRecordChange: Record %s change '%s' delivered to %d/%d connections", recordID, change, delivered, len(conns))
	return nil
}

func (s *integrationService) deliverToConnection(ctx context.Context, conn *models.Connection, msg models.MessageData) error {
	integ, err := s.store.GetIntegrationByID(ctx, conn.IntegrationID)
	if err != nil {
		return fmt.Errorf("failed to retrieve integration: %w", err)
	}
	if !integ.IsActive {
		return fmt.Errorf("integration %s is inactive", integ.ID)
	}

	p, err := s.registry.Get(integ.ProviderName)
	if err != nil {
		return err
	}

	token, err := s.tokens.GetValidTokenData(ctx, integ, p)
	if err != nil {
		return fmt.Errorf("failed to resolve token: %w", err)
	}

	return p.PostMessage(ctx, integ, conn, *token, msg)
}
