package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"recordhub-backend/internal/auth"
	"recordhub-backend/internal/models"
	"recordhub-backend/internal/providers"
	"recordhub-backend/internal/services"
	"recordhub-backend/internal/tokens"
	"recordhub-backend/pkg/httputil"
)

// IntegrationsService defines the interface expected from the integration
// service for managing integrations and connections.
type IntegrationsService interface {
	ListIntegrations(ctx context.Context, tenantID uuid.UUID) ([]models.IntegrationResponse, error)
	GetIntegrationStatus(ctx context.Context, tenantID, integrationID uuid.UUID) (*models.IntegrationStatusResponse, error)
	RefreshIntegrationTokens(ctx context.Context, tenantID, integrationID uuid.UUID) error
	DisconnectIntegration(ctx context.Context, tenantID, integrationID uuid.UUID) error
	GetAvailableChannels(ctx context.Context, tenantID, integrationID uuid.UUID) ([]models.Channel, error)
	ConnectRecordToChannel(ctx context.Context, tenantID uuid.UUID, req models.ConnectChannelRequest) (*models.ConnectionResponse, error)
	RevalidateConnection(ctx context.Context, tenantID, connectionID uuid.UUID) (bool, error)
	DisconnectChannel(ctx context.Context, tenantID, connectionID uuid.UUID) error
}

type IntegrationsHandler struct {
	integrationService IntegrationsService
}

func NewIntegrationsHandler(svc IntegrationsService) *IntegrationsHandler {
	return &IntegrationsHandler{
		integrationService: svc,
	}
}

// integrationIDFromRequest parses the {integrationID} URL parameter.
func integrationIDFromRequest(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "integrationID"))
}

// respondIntegrationError maps common service errors to HTTP status codes.
func respondIntegrationError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrIntegrationNotFound),
		errors.Is(err, services.ErrRecordNotFound),
		errors.Is(err, services.ErrConnectionNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrChannelNotFound):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, providers.ErrProviderNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tokens.ErrReauthRequired):
		// The stored grant is no longer usable; the user must authorize again.
		httputil.RespondError(w, http.StatusUnauthorized, "integration requires re-authorization")
	default:
		httputil.RespondError(w, http.StatusInternalServerError, fallback)
	}
}

// HandleListIntegrations handles GET /v1/integrations
func (h *IntegrationsHandler) HandleListIntegrations(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	integs, err := h.integrationService.ListIntegrations(r.Context(), tenantID)
	if err != nil {
		log.Printf("ERROR [IntegrationsHandler] HandleListIntegrations for tenant %s: %v", tenantID, err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to list integrations")
		return
	}

	// Return empty list if no integrations found, not an error
	if integs == nil {
		integs = []models.IntegrationResponse{}
	}
	httputil.RespondJSON(w, http.StatusOK, integs)
}

// HandleGetStatus handles GET /v1/integrations/{integrationID}/status
func (h *IntegrationsHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	integrationID, err := integrationIDFromRequest(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid integration ID format")
		return
	}

	status, err := h.integrationService.GetIntegrationStatus(r.Context(), tenantID, integrationID)
	if err != nil {
		log.Printf("ERROR [IntegrationsHandler] HandleGetStatus for integration %s: %v", integrationID, err)
		respondIntegrationError(w, err, "Failed to get integration status")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, status)
}

// HandleRefreshTokens handles POST /v1/integrations/{integrationID}/refresh
func (h *IntegrationsHandler) HandleRefreshTokens(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	integrationID, err := integrationIDFromRequest(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid integration ID format")
		return
	}

	if err := h.integrationService.RefreshIntegrationTokens(r.Context(), tenantID, integrationID); err != nil {
		log.Printf("ERROR [IntegrationsHandler] HandleRefreshTokens for integration %s: %v", integrationID, err)
		respondIntegrationError(w, err, "Failed to refresh tokens")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// HandleDisconnect handles DELETE /v1/integrations/{integrationID}
func (h *IntegrationsHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	integrationID, err := integrationIDFromRequest(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid integration ID format")
		return
	}

	if err := h.integrationService.DisconnectIntegration(r.Context(), tenantID, integrationID); err != nil {
		log.Printf("ERROR [IntegrationsHandler] HandleDisconnect for integration %s: %v", integrationID, err)
		respondIntegrationError(w, err, "Failed to disconnect integration")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleListChannels handles GET /v1/integrations/{integrationID}/channels
func (h *IntegrationsHandler) HandleListChannels(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	integrationID, err := integrationIDFromRequest(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid integration ID format")
		return
	}

	channels, err := h.integrationService.GetAvailableChannels(r.Context(), tenantID, integrationID)
	if err != nil {
		log.Printf("ERROR [IntegrationsHandler] HandleListChannels for integration %s: %v", integrationID, err)
		respondIntegrationError(w, err, "Failed to list channels")
		return
	}

	if channels == nil {
		channels = []models.Channel{}
	}
	httputil.RespondJSON(w, http.StatusOK, channels)
}

// HandleConnectChannel handles POST /v1/connections
func (h *IntegrationsHandler) HandleConnectChannel(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	var req models.ConnectChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	if req.RecordID == uuid.Nil || req.IntegrationID == uuid.Nil || req.ChannelID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "Missing required fields: record_id, integration_id, channel_id")
		return
	}

	conn, err := h.integrationService.ConnectRecordToChannel(r.Context(), tenantID, req)
	if err != nil {
		log.Printf("ERROR [IntegrationsHandler] HandleConnectChannel (record %s, integration %s): %v", req.RecordID, req.IntegrationID, err)
		respondIntegrationError(w, err, "Failed to connect channel")
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, conn)
}

// HandleRevalidateConnection handles POST /v1/connections/{connectionID}/revalidate
func (h *IntegrationsHandler) HandleRevalidateConnection(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	connectionID, err := uuid.Parse(chi.URLParam(r, "connectionID"))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid connection ID format")
		return
	}

	active, err := h.integrationService.RevalidateConnection(r.Context(), tenantID, connectionID)
	if err != nil {
		log.Printf("ERROR [IntegrationsHandler] HandleRevalidateConnection for connection %s: %v", connectionID, err)
		respondIntegrationError(w, err, "Failed to revalidate connection")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]bool{"active": active})
}

// HandleDisconnectChannel handles DELETE /v1/connections/{connectionID}
func (h *IntegrationsHandler) HandleDisconnectChannel(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	connectionID, err := uuid.Parse(chi.URLParam(r, "connectionID"))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid connection ID format")
		return
	}

	if err := h.integrationService.DisconnectChannel(r.Context(), tenantID, connectionID); err != nil {
		log.Printf("ERROR [IntegrationsHandler] HandleDisconnectChannel for connection %s: %v", connectionID, err)
		respondIntegrationError(w, err, "Failed to disconnect channel")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
