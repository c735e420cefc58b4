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
	"recordhub-backend/internal/oauthstate"
	"recordhub-backend/internal/providers"
	"recordhub-backend/internal/services"
	"recordhub-backend/pkg/httputil"
)

// OAuthService defines the interface expected from the integration service
// for authorization flows.
type OAuthService interface {
	InitiateOAuth(ctx context.Context, tenantID uuid.UUID, providerName string, req models.InitiateOAuthRequest) (*models.InitiateOAuthResponse, error)
	HandleOAuthCallback(ctx context.Context, providerName string, params providers.CallbackParams) (*models.IntegrationResponse, string, error)
}

type OAuthHandler struct {
	oauthService OAuthService
}

func NewOAuthHandler(svc OAuthService) *OAuthHandler {
	return &OAuthHandler{
		oauthService: svc,
	}
}

// HandleInitiate handles POST /v1/oauth/{provider}/initiate
func (h *OAuthHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "Tenant ID not found in token context")
		return
	}

	providerName := chi.URLParam(r, "provider")

	var req models.InitiateOAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	if req.RedirectURI == "" {
		httputil.RespondError(w, http.StatusBadRequest, "Missing required field: redirect_uri")
		return
	}

	resp, err := h.oauthService.InitiateOAuth(r.Context(), tenantID, providerName, req)
	if err != nil {
		log.Printf("ERROR [OAuthHandler] HandleInitiate for provider %s, tenant %s: %v", providerName, tenantID, err)
		switch {
		case errors.Is(err, providers.ErrProviderNotFound):
			httputil.RespondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, services.ErrOAuthFailed):
			httputil.RespondError(w, http.StatusBadGateway, err.Error())
		default:
			httputil.RespondError(w, http.StatusInternalServerError, "Failed to start authorization")
		}
		return
	}

	httputil.RespondJSON(w, http.StatusOK, resp)
}

// HandleCallback handles GET /v1/oauth/{provider}/callback. This endpoint is
// public; the provider redirects the user's browser here. Both callback
// shapes land on it: code+state and oauth_token+oauth_verifier.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	q := r.URL.Query()
	params := providers.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		OAuthToken:       q.Get("oauth_token"),
		OAuthVerifier:    q.Get("oauth_verifier"),
	}

	resp, redirectURL, err := h.oauthService.HandleOAuthCallback(r.Context(), providerName, params)
	if err != nil {
		log.Printf("WARN [OAuthHandler] HandleCallback failed for provider %s: %v", providerName, err)
		switch {
		case errors.Is(err, providers.ErrProviderNotFound):
			httputil.RespondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, oauthstate.ErrInvalidSignature),
			errors.Is(err, oauthstate.ErrExpiredState),
			errors.Is(err, oauthstate.ErrMalformedState),
			errors.Is(err, services.ErrStateMismatch):
			httputil.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrOAuthFailed):
			httputil.RespondError(w, http.StatusBadGateway, err.Error())
		default:
			httputil.RespondError(w, http.StatusInternalServerError, "Authorization failed")
		}
		return
	}

	// Hand the browser back to the caller's app when a redirect was given at
	// initiation. API clients get the integration JSON instead.
	if redirectURL != "" {
		http.Redirect(w, r, redirectURL, http.StatusFound)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}
