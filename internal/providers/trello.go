package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"recordhub-backend/internal/models"
)

// Ensure TrelloProvider implements the Provider interface.
var _ Provider = (*TrelloProvider)(nil)

const (
	trelloRequestTokenURL = "https://trello.com/1/OAuthGetRequestToken"
	trelloAuthorizeURL    = "https://trello.com/1/OAuthAuthorizeToken"
	trelloAccessTokenURL  = "https://trello.com/1/OAuthGetAccessToken"
	trelloAPIBase         = "https://api.trello.com/1"
)

// trelloConnectionConfig is the per-connection config. When CardID is set,
// record changes are posted as comments on that card; otherwise each change
// creates a card in ListID on the connection's board.
type trelloConnectionConfig struct {
	CardID string `json:"card_id,omitempty"`
	ListID string `json:"list_id,omitempty"`
}

// TrelloProvider drives Trello through the legacy OAuth 1.0a
// request-token/verifier flow. There is no state parameter in this flow;
// the authorization context is kept server-side, keyed by the request
// token, until the callback consumes it.
//
// The OAuth 1.0a token secret travels in TokenData's refresh-token slot so
// it is encrypted at rest alongside the access token. Trello tokens never
// expire, so the slot is never consumed by an actual refresh.
type TrelloProvider struct {
	signer     oauth1Signer
	httpClient *http.Client
	pending    *pendingAuthStore
	appName    string
}

// NewTrelloProvider creates a Trello provider with the app's API key and
// secret.
func NewTrelloProvider(apiKey, apiSecret string) *TrelloProvider {
	return &TrelloProvider{
		signer:     oauth1Signer{consumerKey: apiKey, consumerSecret: apiSecret},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		pending:    newPendingAuthStore(10 * time.Minute),
		appName:    "RecordHub",
	}
}

func (t *TrelloProvider) Name() string     { return "trello" }
func (t *TrelloProvider) Category() string { return CategoryBoards }

// RequestTokenFlow marks the legacy authorization shape.
func (t *TrelloProvider) RequestTokenFlow() {}

// GetAuthURL obtains a request token, stashes the authorization context
// keyed by it, and returns the user-facing authorize URL. The signed state
// is unused here; the pending store plays its role.
func (t *TrelloProvider) GetAuthURL(ctx context.Context, tenantID uuid.UUID, redirectURI, _ string, _ map[string]string) (string, error) {
	if t.signer.consumerKey == "" {
		return "", fmt.Errorf("trello API credentials are not configured")
	}

	body, err := t.signedRequest(ctx, http.MethodPost, trelloRequestTokenURL,
		map[string]string{"oauth_callback": redirectURI}, "", "")
	if err != nil {
		return "", fmt.Errorf("trello request token call failed: %w", err)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse trello request token response: %w", err)
	}
	requestToken := values.Get("oauth_token")
	requestSecret := values.Get("oauth_token_secret")
	if requestToken == "" || requestSecret == "" {
		return "", fmt.Errorf("trello request token response is incomplete")
	}

	t.pending.put(requestToken, pendingAuthorization{
		TenantID:    tenantID,
		TokenSecret: requestSecret,
		RedirectURI: redirectURI,
		CreatedAt:   time.Now(),
	})

	q := url.Values{}
	q.Set("oauth_token", requestToken)
	q.Set("name", t.appName)
	q.Set("scope", "read,write")
	q.Set("expiration", "never")
	return trelloAuthorizeURL + "?" + q.Encode(), nil
}

// HandleCallback looks up the pending authorization by oauth_token and
// exchanges token + verifier for an access token.
func (t *TrelloProvider) HandleCallback(ctx context.Context, params CallbackParams) (*models.TokenData, error) {
	if params.OAuthToken == "" || params.OAuthVerifier == "" {
		return nil, fmt.Errorf("trello callback is missing oauth_token or oauth_verifier")
	}

	auth, ok := t.pending.take(params.OAuthToken)
	if !ok {
		return nil, fmt.Errorf("unknown or expired trello request token")
	}

	body, err := t.signedRequest(ctx, http.MethodPost, trelloAccessTokenURL,
		map[string]string{"oauth_verifier": params.OAuthVerifier},
		params.OAuthToken, auth.TokenSecret)
	if err != nil {
		return nil, fmt.Errorf("trello access token call failed: %w", err)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse trello access token response: %w", err)
	}
	accessToken := values.Get("oauth_token")
	accessSecret := values.Get("oauth_token_secret")
	if accessToken == "" || accessSecret == "" {
		return nil, fmt.Errorf("trello access token response is incomplete")
	}

	return &models.TokenData{
		AccessToken:  accessToken,
		RefreshToken: accessSecret, // OAuth 1.0a token secret, see type comment
		Metadata: map[string]string{
			"tenant_id":    auth.TenantID.String(),
			"redirect_url": auth.RedirectURI,
		},
	}, nil
}

// RefreshToken is unsupported: Trello tokens are issued with no expiration.
func (t *TrelloProvider) RefreshToken(context.Context, string) (*models.TokenData, error) {
	return nil, fmt.Errorf("%w: trello tokens do not expire", ErrUnsupportedOperation)
}

// GetAvailableChannels lists the member's open boards.
func (t *TrelloProvider) GetAvailableChannels(ctx context.Context, _ *models.Integration, token models.TokenData) ([]models.Channel, error) {
	body, err := t.signedRequest(ctx, http.MethodGet,
		trelloAPIBase+"/members/me/boards?fields=name,closed,url", nil,
		token.AccessToken, token.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list trello boards: %w", err)
	}

	var boards []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Closed bool   `json:"closed"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(body, &boards); err != nil {
		return nil, fmt.Errorf("failed to parse trello boards: %w", err)
	}

	var channels []models.Channel
	for _, b := range boards {
		if b.Closed {
			continue
		}
		channels = append(channels, models.Channel{
			ID:         b.ID,
			Name:       b.Name,
			Visibility: models.ChannelVisibilityPrivate,
			Metadata:   map[string]string{"url": b.URL},
		})
	}
	return channels, nil
}

// PostMessage posts the record change either as a comment on a configured
// card, or as a new card in the connection's configured list.
func (t *TrelloProvider) PostMessage(ctx context.Context, _ *models.Integration, conn *models.Connection, token models.TokenData, msg models.MessageData) error {
	var cfg trelloConnectionConfig
	if len(conn.Config) > 0 {
		if err := json.Unmarshal(conn.Config, &cfg); err != nil {
			return fmt.Errorf("invalid trello connection config: %w", err)
		}
	}

	switch {
	case cfg.CardID != "":
		endpoint := fmt.Sprintf("%s/cards/%s/actions/comments?text=%s",
			trelloAPIBase, url.PathEscape(cfg.CardID), url.QueryEscape(FormatMessageText(msg)))
		if _, err := t.signedRequest(ctx, http.MethodPost, endpoint, nil, token.AccessToken, token.RefreshToken); err != nil {
			return fmt.Errorf("failed to comment on trello card %s: %w", cfg.CardID, err)
		}
		return nil

	case cfg.ListID != "":
		q := url.Values{}
		q.Set("idList", cfg.ListID)
		q.Set("name", fmt.Sprintf("Record %s: %s", msg.Change, msg.Title))
		q.Set("desc", FormatMessageText(msg))
		endpoint := trelloAPIBase + "/cards?" + q.Encode()
		if _, err := t.signedRequest(ctx, http.MethodPost, endpoint, nil, token.AccessToken, token.RefreshToken); err != nil {
			return fmt.Errorf("failed to create trello card in list %s: %w", cfg.ListID, err)
		}
		return nil

	default:
		return fmt.Errorf("trello connection requires card_id or list_id in its config")
	}
}

// ValidateConnection checks that the board is still accessible.
func (t *TrelloProvider) ValidateConnection(ctx context.Context, _ *models.Integration, conn *models.Connection, token models.TokenData) bool {
	endpoint := fmt.Sprintf("%s/boards/%s?fields=name", trelloAPIBase, url.PathEscape(conn.ExternalID))
	_, err := t.signedRequest(ctx, http.MethodGet, endpoint, nil, token.AccessToken, token.RefreshToken)
	return err == nil
}

func (t *TrelloProvider) GetConfigSchema() ConfigSchema {
	return ConfigSchema{
		Provider: "trello",
		Fields: []ConfigField{
			{Key: "list_id", Type: "string", Description: "List to create cards in on record changes", Required: false},
			{Key: "card_id", Type: "string", Description: "Card to comment on instead of creating cards", Required: false},
		},
	}
}

func (t *TrelloProvider) signedRequest(ctx context.Context, method, rawURL string, extra map[string]string, token, tokenSecret string) ([]byte, error) {
	header, err := t.signer.authorizationHeader(method, rawURL, extra, token, tokenSecret)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", header)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
