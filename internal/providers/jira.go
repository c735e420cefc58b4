package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"recordhub-backend/internal/models"
)

// Ensure JiraProvider implements the Provider interface.
var _ Provider = (*JiraProvider)(nil)

const (
	jiraAuthorizeURL = "https://auth.atlassian.com/authorize"
	jiraTokenURL     = "https://auth.atlassian.com/oauth/token"
	jiraResourcesURL = "https://api.atlassian.com/oauth/token/accessible-resources"
	jiraAPIBase      = "https://api.atlassian.com/ex/jira"
)

var jiraScopes = []string{"read:jira-work", "write:jira-work", "offline_access"}

// jiraConfig is the provider-specific integration config, captured at
// callback time from the accessible-resources lookup.
type jiraConfig struct {
	CloudID     string `json:"cloud_id"`
	SiteURL     string `json:"site_url,omitempty"`
	InstanceURL string `json:"instance_url,omitempty"`
}

// jiraConnectionConfig is the per-connection config. When IssueKey is set,
// record changes are posted as comments on that issue; otherwise each
// change creates a new issue in the connection's project.
type jiraConnectionConfig struct {
	IssueKey  string `json:"issue_key,omitempty"`
	IssueType string `json:"issue_type,omitempty"`
}

// JiraProvider drives Jira Cloud through Atlassian's OAuth 2.0 (3LO) flow.
// Access tokens are short-lived and refresh tokens rotate on every use.
type JiraProvider struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewJiraProvider creates a Jira provider with the app's OAuth client
// credentials.
func NewJiraProvider(clientID, clientSecret string) *JiraProvider {
	return &JiraProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (j *JiraProvider) Name() string     { return "jira" }
func (j *JiraProvider) Category() string { return CategoryIssues }

func (j *JiraProvider) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     j.clientID,
		ClientSecret: j.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       jiraScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  jiraAuthorizeURL,
			TokenURL: jiraTokenURL,
		},
	}
}

// GetAuthURL builds the Atlassian authorization URL.
func (j *JiraProvider) GetAuthURL(_ context.Context, _ uuid.UUID, redirectURI, state string, _ map[string]string) (string, error) {
	if j.clientID == "" {
		return "", fmt.Errorf("jira client credentials are not configured")
	}

	return j.oauthConfig(redirectURI).AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", "api.atlassian.com"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// HandleCallback exchanges the authorization code and resolves the cloud id
// of the first accessible site, which later API calls are scoped to.
func (j *JiraProvider) HandleCallback(ctx context.Context, params CallbackParams) (*models.TokenData, error) {
	if params.Code == "" {
		return nil, fmt.Errorf("jira callback is missing the authorization code")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, j.httpClient)
	tok, err := j.oauthConfig(params.RedirectURI).Exchange(ctx, params.Code)
	if err != nil {
		return nil, fmt.Errorf("jira oauth exchange failed: %w", err)
	}

	token := &models.TokenData{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Metadata:     map[string]string{},
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		token.ExpiresAt = &exp
	}

	// Resolve which Jira site this token can reach.
	body, err := j.apiRequest(ctx, http.MethodGet, jiraResourcesURL, tok.AccessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve accessible jira sites: %w", err)
	}
	var sites []struct {
		ID   string `json:"id"`
		URL  string `json:"url"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &sites); err != nil {
		return nil, fmt.Errorf("failed to parse accessible jira sites: %w", err)
	}
	if len(sites) == 0 {
		return nil, fmt.Errorf("jira token has no accessible sites")
	}
	token.Metadata["cloud_id"] = sites[0].ID
	token.Metadata["site_url"] = sites[0].URL

	return token, nil
}

// RefreshToken exchanges the rotating refresh token for a fresh pair.
// Non-2xx responses surface as *APIError so callers can classify them.
func (j *JiraProvider) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenData, error) {
	payload, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     j.clientID,
		"client_secret": j.clientSecret,
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build jira refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, jiraTokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse jira refresh response: %w", err)
	}

	token := &models.TokenData{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
	}
	if out.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
		token.ExpiresAt = &exp
	}
	return token, nil
}

// GetAvailableChannels lists the site's projects.
func (j *JiraProvider) GetAvailableChannels(ctx context.Context, integration *models.Integration, token models.TokenData) ([]models.Channel, error) {
	cfg, err := j.integrationConfig(integration)
	if err != nil {
		return nil, err
	}

	body, err := j.apiRequest(ctx, http.MethodGet, j.apiURL(cfg, "/rest/api/2/project"), token.AccessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list jira projects: %w", err)
	}

	var projects []struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &projects); err != nil {
		return nil, fmt.Errorf("failed to parse jira projects: %w", err)
	}

	channels := make([]models.Channel, 0, len(projects))
	for _, p := range projects {
		channels = append(channels, models.Channel{
			ID:         p.Key,
			Name:       p.Name,
			Visibility: models.ChannelVisibilityPublic,
			Metadata:   map[string]string{"project_id": p.ID},
		})
	}
	return channels, nil
}

// PostMessage posts the record change either as a comment on a configured
// issue, or as a new issue in the connection's project.
func (j *JiraProvider) PostMessage(ctx context.Context, integration *models.Integration, conn *models.Connection, token models.TokenData, msg models.MessageData) error {
	integCfg, err := j.integrationConfig(integration)
	if err != nil {
		return err
	}

	var connCfg jiraConnectionConfig
	if len(conn.Config) > 0 {
		if err := json.Unmarshal(conn.Config, &connCfg); err != nil {
			return fmt.Errorf("invalid jira connection config: %w", err)
		}
	}

	if connCfg.IssueKey != "" {
		payload, _ := json.Marshal(map[string]string{"body": FormatMessageText(msg)})
		path := fmt.Sprintf("/rest/api/2/issue/%s/comment", connCfg.IssueKey)
		if _, err := j.apiRequest(ctx, http.MethodPost, j.apiURL(integCfg, path), token.AccessToken, payload); err != nil {
			return fmt.Errorf("failed to comment on jira issue %s: %w", connCfg.IssueKey, err)
		}
		return nil
	}

	issueType := connCfg.IssueType
	if issueType == "" {
		issueType = "Task"
	}
	payload, _ := json.Marshal(map[string]any{
		"fields": map[string]any{
			"project":     map[string]string{"key": conn.ExternalID},
			"summary":     fmt.Sprintf("Record %s: %s", msg.Change, msg.Title),
			"description": FormatMessageText(msg),
			"issuetype":   map[string]string{"name": issueType},
		},
	})
	if _, err := j.apiRequest(ctx, http.MethodPost, j.apiURL(integCfg, "/rest/api/2/issue"), token.AccessToken, payload); err != nil {
		return fmt.Errorf("failed to create jira issue in project %s: %w", conn.ExternalID, err)
	}
	return nil
}

// ValidateConnection checks that the project is still reachable.
func (j *JiraProvider) ValidateConnection(ctx context.Context, integration *models.Integration, conn *models.Connection, token models.TokenData) bool {
	cfg, err := j.integrationConfig(integration)
	if err != nil {
		return false
	}
	path := "/rest/api/2/project/" + url.PathEscape(conn.ExternalID)
	_, err = j.apiRequest(ctx, http.MethodGet, j.apiURL(cfg, path), token.AccessToken, nil)
	return err == nil
}

func (j *JiraProvider) GetConfigSchema() ConfigSchema {
	return ConfigSchema{
		Provider: "jira",
		Fields: []ConfigField{
			{Key: "cloud_id", Type: "string", Description: "Atlassian cloud ID resolved at connect time", Required: true},
			{Key: "site_url", Type: "string", Description: "Site base URL", Required: false},
			{Key: "instance_url", Type: "string", Description: "Self-hosted instance URL", Required: false, Pattern: `^https://[a-z0-9-]+\.atlassian\.net$`},
		},
	}
}

func (j *JiraProvider) integrationConfig(integration *models.Integration) (jiraConfig, error) {
	var cfg jiraConfig
	if integration == nil || len(integration.Config) == 0 {
		return cfg, fmt.Errorf("jira integration config is missing")
	}
	if err := json.Unmarshal(integration.Config, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid jira integration config: %w", err)
	}
	if cfg.CloudID == "" && cfg.InstanceURL == "" {
		return cfg, fmt.Errorf("jira integration config is missing cloud_id")
	}
	return cfg, nil
}

// apiURL picks the self-hosted instance URL when configured, otherwise the
// Atlassian cloud gateway.
func (j *JiraProvider) apiURL(cfg jiraConfig, path string) string {
	if cfg.InstanceURL != "" {
		return strings.TrimSuffix(cfg.InstanceURL, "/") + path
	}
	return fmt.Sprintf("%s/%s%s", jiraAPIBase, cfg.CloudID, path)
}

func (j *JiraProvider) apiRequest(ctx context.Context, method, rawURL, accessToken string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(out))}
	}
	return out, nil
}
