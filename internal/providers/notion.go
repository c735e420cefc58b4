package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jomei/notionapi"
	"golang.org/x/oauth2"

	"recordhub-backend/internal/models"
)

// Ensure NotionProvider implements the Provider interface.
var _ Provider = (*NotionProvider)(nil)

const (
	notionAuthorizeURL = "https://api.notion.com/v1/oauth/authorize"
	notionTokenURL     = "https://api.notion.com/v1/oauth/token"
)

// NotionProvider drives Notion through the standard authorization-code
// flow. Notion integration tokens do not expire.
type NotionProvider struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewNotionProvider creates a Notion provider with the integration's OAuth
// client credentials.
func NewNotionProvider(clientID, clientSecret string) *NotionProvider {
	return &NotionProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (n *NotionProvider) Name() string     { return "notion" }
func (n *NotionProvider) Category() string { return CategoryDocs }

func (n *NotionProvider) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     n.clientID,
		ClientSecret: n.clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  notionAuthorizeURL,
			TokenURL: notionTokenURL,
			// Notion's token endpoint requires HTTP basic auth.
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// GetAuthURL builds the Notion authorization URL.
func (n *NotionProvider) GetAuthURL(_ context.Context, _ uuid.UUID, redirectURI, state string, _ map[string]string) (string, error) {
	if n.clientID == "" {
		return "", fmt.Errorf("notion client credentials are not configured")
	}

	q := url.Values{}
	q.Set("client_id", n.clientID)
	q.Set("response_type", "code")
	q.Set("owner", "user")
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return notionAuthorizeURL + "?" + q.Encode(), nil
}

// HandleCallback exchanges the authorization code for a workspace token.
func (n *NotionProvider) HandleCallback(ctx context.Context, params CallbackParams) (*models.TokenData, error) {
	if params.Code == "" {
		return nil, fmt.Errorf("notion callback is missing the authorization code")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, n.httpClient)
	tok, err := n.oauthConfig(params.RedirectURI).Exchange(ctx, params.Code)
	if err != nil {
		return nil, fmt.Errorf("notion oauth exchange failed: %w", err)
	}

	token := &models.TokenData{
		AccessToken: tok.AccessToken,
		Metadata:    map[string]string{},
	}
	for _, key := range []string{"workspace_id", "workspace_name", "bot_id"} {
		if v, ok := tok.Extra(key).(string); ok && v != "" {
			token.Metadata[key] = v
		}
	}
	return token, nil
}

// RefreshToken is unsupported: Notion integration tokens do not expire.
func (n *NotionProvider) RefreshToken(context.Context, string) (*models.TokenData, error) {
	return nil, fmt.Errorf("%w: notion tokens do not expire", ErrUnsupportedOperation)
}

// GetAvailableChannels lists the pages shared with the integration. Pages
// are the postable destinations for Notion: messages land as comments.
func (n *NotionProvider) GetAvailableChannels(ctx context.Context, _ *models.Integration, token models.TokenData) ([]models.Channel, error) {
	client := notionapi.NewClient(notionapi.Token(token.AccessToken))

	var channels []models.Channel
	var cursor notionapi.Cursor
	for {
		resp, err := client.Search.Do(ctx, &notionapi.SearchRequest{
			Filter:      notionapi.SearchFilter{Value: "page", Property: "object"},
			PageSize:    100,
			StartCursor: cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to search notion pages: %w", err)
		}

		for _, obj := range resp.Results {
			page, ok := obj.(*notionapi.Page)
			if !ok {
				continue
			}
			channels = append(channels, models.Channel{
				ID:         string(page.ID),
				Name:       notionPageTitle(page),
				Visibility: models.ChannelVisibilityPrivate,
				Metadata:   map[string]string{"url": page.URL},
			})
		}

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return channels, nil
}

// PostMessage adds the record-change message as a comment on the
// connection's page.
func (n *NotionProvider) PostMessage(ctx context.Context, _ *models.Integration, conn *models.Connection, token models.TokenData, msg models.MessageData) error {
	client := notionapi.NewClient(notionapi.Token(token.AccessToken))

	_, err := client.Comment.Create(ctx, &notionapi.CommentCreateRequest{
		Parent: notionapi.Parent{
			Type:   notionapi.ParentTypePageID,
			PageID: notionapi.PageID(conn.ExternalID),
		},
		RichText: []notionapi.RichText{
			{Text: &notionapi.Text{Content: FormatMessageText(msg)}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to comment on notion page %s: %w", conn.ExternalID, err)
	}
	return nil
}

// ValidateConnection checks that the page is still shared with the
// integration.
func (n *NotionProvider) ValidateConnection(ctx context.Context, _ *models.Integration, conn *models.Connection, token models.TokenData) bool {
	client := notionapi.NewClient(notionapi.Token(token.AccessToken))
	_, err := client.Page.Get(ctx, notionapi.PageID(conn.ExternalID))
	return err == nil
}

func (n *NotionProvider) GetConfigSchema() ConfigSchema {
	return ConfigSchema{
		Provider: "notion",
		Fields: []ConfigField{
			{Key: "workspace_id", Type: "string", Description: "Notion workspace ID", Required: false},
			{Key: "workspace_name", Type: "string", Description: "Notion workspace name", Required: false},
			{Key: "bot_id", Type: "string", Description: "Bot ID of the authorized integration", Required: false},
		},
	}
}

// notionPageTitle extracts the plain-text title of a page, falling back to
// the page ID when the title property is empty.
func notionPageTitle(page *notionapi.Page) string {
	for _, prop := range page.Properties {
		tp, ok := prop.(*notionapi.TitleProperty)
		if !ok {
			continue
		}
		title := ""
		for _, rt := range tp.Title {
			title += rt.PlainText
		}
		if title != "" {
			return title
		}
	}
	return string(page.ID)
}
