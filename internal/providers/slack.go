package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"

	"recordhub-backend/internal/models"
)

// Ensure SlackProvider implements the Provider interface.
var (
	_ Provider     = (*SlackProvider)(nil)
	_ TokenRevoker = (*SlackProvider)(nil)
)

const slackAuthorizeURL = "https://slack.com/oauth/v2/authorize"

// slackScopes are the bot scopes requested during authorization.
var slackScopes = "channels:read,groups:read,chat:write,chat:write.public"

// SlackProvider drives Slack through the standard OAuth v2
// authorization-code flow. Bot tokens do not expire, so refresh is
// unsupported; a broken token means reconnecting the workspace.
type SlackProvider struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewSlackProvider creates a Slack provider with the app's client
// credentials.
func NewSlackProvider(clientID, clientSecret string) *SlackProvider {
	return &SlackProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *SlackProvider) Name() string     { return "slack" }
func (s *SlackProvider) Category() string { return CategoryChat }

// GetAuthURL builds the Slack OAuth v2 authorization URL.
func (s *SlackProvider) GetAuthURL(_ context.Context, _ uuid.UUID, redirectURI, state string, _ map[string]string) (string, error) {
	if s.clientID == "" {
		return "", fmt.Errorf("slack client credentials are not configured")
	}

	q := url.Values{}
	q.Set("client_id", s.clientID)
	q.Set("scope", slackScopes)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return slackAuthorizeURL + "?" + q.Encode(), nil
}

// HandleCallback exchanges the authorization code for a bot token.
func (s *SlackProvider) HandleCallback(ctx context.Context, params CallbackParams) (*models.TokenData, error) {
	if params.Code == "" {
		return nil, fmt.Errorf("slack callback is missing the authorization code")
	}

	resp, err := slack.GetOAuthV2ResponseContext(ctx, s.httpClient, s.clientID, s.clientSecret, params.Code, params.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("slack oauth exchange failed: %w", err)
	}

	token := &models.TokenData{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Scope:        resp.Scope,
		Metadata: map[string]string{
			"team_id":     resp.Team.ID,
			"team_name":   resp.Team.Name,
			"bot_user_id": resp.BotUserID,
		},
	}
	if resp.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
		token.ExpiresAt = &exp
	}
	return token, nil
}

// RefreshToken is unsupported: Slack bot tokens without rotation enabled
// never expire.
func (s *SlackProvider) RefreshToken(context.Context, string) (*models.TokenData, error) {
	return nil, fmt.Errorf("%w: slack tokens do not expire", ErrUnsupportedOperation)
}

// GetAvailableChannels lists the workspace's channels, following pagination
// cursors.
func (s *SlackProvider) GetAvailableChannels(ctx context.Context, _ *models.Integration, token models.TokenData) ([]models.Channel, error) {
	client := slack.New(token.AccessToken)

	var channels []models.Channel
	cursor := ""
	for {
		page, next, err := client.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Types:           []string{"public_channel", "private_channel"},
			ExcludeArchived: true,
			Limit:           200,
			Cursor:          cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list slack channels: %w", err)
		}

		for _, ch := range page {
			visibility := models.ChannelVisibilityPublic
			if ch.IsPrivate {
				visibility = models.ChannelVisibilityPrivate
			}
			if ch.IsIM {
				visibility = models.ChannelVisibilityDirect
			}
			channels = append(channels, models.Channel{
				ID:         ch.ID,
				Name:       ch.Name,
				Visibility: visibility,
				Metadata: map[string]string{
					"is_member": fmt.Sprintf("%t", ch.IsMember),
				},
			})
		}

		if next == "" {
			break
		}
		cursor = next
	}
	return channels, nil
}

// PostMessage posts the record-change message to the connection's channel.
func (s *SlackProvider) PostMessage(ctx context.Context, _ *models.Integration, conn *models.Connection, token models.TokenData, msg models.MessageData) error {
	client := slack.New(token.AccessToken)

	_, _, err := client.PostMessageContext(ctx, conn.ExternalID,
		slack.MsgOptionText(FormatMessageText(msg), false),
	)
	if err != nil {
		return fmt.Errorf("failed to post message to slack channel %s: %w", conn.ExternalID, err)
	}
	return nil
}

// ValidateConnection checks that the channel still exists and is visible to
// the bot.
func (s *SlackProvider) ValidateConnection(ctx context.Context, _ *models.Integration, conn *models.Connection, token models.TokenData) bool {
	client := slack.New(token.AccessToken)
	_, err := client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: conn.ExternalID,
	})
	return err == nil
}

// RevokeToken revokes the bot token with auth.revoke.
func (s *SlackProvider) RevokeToken(ctx context.Context, token models.TokenData) error {
	client := slack.New(token.AccessToken)
	if _, err := client.SendAuthRevokeContext(ctx, ""); err != nil {
		return fmt.Errorf("slack token revocation failed: %w", err)
	}
	return nil
}

func (s *SlackProvider) GetConfigSchema() ConfigSchema {
	return ConfigSchema{
		Provider: "slack",
		Fields: []ConfigField{
			{Key: "team_id", Type: "string", Description: "Slack workspace ID", Required: false},
			{Key: "team_name", Type: "string", Description: "Slack workspace name", Required: false},
			{Key: "bot_user_id", Type: "string", Description: "Bot user ID granted during install", Required: false},
		},
	}
}
