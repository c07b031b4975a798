// Package oauth resolves a requester's Discord identity through the
// standard authorization-code flow. The claim core never sees any of this;
// it only consumes the resolved identity string.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xpg/keyserver/internal/config"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/api/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

const discordUserURL = "https://discord.com/api/users/@me"

// Identity is the verified requester identity returned by Discord
type Identity struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
}

// Client handles the Discord OAuth2 flow
type Client struct {
	config     *oauth2.Config
	logger     *zap.Logger
	httpClient *http.Client

	// overridable in tests
	userURL string
}

// NewClient creates a new OAuth client from the configured Discord
// application credentials
func NewClient(cfg config.OAuthConfig, logger *zap.Logger) *Client {
	return &Client{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"identify"},
			Endpoint:     discordEndpoint,
		},
		logger:     logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userURL:    discordUserURL,
	}
}

// Configured reports whether identity verification is available
func (c *Client) Configured() bool {
	return c.config.ClientID != "" && c.config.ClientSecret != ""
}

// AuthCodeURL generates the authorization URL for the given state
func (c *Client) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for an access token
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

// FetchIdentity resolves the authenticated user behind an access token
func (c *Client) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, body)
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	if identity.ID == "" {
		return nil, fmt.Errorf("user info response missing id")
	}

	c.logger.Debug("Resolved Discord identity", zap.String("user_id", identity.ID))
	return &identity, nil
}
