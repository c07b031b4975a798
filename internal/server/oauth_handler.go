package server

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xpg/keyserver/internal/models"
	"go.uber.org/zap"
)

// authDiscord starts the Discord OAuth flow and remembers where to return
func (s *Server) authDiscord(c *gin.Context) {
	if !s.oauthClient.Configured() {
		c.String(500, "OAuth not configured on server.")
		return
	}

	sess := s.sessions.get(c)
	sess.next = c.Query("next")
	if sess.next == "" {
		sess.next = "/claim"
	}
	sess.state = uuid.NewString()

	c.Redirect(302, s.oauthClient.AuthCodeURL(sess.state))
}

// authCallback completes the OAuth exchange and binds the verified identity
// to the session
func (s *Server) authCallback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")

	sess := s.sessions.peek(c)
	if code == "" || state == "" || sess == nil || state != sess.state {
		c.String(400, "Invalid OAuth state or missing code.")
		return
	}
	// one-shot state
	sess.state = ""

	token, err := s.oauthClient.Exchange(c.Request.Context(), code)
	if err != nil {
		s.logger.Error("OAuth code exchange failed", zap.Error(err))
		c.String(500, "OAuth error")
		return
	}

	identity, err := s.oauthClient.FetchIdentity(c.Request.Context(), token.AccessToken)
	if err != nil {
		s.logger.Error("Failed to resolve identity", zap.Error(err))
		c.String(500, "OAuth error")
		return
	}

	sess.identity = identity
	s.logger.Info("Identity verified",
		zap.String("user_id", identity.ID),
		zap.String("username", identity.Username))

	next := sess.next
	if next == "" {
		next = "/claim"
	}
	c.Redirect(302, next)
}

// redeemWithOAuth redeems a token using the session's verified identity with
// enforcement on; identity resolution happens before the redeem call, never
// inside it
func (s *Server) redeemWithOAuth(c *gin.Context) {
	sess := s.sessions.peek(c)
	if sess == nil || sess.identity == nil {
		c.JSON(401, models.ErrorResponse{Reason: "not-authenticated"})
		return
	}

	key, err := s.coordinator.Redeem(c.Request.Context(), c.Param("token"), sess.identity.ID, true)
	if err != nil {
		s.denyRedeem(c, err)
		return
	}

	c.JSON(200, models.RedeemResponse{
		Success:  true,
		Key:      key.ID,
		Type:     key.Tier,
		UsesLeft: key.UsesRemaining,
	})
}
