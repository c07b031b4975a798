package server

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xpg/keyserver/internal/models"
	"go.uber.org/zap"
)

// createClaim issues a claim token, rate-limited per network origin and, when
// a discord id is supplied, per identity
func (s *Server) createClaim(c *gin.Context) {
	var req models.CreateClaimRequest
	// an empty body means an anonymous claim with the default ttl
	_ = c.ShouldBindJSON(&req)

	issued, err := s.coordinator.CreateClaim(
		c.Request.Context(),
		req.DiscordID,
		c.ClientIP(),
		time.Duration(req.Minutes)*time.Minute,
	)
	if err != nil {
		s.denyClaim(c, err)
		return
	}

	ttl := time.UnixMilli(issued.Token.ExpiresAt).Sub(time.UnixMilli(issued.Token.CreatedAt))
	c.JSON(200, models.CreateClaimResponse{
		Success:          true,
		Token:            issued.Token.Token,
		URL:              issued.URL,
		ExpiresInMinutes: int(ttl / time.Minute),
	})
}

func (s *Server) denyClaim(c *gin.Context, err error) {
	var rl *models.RateLimitedError
	if errors.As(err, &rl) {
		resp := models.ErrorResponse{Reason: models.Reason(err)}
		if rl.Scope == "identity" {
			resp.RetryAfterMs = rl.RetryAfter.Milliseconds()
		}
		c.JSON(429, resp)
		return
	}

	s.logger.Error("Claim creation failed", zap.Error(err))
	c.JSON(500, models.ErrorResponse{Reason: models.Reason(err)})
}

// tokenInfo exposes a token's classification without granting anything; the
// claim page uses it to show expiry and whether verification is required
func (s *Server) tokenInfo(c *gin.Context) {
	token := c.Param("token")

	rec, err := s.coordinator.Inspect(token)
	if err != nil {
		c.JSON(200, models.ErrorResponse{Reason: models.Reason(err)})
		return
	}

	c.JSON(200, gin.H{"success": true, "token": token, "info": rec})
}

// redeem exchanges a claim token for a key
func (s *Server) redeem(c *gin.Context) {
	var req models.RedeemRequest
	_ = c.ShouldBindJSON(&req)

	key, err := s.coordinator.Redeem(c.Request.Context(), c.Param("token"), req.DiscordID, req.EnforceDiscord)
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

func (s *Server) denyRedeem(c *gin.Context, err error) {
	status := 400
	if errors.Is(err, models.ErrIdentityMismatch) {
		status = 403
	}
	c.JSON(status, models.ErrorResponse{Reason: models.Reason(err)})
}

// claimPageHandler renders the claim page for a token link
func (s *Server) claimPageHandler(c *gin.Context) {
	c.Status(200)
	c.Header("Content-Type", "text/html; charset=utf-8")
	err := s.claimPage.Execute(c.Writer, gin.H{
		"Token":          c.Query("token"),
		"OAuthAvailable": s.oauthClient.Configured(),
	})
	if err != nil {
		s.logger.Error("Failed to render claim page", zap.Error(err))
	}
}
