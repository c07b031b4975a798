package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xpg/keyserver/internal/models"
	"go.uber.org/zap"
)

// ==================== Key validation ====================

// validateKey checks a key presented directly by a client script. A free key
// has one use consumed on success; a lifetime key validates without being
// consumed.
func (s *Server) validateKey(c *gin.Context) {
	var req models.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Key) == "" {
		c.JSON(400, models.ErrorResponse{Reason: "empty-key"})
		return
	}

	result := s.inventory.Validate(strings.TrimSpace(req.Key))
	s.metrics.ValidationsTotal.WithLabelValues(validationLabel(result)).Inc()
	switch {
	case result.Valid && result.Tier == models.TierLifetime:
		c.JSON(200, gin.H{"success": true, "type": models.TierLifetime, "consumed": false, "source": "server"})
	case result.Valid:
		c.JSON(200, gin.H{
			"success":   true,
			"type":      models.TierFree,
			"consumed":  true,
			"uses_left": result.UsesRemaining,
			"source":    "server",
		})
	case result.Exhausted:
		c.JSON(200, gin.H{"success": false, "reason": "no-uses-left", "type": models.TierFree, "uses_left": 0})
	default:
		c.JSON(200, gin.H{"success": false, "reason": "invalid-key"})
	}
}

func validationLabel(result *models.ValidationResult) string {
	switch {
	case result.Valid:
		return "valid"
	case result.Exhausted:
		return "exhausted"
	default:
		return "invalid"
	}
}

// ==================== Admin key management ====================

func (s *Server) listKeys(c *gin.Context) {
	c.JSON(200, gin.H{"success": true, "keys": s.inventory.List()})
}

func (s *Server) generateFreeKey(c *gin.Context) {
	var req models.GenerateFreeRequest
	// missing body falls through to the default use count
	_ = c.ShouldBindJSON(&req)
	if req.Uses <= 0 {
		req.Uses = 3
	}

	key, err := s.inventory.GenerateFree(req.Uses)
	if err != nil {
		s.logger.Error("Free key generation failed", zap.Error(err))
		c.JSON(500, models.ErrorResponse{Reason: models.Reason(err)})
		return
	}

	s.metrics.KeysGenerated.WithLabelValues(string(models.TierFree)).Inc()
	c.JSON(200, gin.H{"success": true, "key": key.ID, "uses": key.UsesRemaining})
}

func (s *Server) generateLifetimeKey(c *gin.Context) {
	key, err := s.inventory.GenerateLifetime()
	if err != nil {
		s.logger.Error("Lifetime key generation failed", zap.Error(err))
		c.JSON(500, models.ErrorResponse{Reason: models.Reason(err)})
		return
	}

	s.metrics.KeysGenerated.WithLabelValues(string(models.TierLifetime)).Inc()
	c.JSON(200, gin.H{"success": true, "key": key.ID})
}

func (s *Server) deleteKey(c *gin.Context) {
	var req models.DeleteKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Key) == "" {
		c.JSON(400, models.ErrorResponse{Reason: "empty-key"})
		return
	}

	key := strings.TrimSpace(req.Key)
	if s.inventory.Delete(key) {
		c.JSON(200, gin.H{"success": true, "removed": key})
		return
	}
	c.JSON(200, models.ErrorResponse{Reason: "not-found"})
}
