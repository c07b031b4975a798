// Package claim orchestrates the rate limiter, the token ledger and the key
// inventory into the create-claim and redeem operations.
package claim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xpg/keyserver/internal/metrics"
	"github.com/xpg/keyserver/internal/models"
	"github.com/xpg/keyserver/internal/ratelimit"
	"github.com/xpg/keyserver/internal/storage"
	"go.uber.org/zap"
)

// Config carries the issuance policy
type Config struct {
	BaseURL            string
	DefaultTTL         time.Duration
	MaxTTL             time.Duration
	IdentityWindow     time.Duration
	OriginWindow       time.Duration
	OriginMaxPerWindow int
}

// Issued is the result of a successful create-claim: the token record plus
// the fully-qualified claim link a requester can follow
type Issued struct {
	Token *models.ClaimToken
	URL   string
}

// Coordinator is the only component that spans the limiter, the ledger and
// the inventory. It never retries internally; a failed call is terminal and
// the caller decides whether to try again.
type Coordinator struct {
	inventory *storage.KeyInventory
	ledger    *storage.TokenLedger
	limiter   ratelimit.Limiter
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
}

// NewCoordinator wires the claim/redeem flow together
func NewCoordinator(inv *storage.KeyInventory, ledger *storage.TokenLedger, limiter ratelimit.Limiter, m *metrics.Metrics, logger *zap.Logger, cfg Config) *Coordinator {
	return &Coordinator{
		inventory: inv,
		ledger:    ledger,
		limiter:   limiter,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

// CreateClaim admits the request through both rate limits and issues a claim
// token. The origin limit is evaluated first so an anonymous flood is
// rejected before any identity-keyed state is touched.
func (c *Coordinator) CreateClaim(ctx context.Context, identity, originTag string, ttl time.Duration) (*Issued, error) {
	dec, err := c.limiter.AdmitOrigin(ctx, originTag, c.cfg.OriginWindow, c.cfg.OriginMaxPerWindow)
	if err != nil {
		// a broken limiter backend dampens nothing; issuing is better
		// than refusing every legitimate requester
		c.logger.Warn("Origin limiter unavailable, failing open", zap.Error(err))
	} else if !dec.Allowed {
		c.metrics.ClaimsDenied.WithLabelValues("origin").Inc()
		return nil, &models.RateLimitedError{Scope: "origin", RetryAfter: dec.RetryAfter}
	}

	if identity != "" {
		dec, err := c.limiter.AdmitIdentity(ctx, identity, c.cfg.IdentityWindow)
		if err != nil {
			c.logger.Warn("Identity limiter unavailable, failing open", zap.Error(err))
		} else if !dec.Allowed {
			c.metrics.ClaimsDenied.WithLabelValues("identity").Inc()
			return nil, &models.RateLimitedError{Scope: "identity", RetryAfter: dec.RetryAfter}
		}
	}

	token, err := c.ledger.Create(identity, c.clampTTL(ttl))
	if err != nil {
		return nil, err
	}

	c.metrics.ClaimsIssued.Inc()
	return &Issued{Token: token, URL: c.claimURL(token.Token)}, nil
}

// Inspect exposes the ledger's classification without granting anything
func (c *Coordinator) Inspect(token string) (*models.ClaimToken, error) {
	return c.ledger.Lookup(token)
}

// Redeem exchanges a live claim token for a key. At most one call across any
// number of concurrent attempts succeeds, because Consume is the sole
// read-then-flip authority on the ledger.
func (c *Coordinator) Redeem(ctx context.Context, token, presentedIdentity string, requireIdentityMatch bool) (*models.IssuedKey, error) {
	// cheap pre-check, no mutation
	rec, err := c.ledger.Lookup(token)
	if err != nil {
		c.metrics.RedemptionsFailed.WithLabelValues(models.Reason(err)).Inc()
		return nil, err
	}

	// an identity check must never burn the token's single use
	if requireIdentityMatch && rec.OwnerIdentity != "" {
		if presentedIdentity == "" || presentedIdentity != rec.OwnerIdentity {
			c.metrics.RedemptionsFailed.WithLabelValues(models.Reason(models.ErrIdentityMismatch)).Inc()
			return nil, models.ErrIdentityMismatch
		}
	}

	// a concurrent redeemer may have won the race since the pre-check;
	// Consume re-classifies under its own lock and reports the fresh state
	if _, err := c.ledger.Consume(token); err != nil {
		c.metrics.RedemptionsFailed.WithLabelValues(models.Reason(err)).Inc()
		return nil, err
	}

	key, err := c.inventory.ConsumeOne()
	if err != nil {
		// the token is irrevocably burned with no key granted; this must
		// surface as an incident, a user is owed a key
		c.logger.Error("Token consumed but no key available to grant",
			zap.String("token", maskToken(token)),
			zap.String("identity", rec.OwnerIdentity))
		c.metrics.BurnedWithoutKey.Inc()
		c.metrics.RedemptionsFailed.WithLabelValues(models.Reason(err)).Inc()
		return nil, err
	}

	c.metrics.Redemptions.WithLabelValues(string(key.Tier)).Inc()
	c.logger.Info("Key redeemed",
		zap.String("token", maskToken(token)),
		zap.String("type", string(key.Tier)))
	return key, nil
}

// clampTTL bounds a caller-supplied ttl to the administrative policy
func (c *Coordinator) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.cfg.DefaultTTL
	}
	if ttl > c.cfg.MaxTTL {
		return c.cfg.MaxTTL
	}
	return ttl
}

func (c *Coordinator) claimURL(token string) string {
	return fmt.Sprintf("%s/claim?token=%s", strings.TrimRight(c.cfg.BaseURL, "/"), token)
}

func maskToken(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "..."
}
