package server

import (
	"fmt"
	"html/template"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/xpg/keyserver/internal/claim"
	"github.com/xpg/keyserver/internal/config"
	"github.com/xpg/keyserver/internal/embed"
	"github.com/xpg/keyserver/internal/metrics"
	"github.com/xpg/keyserver/internal/oauth"
	"github.com/xpg/keyserver/internal/ratelimit"
	"github.com/xpg/keyserver/internal/storage"
	"go.uber.org/zap"
)

// Server represents the key server
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	router *gin.Engine

	inventory   *storage.KeyInventory
	ledger      *storage.TokenLedger
	coordinator *claim.Coordinator
	oauthClient *oauth.Client
	sessions    *sessionStore
	metrics     *metrics.Metrics
	claimPage   *template.Template
}

// New creates a new server instance
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		router:   gin.New(),
		sessions: newSessionStore(),
	}

	// Initialize storage
	store := storage.NewFileStore(cfg.Storage.DataDir)

	var err error
	s.inventory, err = storage.NewKeyInventory(store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key inventory: %w", err)
	}
	s.ledger, err = storage.NewTokenLedger(store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token ledger: %w", err)
	}
	s.ledger.StartBackgroundPrune(cfg.Claim.PruneInterval, cfg.Claim.PruneRetention)

	// Rate limiter: Redis when configured, process memory otherwise
	limiter, err := buildLimiter(cfg.RateLimit, logger)
	if err != nil {
		return nil, err
	}

	s.metrics = metrics.NewDefault()
	s.coordinator = claim.NewCoordinator(s.inventory, s.ledger, limiter, s.metrics, logger, claim.Config{
		BaseURL:            cfg.Claim.BaseURL,
		DefaultTTL:         time.Duration(cfg.Claim.DefaultTTLMinutes) * time.Minute,
		MaxTTL:             time.Duration(cfg.Claim.MaxTTLMinutes) * time.Minute,
		IdentityWindow:     cfg.RateLimit.IdentityWindow,
		OriginWindow:       cfg.RateLimit.OriginWindow,
		OriginMaxPerWindow: cfg.RateLimit.OriginMaxPerWindow,
	})

	// Discord identity provider (optional)
	s.oauthClient = oauth.NewClient(cfg.OAuth, logger)
	if !s.oauthClient.Configured() {
		logger.Info("OAuth not configured, identity verification disabled")
	}

	s.claimPage, err = embed.ClaimPageTemplate()
	if err != nil {
		return nil, fmt.Errorf("failed to parse claim page template: %w", err)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// buildLimiter selects the configured rate limiter backend
func buildLimiter(cfg config.RateLimitConfig, logger *zap.Logger) (ratelimit.Limiter, error) {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter, err := ratelimit.NewRedisLimiter(client)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis limiter: %w", err)
	}
	logger.Info("Using redis rate limiter", zap.String("addr", cfg.RedisAddr))
	return limiter, nil
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggerMiddleware())

	if s.cfg.Security.EnableCORS {
		s.router.Use(s.corsMiddleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(200, "Key server (alive). POST /validate with X-API-Secret header.")
	})

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ping", s.ping)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Client key validation
	s.router.POST("/validate", s.secretAuthMiddleware(), s.validateKey)

	// Claim flow
	s.router.POST("/create-claim", s.createClaim)
	s.router.GET("/token/:token", s.tokenInfo)
	s.router.POST("/redeem/:token", s.redeem)
	s.router.GET("/claim", s.claimPageHandler)

	// OAuth identity verification
	s.router.GET("/auth/discord", s.authDiscord)
	s.router.GET("/auth/callback", s.authCallback)
	s.router.POST("/redeem-with-oauth/:token", s.redeemWithOAuth)

	// Admin key management
	admin := s.router.Group("/admin")
	admin.Use(s.secretAuthMiddleware())
	{
		admin.GET("/list", s.listKeys)
		admin.POST("/generate/free", s.generateFreeKey)
		admin.POST("/generate/life", s.generateLifetimeKey)
		admin.POST("/delete", s.deleteKey)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(200, gin.H{"message": "pong"})
}
