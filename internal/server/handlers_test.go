package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpg/keyserver/internal/claim"
	"github.com/xpg/keyserver/internal/config"
	"github.com/xpg/keyserver/internal/embed"
	"github.com/xpg/keyserver/internal/metrics"
	"github.com/xpg/keyserver/internal/oauth"
	"github.com/xpg/keyserver/internal/ratelimit"
	"github.com/xpg/keyserver/internal/storage"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *Server {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Security.APISecret = testSecret
	cfg.Claim.BaseURL = "http://localhost:3000"

	logger := zap.NewNop()
	store := storage.NewFileStore(t.TempDir())

	inv, err := storage.NewKeyInventory(store, logger)
	require.NoError(t, err)
	ledger, err := storage.NewTokenLedger(store, logger)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	coord := claim.NewCoordinator(inv, ledger, ratelimit.NewMemoryLimiter(), m, logger, claim.Config{
		BaseURL:            cfg.Claim.BaseURL,
		DefaultTTL:         10 * time.Minute,
		MaxTTL:             time.Hour,
		IdentityWindow:     5 * time.Minute,
		OriginWindow:       time.Hour,
		OriginMaxPerWindow: 20,
	})

	page, err := embed.ClaimPageTemplate()
	require.NoError(t, err)

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		router:      gin.New(),
		inventory:   inv,
		ledger:      ledger,
		coordinator: coord,
		oauthClient: oauth.NewClient(cfg.OAuth, logger),
		sessions:    newSessionStore(),
		metrics:     m,
		claimPage:   page,
	}
	s.setupRoutes()
	return s
}

func doRequest(s *Server, method, path string, body interface{}, withSecret bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if withSecret {
		req.Header.Set("X-API-Secret", testSecret)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndPing(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/health", nil, false)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = doRequest(s, http.MethodGet, "/ping", nil, false)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "pong", decode(t, w)["message"])
}

func TestAdminRequiresSecret(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/admin/list", "/admin/generate/free", "/admin/generate/life", "/admin/delete"} {
		method := http.MethodPost
		if path == "/admin/list" {
			method = http.MethodGet
		}
		w := doRequest(s, method, path, nil, false)
		assert.Equal(t, 401, w.Code, path)
		assert.Equal(t, "bad-secret", decode(t, w)["reason"], path)
	}
}

func TestSecretRejectedWhenUnset(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Security.APISecret = ""

	// an empty configured secret must never admit anyone
	req := httptest.NewRequest(http.MethodGet, "/admin/list", nil)
	req.Header.Set("X-API-Secret", "")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, 401, w.Code)
}

func TestGenerateFreeKey(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/admin/generate/free", nil, true)
	require.Equal(t, 200, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["key"], "FREE-")
	assert.Equal(t, float64(3), body["uses"])

	w = doRequest(s, http.MethodPost, "/admin/generate/free", gin.H{"uses": 10}, true)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, float64(10), decode(t, w)["uses"])
}

func TestGenerateLifetimeKey(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/admin/generate/life", nil, true)
	require.Equal(t, 200, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["key"], "VVIP-")
}

func TestListAndDeleteKeys(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/admin/generate/free", nil, true)
	require.Equal(t, 200, w.Code)
	keyID := decode(t, w)["key"].(string)

	w = doRequest(s, http.MethodGet, "/admin/list", nil, true)
	require.Equal(t, 200, w.Code)
	keys := decode(t, w)["keys"].(map[string]interface{})
	free := keys["free"].(map[string]interface{})
	assert.Contains(t, free, keyID)

	w = doRequest(s, http.MethodPost, "/admin/delete", gin.H{"key": keyID}, true)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, keyID, decode(t, w)["removed"])

	// deleting again reports not-found rather than failing
	w = doRequest(s, http.MethodPost, "/admin/delete", gin.H{"key": keyID}, true)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "not-found", decode(t, w)["reason"])
}

func TestValidateKey(t *testing.T) {
	s := newTestServer(t)

	free, err := s.inventory.GenerateFree(1)
	require.NoError(t, err)
	life, err := s.inventory.GenerateLifetime()
	require.NoError(t, err)

	// lifetime keys validate without being consumed, any number of times
	for i := 0; i < 2; i++ {
		w := doRequest(s, http.MethodPost, "/validate", gin.H{"key": life.ID}, true)
		require.Equal(t, 200, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "vvip", body["type"])
		assert.Equal(t, false, body["consumed"])
	}

	// a free key burns one use per successful validation
	w := doRequest(s, http.MethodPost, "/validate", gin.H{"key": free.ID}, true)
	require.Equal(t, 200, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "free", body["type"])
	assert.Equal(t, true, body["consumed"])
	assert.Equal(t, float64(0), body["uses_left"])

	// exhausted, not deleted
	w = doRequest(s, http.MethodPost, "/validate", gin.H{"key": free.ID}, true)
	require.Equal(t, 200, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "no-uses-left", body["reason"])

	w = doRequest(s, http.MethodPost, "/validate", gin.H{"key": "FREE-NOPE1234"}, true)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "invalid-key", decode(t, w)["reason"])

	w = doRequest(s, http.MethodPost, "/validate", gin.H{"key": "  "}, true)
	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "empty-key", decode(t, w)["reason"])

	w = doRequest(s, http.MethodPost, "/validate", gin.H{"key": "x"}, false)
	assert.Equal(t, 401, w.Code)
}

func TestClaimRedeemRoundTrip(t *testing.T) {
	s := newTestServer(t)
	_, err := s.inventory.GenerateFree(3)
	require.NoError(t, err)

	w := doRequest(s, http.MethodPost, "/create-claim", gin.H{"discordId": "user-1", "minutes": 15}, false)
	require.Equal(t, 200, w.Code)
	body := decode(t, w)
	require.Equal(t, true, body["success"])
	token := body["token"].(string)
	assert.Contains(t, body["url"], "/claim?token="+token)
	assert.Equal(t, float64(15), body["expires_in_minutes"])

	w = doRequest(s, http.MethodGet, "/token/"+token, nil, false)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	w = doRequest(s, http.MethodPost, "/redeem/"+token, gin.H{"discordId": "user-1"}, false)
	require.Equal(t, 200, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["key"], "FREE-")
	assert.Equal(t, "free", body["type"])
	assert.Equal(t, float64(2), body["uses_left"])

	// the token is single use
	w = doRequest(s, http.MethodPost, "/redeem/"+token, nil, false)
	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "used", decode(t, w)["reason"])

	w = doRequest(s, http.MethodGet, "/token/"+token, nil, false)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "used", decode(t, w)["reason"])
}

func TestRedeemIdentityMismatch(t *testing.T) {
	s := newTestServer(t)
	_, err := s.inventory.GenerateFree(3)
	require.NoError(t, err)

	w := doRequest(s, http.MethodPost, "/create-claim", gin.H{"discordId": "owner"}, false)
	require.Equal(t, 200, w.Code)
	token := decode(t, w)["token"].(string)

	w = doRequest(s, http.MethodPost, "/redeem/"+token, gin.H{"discordId": "impostor", "enforceDiscord": true}, false)
	assert.Equal(t, 403, w.Code)
	assert.Equal(t, "discord-mismatch", decode(t, w)["reason"])

	// the mismatch must not have spent the token
	w = doRequest(s, http.MethodPost, "/redeem/"+token, gin.H{"discordId": "owner", "enforceDiscord": true}, false)
	assert.Equal(t, 200, w.Code)
}

func TestCreateClaimIdentityRateLimit(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/create-claim", gin.H{"discordId": "user-1"}, false)
	require.Equal(t, 200, w.Code)

	w = doRequest(s, http.MethodPost, "/create-claim", gin.H{"discordId": "user-1"}, false)
	assert.Equal(t, 429, w.Code)
	body := decode(t, w)
	assert.Equal(t, "discord-rate-limit", body["reason"])
	assert.Greater(t, body["retry_after_ms"], float64(0))
}

func TestTokenInfoUnknown(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/token/NOSUCHTOKEN0000000000", nil, false)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "not-found", decode(t, w)["reason"])
}

func TestClaimPage(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/claim?token=ABC123", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "ABC123")
}
