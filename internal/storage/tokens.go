package storage

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/xpg/keyserver/internal/models"
	"go.uber.org/zap"
)

const (
	tokensTable = "tokens"

	tokenLen = 20
)

// TokenLedger owns claim-token records. Consume is the single authority for
// turning a claimable token into a claimed one; callers must never pair a
// Lookup with a separate write.
type TokenLedger struct {
	mu     sync.Mutex
	tokens map[string]*models.ClaimToken

	store  TableStore
	logger *zap.Logger
	now    func() time.Time
}

// NewTokenLedger loads the tokens table from the store
func NewTokenLedger(store TableStore, logger *zap.Logger) (*TokenLedger, error) {
	l := &TokenLedger{
		tokens: make(map[string]*models.ClaimToken),
		store:  store,
		logger: logger,
		now:    time.Now,
	}

	var raw map[string]json.RawMessage
	if err := store.ReadTable(tokensTable, &raw); err != nil {
		return nil, fmt.Errorf("failed to load tokens table: %w", err)
	}

	for token, data := range raw {
		var rec models.ClaimToken
		if err := json.Unmarshal(data, &rec); err != nil || rec.ExpiresAt <= 0 {
			logger.Warn("Quarantining malformed token record", zap.String("token", maskToken(token)))
			continue
		}
		rec.Token = token
		l.tokens[token] = &rec
	}

	return l, nil
}

// Create allocates a fresh token bound to the given identity (empty means
// anonymous) that expires after ttl
func (l *TokenLedger) Create(ownerIdentity string, ttl time.Duration) (*models.ClaimToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var token string
	for attempt := 0; ; attempt++ {
		token = randomSuffix(tokenLen)
		if _, ok := l.tokens[token]; !ok {
			break
		}
		if attempt >= maxGenerateAttempts {
			return nil, fmt.Errorf("%w: no unique token after %d attempts", models.ErrGeneration, maxGenerateAttempts)
		}
	}

	now := l.now()
	rec := &models.ClaimToken{
		Token:         token,
		OwnerIdentity: ownerIdentity,
		CreatedAt:     now.UnixMilli(),
		ExpiresAt:     now.Add(ttl).UnixMilli(),
		Used:          false,
	}
	l.tokens[token] = rec
	l.persist()

	l.logger.Info("Claim token created",
		zap.String("token", maskToken(token)),
		zap.String("identity", ownerIdentity),
		zap.Duration("ttl", ttl))
	return rec.Clone(), nil
}

// Lookup classifies a token without mutating it
func (l *TokenLedger) Lookup(token string) (*models.ClaimToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.classify(token)
}

// Consume classifies a token and, if and only if it is live, flips it to
// used and returns the pre-flip snapshot. Once flipped it never reverts.
func (l *TokenLedger) Consume(token string) (*models.ClaimToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.classify(token)
	if err != nil {
		return nil, err
	}

	snapshot := rec.Clone()
	l.tokens[token].Used = true
	l.persist()

	l.logger.Info("Claim token consumed", zap.String("token", maskToken(token)))
	return snapshot, nil
}

// classify applies the not-found / used / expired ordering.
// Caller must hold l.mu.
func (l *TokenLedger) classify(token string) (*models.ClaimToken, error) {
	rec, ok := l.tokens[token]
	if !ok {
		return nil, models.ErrTokenNotFound
	}
	if rec.Used {
		return nil, models.ErrTokenUsed
	}
	if rec.ExpiredAt(l.now()) {
		return nil, models.ErrTokenExpired
	}
	return rec.Clone(), nil
}

// PruneExpired drops expired-and-unused records that have been past their
// expiry for at least the retention window. Used records are retained for
// audit.
func (l *TokenLedger) PruneExpired(retention time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-retention).UnixMilli()
	pruned := 0
	for token, rec := range l.tokens {
		if !rec.Used && rec.ExpiresAt < cutoff {
			delete(l.tokens, token)
			pruned++
		}
	}
	if pruned > 0 {
		l.persist()
		l.logger.Info("Pruned expired tokens", zap.Int("count", pruned))
	}
	return pruned
}

// StartBackgroundPrune runs PruneExpired on a timer for the life of the
// process
func (l *TokenLedger) StartBackgroundPrune(interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			l.PruneExpired(retention)
		}
	}()
	l.logger.Info("Background token pruning started",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))
}

// persist writes the current records through to the store.
// Caller must hold l.mu.
func (l *TokenLedger) persist() {
	if err := l.store.WriteTable(tokensTable, l.tokens); err != nil {
		l.logger.Warn("Failed to persist tokens table, in-memory state remains authoritative",
			zap.Error(err))
	}
}

// maskToken returns a short prefix safe for logs
func maskToken(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "..."
}
