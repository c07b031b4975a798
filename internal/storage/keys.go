package storage

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/xpg/keyserver/internal/models"
	"go.uber.org/zap"
)

const (
	keysTable = "keys"

	idAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idSuffixLen = 8

	// attempts before id generation is reported as an operational fault
	maxGenerateAttempts = 5
)

// KeyInventory owns the pool of issuable keys and their remaining-use
// counters. The in-memory maps are authoritative for the process lifetime;
// every mutation is written through to the store, and a failed write only
// degrades durability, never the current view.
type KeyInventory struct {
	mu       sync.Mutex
	free     map[string]int
	lifetime map[string]bool

	store  TableStore
	logger *zap.Logger
	rng    *mrand.Rand
}

// rawKeysTable is the loosely-typed on-disk shape. Values are validated and
// normalized at this boundary; malformed entries are quarantined with a
// warning instead of being propagated inward.
type rawKeysTable struct {
	Free     map[string]interface{} `json:"free"`
	Lifetime map[string]interface{} `json:"lifetime"`
}

// NewKeyInventory loads the keys table from the store
func NewKeyInventory(store TableStore, logger *zap.Logger) (*KeyInventory, error) {
	inv := &KeyInventory{
		free:     make(map[string]int),
		lifetime: make(map[string]bool),
		store:    store,
		logger:   logger,
		rng:      mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}

	var raw rawKeysTable
	if err := store.ReadTable(keysTable, &raw); err != nil {
		return nil, fmt.Errorf("failed to load keys table: %w", err)
	}

	for id, v := range raw.Free {
		uses, ok := normalizeUses(v)
		if !ok {
			logger.Warn("Quarantining malformed free key record",
				zap.String("key", id), zap.Any("value", v))
			continue
		}
		inv.free[id] = uses
	}
	for id, v := range raw.Lifetime {
		if b, ok := v.(bool); ok && !b {
			logger.Warn("Quarantining disabled lifetime key record", zap.String("key", id))
			continue
		}
		inv.lifetime[id] = true
	}

	return inv, nil
}

// normalizeUses coerces a stored use counter to a non-negative int
func normalizeUses(v interface{}) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) || f < 0 {
		return 0, false
	}
	return int(f), true
}

// GenerateFree creates a new unique free key with the given use count
func (inv *KeyInventory) GenerateFree(uses int) (*models.Key, error) {
	if uses <= 0 {
		return nil, fmt.Errorf("uses must be positive, got %d", uses)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	id, err := inv.newID("FREE")
	if err != nil {
		return nil, err
	}
	inv.free[id] = uses
	inv.persist()

	inv.logger.Info("Generated free key", zap.String("key", id), zap.Int("uses", uses))
	return &models.Key{ID: id, Tier: models.TierFree, UsesRemaining: uses}, nil
}

// GenerateLifetime creates a new unique lifetime key
func (inv *KeyInventory) GenerateLifetime() (*models.Key, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	id, err := inv.newID("VVIP")
	if err != nil {
		return nil, err
	}
	inv.lifetime[id] = true
	inv.persist()

	inv.logger.Info("Generated lifetime key", zap.String("key", id))
	return &models.Key{ID: id, Tier: models.TierLifetime}, nil
}

// ConsumeOne draws one redeemable key: a uniformly random free key with uses
// remaining, falling back to a uniformly random lifetime key. Free keys are
// decremented atomically with the selection; lifetime keys are never mutated.
func (inv *KeyInventory) ConsumeOne() (*models.IssuedKey, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	var eligible []string
	for id, uses := range inv.free {
		if uses > 0 {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) > 0 {
		id := eligible[inv.rng.Intn(len(eligible))]
		inv.free[id]--
		left := inv.free[id]
		inv.persist()
		return &models.IssuedKey{ID: id, Tier: models.TierFree, UsesRemaining: &left}, nil
	}

	if len(inv.lifetime) > 0 {
		ids := make([]string, 0, len(inv.lifetime))
		for id := range inv.lifetime {
			ids = append(ids, id)
		}
		id := ids[inv.rng.Intn(len(ids))]
		return &models.IssuedKey{ID: id, Tier: models.TierLifetime}, nil
	}

	return nil, models.ErrNoKeyAvailable
}

// Validate checks a key presented directly by a client script. A valid free
// key has one use consumed; lifetime keys validate without being consumed.
func (inv *KeyInventory) Validate(id string) *models.ValidationResult {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.lifetime[id] {
		return &models.ValidationResult{Valid: true, Tier: models.TierLifetime}
	}

	if uses, ok := inv.free[id]; ok {
		if uses <= 0 {
			return &models.ValidationResult{Tier: models.TierFree, Exhausted: true}
		}
		inv.free[id]--
		inv.persist()
		return &models.ValidationResult{
			Valid:         true,
			Tier:          models.TierFree,
			Consumed:      true,
			UsesRemaining: inv.free[id],
		}
	}

	return &models.ValidationResult{}
}

// Delete removes a key from whichever pool holds it. Deleting an unknown id
// reports false, never an error.
func (inv *KeyInventory) Delete(id string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	removed := false
	if _, ok := inv.free[id]; ok {
		delete(inv.free, id)
		removed = true
	}
	if _, ok := inv.lifetime[id]; ok {
		delete(inv.lifetime, id)
		removed = true
	}
	if removed {
		inv.persist()
		inv.logger.Info("Deleted key", zap.String("key", id))
	}
	return removed
}

// List returns a snapshot of both pools
func (inv *KeyInventory) List() *models.KeyringSnapshot {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	snap := &models.KeyringSnapshot{
		Free:     make(map[string]int, len(inv.free)),
		Lifetime: make(map[string]bool, len(inv.lifetime)),
	}
	for id, uses := range inv.free {
		snap.Free[id] = uses
	}
	for id := range inv.lifetime {
		snap.Lifetime[id] = true
	}
	return snap
}

// newID generates a fresh key id unique across both pools.
// Caller must hold inv.mu.
func (inv *KeyInventory) newID(prefix string) (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		id := prefix + "-" + randomSuffix(idSuffixLen)
		if _, ok := inv.free[id]; ok {
			continue
		}
		if _, ok := inv.lifetime[id]; ok {
			continue
		}
		return id, nil
	}
	return "", fmt.Errorf("%w: no unique id after %d attempts", models.ErrGeneration, maxGenerateAttempts)
}

// persist writes the current pools through to the store.
// Caller must hold inv.mu.
func (inv *KeyInventory) persist() {
	table := rawKeysTable{
		Free:     make(map[string]interface{}, len(inv.free)),
		Lifetime: make(map[string]interface{}, len(inv.lifetime)),
	}
	for id, uses := range inv.free {
		table.Free[id] = uses
	}
	for id := range inv.lifetime {
		table.Lifetime[id] = true
	}

	if err := inv.store.WriteTable(keysTable, table); err != nil {
		inv.logger.Warn("Failed to persist keys table, in-memory state remains authoritative",
			zap.Error(err))
	}
}

// randomSuffix returns n characters of crypto-grade randomness from the id
// alphabet
func randomSuffix(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken
			panic(fmt.Sprintf("crypto/rand failed: %v", err))
		}
		b[i] = idAlphabet[idx.Int64()]
	}
	return string(b)
}
