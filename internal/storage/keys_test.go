package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpg/keyserver/internal/models"
	"go.uber.org/zap"
)

func newTestInventory(t *testing.T) (*KeyInventory, string) {
	dir := t.TempDir()
	inv, err := NewKeyInventory(NewFileStore(dir), zap.NewNop())
	require.NoError(t, err)
	return inv, dir
}

func TestGenerateFree(t *testing.T) {
	inv, _ := newTestInventory(t)

	key, err := inv.GenerateFree(5)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key.ID, "FREE-"))
	assert.Equal(t, models.TierFree, key.Tier)
	assert.Equal(t, 5, key.UsesRemaining)

	snap := inv.List()
	assert.Equal(t, 5, snap.Free[key.ID])
}

func TestGenerateFree_InvalidUses(t *testing.T) {
	inv, _ := newTestInventory(t)

	_, err := inv.GenerateFree(0)
	assert.Error(t, err)

	_, err = inv.GenerateFree(-3)
	assert.Error(t, err)
}

func TestGenerateLifetime(t *testing.T) {
	inv, _ := newTestInventory(t)

	key, err := inv.GenerateLifetime()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key.ID, "VVIP-"))
	assert.Equal(t, models.TierLifetime, key.Tier)

	snap := inv.List()
	assert.True(t, snap.Lifetime[key.ID])
}

func TestConsumeOne_PrefersFree(t *testing.T) {
	inv, _ := newTestInventory(t)

	free, err := inv.GenerateFree(2)
	require.NoError(t, err)
	_, err = inv.GenerateLifetime()
	require.NoError(t, err)

	// both free uses must be drawn before any lifetime key appears
	for i := 0; i < 2; i++ {
		issued, err := inv.ConsumeOne()
		require.NoError(t, err)
		assert.Equal(t, free.ID, issued.ID)
		assert.Equal(t, models.TierFree, issued.Tier)
		require.NotNil(t, issued.UsesRemaining)
		assert.Equal(t, 1-i, *issued.UsesRemaining)
	}

	issued, err := inv.ConsumeOne()
	require.NoError(t, err)
	assert.Equal(t, models.TierLifetime, issued.Tier)
}

func TestConsumeOne_LifetimeNotConsumed(t *testing.T) {
	inv, _ := newTestInventory(t)

	key, err := inv.GenerateLifetime()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		issued, err := inv.ConsumeOne()
		require.NoError(t, err)
		assert.Equal(t, key.ID, issued.ID)
		assert.Nil(t, issued.UsesRemaining)
	}

	snap := inv.List()
	assert.True(t, snap.Lifetime[key.ID])
}

func TestConsumeOne_Empty(t *testing.T) {
	inv, _ := newTestInventory(t)

	_, err := inv.ConsumeOne()
	assert.ErrorIs(t, err, models.ErrNoKeyAvailable)
}

func TestConsumeOne_ExhaustedFreeKeyStays(t *testing.T) {
	inv, _ := newTestInventory(t)

	key, err := inv.GenerateFree(1)
	require.NoError(t, err)

	_, err = inv.ConsumeOne()
	require.NoError(t, err)

	// exhausted, not deleted: distinguishable from "never existed"
	snap := inv.List()
	uses, ok := snap.Free[key.ID]
	assert.True(t, ok)
	assert.Equal(t, 0, uses)

	_, err = inv.ConsumeOne()
	assert.ErrorIs(t, err, models.ErrNoKeyAvailable)
}

func TestConsumeOne_ConcurrentLastUse(t *testing.T) {
	inv, _ := newTestInventory(t)

	key, err := inv.GenerateFree(1)
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := inv.ConsumeOne()
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, models.ErrNoKeyAvailable)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, inv.List().Free[key.ID])
}

func TestDelete_Idempotent(t *testing.T) {
	inv, _ := newTestInventory(t)

	key, err := inv.GenerateFree(3)
	require.NoError(t, err)

	assert.True(t, inv.Delete(key.ID))
	assert.False(t, inv.Delete(key.ID))
	assert.False(t, inv.Delete("FREE-NEVEREXIST"))
}

func TestValidate(t *testing.T) {
	inv, _ := newTestInventory(t)

	life, err := inv.GenerateLifetime()
	require.NoError(t, err)
	free, err := inv.GenerateFree(1)
	require.NoError(t, err)

	// lifetime keys validate without being consumed, repeatedly
	for i := 0; i < 3; i++ {
		result := inv.Validate(life.ID)
		assert.True(t, result.Valid)
		assert.Equal(t, models.TierLifetime, result.Tier)
		assert.False(t, result.Consumed)
	}

	result := inv.Validate(free.ID)
	assert.True(t, result.Valid)
	assert.True(t, result.Consumed)
	assert.Equal(t, 0, result.UsesRemaining)

	result = inv.Validate(free.ID)
	assert.False(t, result.Valid)
	assert.True(t, result.Exhausted)

	result = inv.Validate("FREE-NEVEREXIST")
	assert.False(t, result.Valid)
	assert.False(t, result.Exhausted)
}

func TestInventory_Persistence(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	inv, err := NewKeyInventory(store, zap.NewNop())
	require.NoError(t, err)
	free, err := inv.GenerateFree(4)
	require.NoError(t, err)
	life, err := inv.GenerateLifetime()
	require.NoError(t, err)

	reopened, err := NewKeyInventory(store, zap.NewNop())
	require.NoError(t, err)

	snap := reopened.List()
	assert.Equal(t, 4, snap.Free[free.ID])
	assert.True(t, snap.Lifetime[life.ID])
}

func TestInventory_QuarantinesMalformedRecords(t *testing.T) {
	dir := t.TempDir()
	raw := `{
	  "free": {
	    "FREE-GOOD0001": 3,
	    "FREE-BADSTR01": "lots",
	    "FREE-BADNEG01": -2,
	    "FREE-BADFRAC1": 1.5
	  },
	  "lifetime": {
	    "VVIP-GOOD0001": true,
	    "VVIP-BADOFF01": false
	  }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keys.json"), []byte(raw), 0644))

	inv, err := NewKeyInventory(NewFileStore(dir), zap.NewNop())
	require.NoError(t, err)

	snap := inv.List()
	assert.Equal(t, map[string]int{"FREE-GOOD0001": 3}, snap.Free)
	assert.Equal(t, map[string]bool{"VVIP-GOOD0001": true}, snap.Lifetime)
}
