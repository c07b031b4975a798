package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitIdentity_Cooldown(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Now()
	limiter.now = func() time.Time { return now }

	window := 5 * time.Minute
	ctx := context.Background()

	d, err := limiter.AdmitIdentity(ctx, "user-1", window)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = limiter.AdmitIdentity(ctx, "user-1", window)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, window, d.RetryAfter)

	// a different identity is not affected
	d, err = limiter.AdmitIdentity(ctx, "user-2", window)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// a denied attempt must not extend the cooldown
	limiter.now = func() time.Time { return now.Add(3 * time.Minute) }
	d, err = limiter.AdmitIdentity(ctx, "user-1", window)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 2*time.Minute, d.RetryAfter)

	limiter.now = func() time.Time { return now.Add(window) }
	d, err = limiter.AdmitIdentity(ctx, "user-1", window)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAdmitOrigin_FixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Now()
	limiter.now = func() time.Time { return now }

	window := time.Hour
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.AdmitOrigin(ctx, "10.0.0.1", window, 3)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should pass", i+1)
	}

	d, err := limiter.AdmitOrigin(ctx, "10.0.0.1", window, 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, window, d.RetryAfter)

	// other origins keep their own window
	d, err = limiter.AdmitOrigin(ctx, "10.0.0.2", window, 3)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// once the window has fully elapsed the counter starts over
	limiter.now = func() time.Time { return now.Add(window + time.Second) }
	d, err = limiter.AdmitOrigin(ctx, "10.0.0.1", window, 3)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
