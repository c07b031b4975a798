// Package ratelimit gates claim-token issuance. Limits are approximate abuse
// damping, not an auditable guarantee: the in-memory limiter resets on
// restart, and the Redis limiter exists for deployments that want shared
// counters.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of an admission check
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter gates issuance by requester identity and by network origin.
// Identity admission is a strict cooldown: one admission per identity per
// window. Origin admission is a fixed counting window.
type Limiter interface {
	AdmitIdentity(ctx context.Context, identity string, window time.Duration) (Decision, error)
	AdmitOrigin(ctx context.Context, origin string, window time.Duration, maxPerWindow int) (Decision, error)
}
