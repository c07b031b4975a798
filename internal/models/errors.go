package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for every failure a caller can observe. Handlers translate
// these into the wire-level reason strings.
var (
	ErrBadCredential    = errors.New("bad credential")
	ErrRateLimited      = errors.New("rate limited")
	ErrTokenNotFound    = errors.New("token not found")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenUsed        = errors.New("token already used")
	ErrIdentityMismatch = errors.New("identity mismatch")
	ErrNoKeyAvailable   = errors.New("no keys available")
	ErrGeneration       = errors.New("key generation failed")
	ErrStoreWrite       = errors.New("store write failed")
)

// RateLimitedError carries the scope that denied the request and, for
// identity cooldowns, how long the caller has to wait.
type RateLimitedError struct {
	Scope      string // "origin" or "identity"
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (%s), retry after %s", e.Scope, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (%s)", e.Scope)
}

// Is makes errors.Is(err, ErrRateLimited) work for the typed error
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Reason maps an error to the wire-level reason string used by the original
// clients
func Reason(err error) string {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		if rl.Scope == "identity" {
			return "discord-rate-limit"
		}
		return "ip-rate-limit"
	}

	switch {
	case errors.Is(err, ErrBadCredential):
		return "bad-secret"
	case errors.Is(err, ErrTokenNotFound):
		return "not-found"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenUsed):
		return "used"
	case errors.Is(err, ErrIdentityMismatch):
		return "discord-mismatch"
	case errors.Is(err, ErrNoKeyAvailable):
		return "no-keys-available"
	case errors.Is(err, ErrGeneration):
		return "generation-failed"
	case errors.Is(err, ErrStoreWrite):
		return "store-write-failed"
	default:
		return "internal-error"
	}
}
