package models

import (
	"time"
)

// ClaimToken is a single-use capability that a requester exchanges for a key.
// Timestamps are unix milliseconds to stay compatible with the existing
// tokens.json format.
type ClaimToken struct {
	Token         string `json:"-"`
	OwnerIdentity string `json:"discordId,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	ExpiresAt     int64  `json:"expiresAt"`
	Used          bool   `json:"used"`
}

// ExpiresAtTime returns the expiry as a time.Time
func (t *ClaimToken) ExpiresAtTime() time.Time {
	return time.UnixMilli(t.ExpiresAt)
}

// ExpiredAt reports whether the token is past its expiry at the given instant.
// Expiry is evaluated lazily; nothing is ever written back for it.
func (t *ClaimToken) ExpiredAt(now time.Time) bool {
	return now.UnixMilli() > t.ExpiresAt
}

// Anonymous reports whether the token is redeemable by anyone who holds it
func (t *ClaimToken) Anonymous() bool {
	return t.OwnerIdentity == ""
}

// Clone returns a copy safe to hand outside the ledger's lock
func (t *ClaimToken) Clone() *ClaimToken {
	c := *t
	return &c
}
