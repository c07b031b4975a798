package models

// KeyTier identifies which pool a key belongs to
type KeyTier string

const (
	// TierFree keys carry a finite use counter and are decremented on redemption
	TierFree KeyTier = "free"
	// TierLifetime keys are reusable capabilities and never deplete.
	// The wire name "vvip" is kept for compatibility with existing clients.
	TierLifetime KeyTier = "vvip"
)

// Key represents a license key held in the inventory
type Key struct {
	ID            string  `json:"key"`
	Tier          KeyTier `json:"type"`
	UsesRemaining int     `json:"uses_left,omitempty"`
}

// IssuedKey is the result of drawing a key from the pool for a redeemer
type IssuedKey struct {
	ID            string  `json:"key"`
	Tier          KeyTier `json:"type"`
	UsesRemaining *int    `json:"uses_left,omitempty"`
}

// KeyringSnapshot is a read-only copy of both pools for admin inspection
type KeyringSnapshot struct {
	Free     map[string]int  `json:"free"`
	Lifetime map[string]bool `json:"lifetime"`
}

// ValidationResult reports the outcome of a key presented directly by a
// client script via /validate, outside the claim flow
type ValidationResult struct {
	Valid         bool
	Tier          KeyTier
	Consumed      bool
	UsesRemaining int
	Exhausted     bool
}
