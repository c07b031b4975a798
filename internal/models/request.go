package models

// CreateClaimRequest is the body of POST /create-claim
type CreateClaimRequest struct {
	DiscordID string `json:"discordId"`
	Minutes   int    `json:"minutes"`
}

// CreateClaimResponse is returned when a claim token is issued
type CreateClaimResponse struct {
	Success          bool   `json:"success"`
	Token            string `json:"token"`
	URL              string `json:"url"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
}

// RedeemRequest is the body of POST /redeem/:token
type RedeemRequest struct {
	DiscordID      string `json:"discordId"`
	EnforceDiscord bool   `json:"enforceDiscord"`
}

// RedeemResponse is returned on a successful redemption
type RedeemResponse struct {
	Success  bool    `json:"success"`
	Key      string  `json:"key"`
	Type     KeyTier `json:"type"`
	UsesLeft *int    `json:"uses_left,omitempty"`
}

// ValidateRequest is the body of POST /validate
type ValidateRequest struct {
	Key string `json:"key"`
}

// GenerateFreeRequest is the body of POST /admin/generate/free
type GenerateFreeRequest struct {
	Uses int `json:"uses"`
}

// DeleteKeyRequest is the body of POST /admin/delete
type DeleteKeyRequest struct {
	Key string `json:"key"`
}

// ErrorResponse is the uniform failure shape
type ErrorResponse struct {
	Success      bool   `json:"success"`
	Reason       string `json:"reason"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}
