package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims combines standard claims with access-specific ones
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID  string `json:"userId"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
	Method  string `json:"method,omitempty"`
	TokenID string `json:"tokenId"` // Shared with the sibling refresh token
	Type    string `json:"type"`
}

// RefreshClaims carry only what rotation needs
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID  string `json:"userId"`
	TokenID string `json:"tokenId"`
	Type    string `json:"type"`
}
