package core

import "time"

// TokenType distinguishes the two kinds of token sharing one tokenId.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Session is the decoded content of an access or refresh token. Both tokens
// of one issuance carry the same TokenID; it is the join key for refresh
// sessions and revocation entries.
type Session struct {
	TokenID   string    // Shared by the access/refresh pair
	Type      TokenType // Which kind of token this was decoded from
	UserID    string    // Identity id
	Address   string    // Access tokens only
	Email     string    // Access tokens only
	Method    Method    // Access tokens only
	IssuedAt  time.Time // Issuance time, identical for both tokens
	ExpiresAt time.Time // Expiry of this particular token
}

// TokenPair is what an issuance returns to the caller.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenID          string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// RefreshSession is the stored record behind a live refresh token.
type RefreshSession struct {
	TokenID   string    `json:"-"`
	UserID    string    `json:"userId"`
	Method    Method    `json:"method,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PendingEmailProof is a single-use magic link token awaiting redemption.
type PendingEmailProof struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginResult is the outcome of an authentication attempt. For the email
// request flow Tokens is nil and Pending is true.
type LoginResult struct {
	Identity *Identity
	Tokens   *TokenPair
	Pending  bool
	IsNew    bool
}
