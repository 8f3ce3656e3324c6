package ports

import "github.com/layer-3/passport/core"

// Tokenizer converts between sessions and signed tokens. Access and refresh
// tokens are signed with independent keys.
type Tokenizer interface {
	SessionToAccessToken(session *core.Session) (string, error)
	AccessTokenToSession(token string) (*core.Session, error)
	SessionToRefreshToken(session *core.Session) (string, error)
	RefreshTokenToSession(token string) (*core.Session, error)

	// AnyTokenToSession decodes either kind of token, ignoring expiry. It is
	// used to revoke tokens that may already have lapsed.
	AnyTokenToSession(token string) (*core.Session, error)
}
