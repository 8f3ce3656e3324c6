package tokenizer

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

// JWTTokenizer implements ports.Tokenizer with HS256. Access and refresh
// tokens use independent keys so either can be rotated on its own; the
// tokenId claim still joins a pair.
type JWTTokenizer struct {
	accessKey  []byte
	refreshKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

// Option configures a JWTTokenizer.
type Option func(*JWTTokenizer)

// WithClock sets the time source used when validating expiry.
func WithClock(now func() time.Time) Option {
	return func(j *JWTTokenizer) { j.now = now }
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(accessKey, refreshKey []byte, issuer, audience string, opts ...Option) *JWTTokenizer {
	j := &JWTTokenizer{
		accessKey:  accessKey,
		refreshKey: refreshKey,
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

var _ ports.Tokenizer = (*JWTTokenizer)(nil)

func (j *JWTTokenizer) registered(session *core.Session) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    j.issuer,
		Subject:   session.UserID,
		Audience:  jwt.ClaimStrings{j.audience},
		ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
		ID:        session.TokenID,
	}
}

// SessionToAccessToken converts a Session to an access JWT token
func (j *JWTTokenizer) SessionToAccessToken(session *core.Session) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: j.registered(session),
		UserID:           session.UserID,
		Address:          session.Address,
		Email:            session.Email,
		Method:           string(session.Method),
		TokenID:          session.TokenID,
		Type:             string(core.TokenTypeAccess),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.accessKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// SessionToRefreshToken converts a Session to a refresh JWT token
func (j *JWTTokenizer) SessionToRefreshToken(session *core.Session) (string, error) {
	claims := RefreshClaims{
		RegisteredClaims: j.registered(session),
		UserID:           session.UserID,
		TokenID:          session.TokenID,
		Type:             string(core.TokenTypeRefresh),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.refreshKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, nil
}

// AccessTokenToSession parses an access token and returns the associated session
func (j *JWTTokenizer) AccessTokenToSession(tokenStr string) (*core.Session, error) {
	var claims AccessClaims
	if err := j.parse(tokenStr, j.accessKey, &claims, true); err != nil {
		return nil, err
	}
	if claims.Type != string(core.TokenTypeAccess) {
		return nil, fmt.Errorf("unexpected token type %q: %w", claims.Type, core.ErrTokenMalformed)
	}
	return accessSession(&claims)
}

// RefreshTokenToSession parses a refresh token and returns the associated session
func (j *JWTTokenizer) RefreshTokenToSession(tokenStr string) (*core.Session, error) {
	var claims RefreshClaims
	if err := j.parse(tokenStr, j.refreshKey, &claims, true); err != nil {
		return nil, err
	}
	if claims.Type != string(core.TokenTypeRefresh) {
		return nil, fmt.Errorf("unexpected token type %q: %w", claims.Type, core.ErrTokenMalformed)
	}
	if claims.TokenID == "" || claims.UserID == "" {
		return nil, fmt.Errorf("missing refresh claims: %w", core.ErrTokenMalformed)
	}
	return &core.Session{
		TokenID:   claims.TokenID,
		Type:      core.TokenTypeRefresh,
		UserID:    claims.UserID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// AnyTokenToSession tries the access key first, then the refresh key.
// Expiry is ignored; signature and issuer still have to match.
func (j *JWTTokenizer) AnyTokenToSession(tokenStr string) (*core.Session, error) {
	var access AccessClaims
	if err := j.parse(tokenStr, j.accessKey, &access, false); err == nil {
		return j.lenientSession(&access)
	}

	var refresh AccessClaims
	if err := j.parse(tokenStr, j.refreshKey, &refresh, false); err != nil {
		return nil, err
	}
	return j.lenientSession(&refresh)
}

func (j *JWTTokenizer) lenientSession(claims *AccessClaims) (*core.Session, error) {
	if claims.Issuer != j.issuer {
		return nil, fmt.Errorf("unexpected issuer: %w", core.ErrTokenMalformed)
	}
	if !slices.Contains(claims.Audience, j.audience) {
		return nil, fmt.Errorf("unexpected audience: %w", core.ErrTokenMalformed)
	}
	switch core.TokenType(claims.Type) {
	case core.TokenTypeAccess, core.TokenTypeRefresh:
	default:
		return nil, fmt.Errorf("unexpected token type %q: %w", claims.Type, core.ErrTokenMalformed)
	}
	session, err := accessSession(claims)
	if err != nil {
		return nil, err
	}
	session.Type = core.TokenType(claims.Type)
	return session, nil
}

func accessSession(claims *AccessClaims) (*core.Session, error) {
	if claims.TokenID == "" || claims.UserID == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("missing claims: %w", core.ErrTokenMalformed)
	}
	return &core.Session{
		TokenID:   claims.TokenID,
		Type:      core.TokenTypeAccess,
		UserID:    claims.UserID,
		Address:   claims.Address,
		Email:     claims.Email,
		Method:    core.Method(claims.Method),
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// parse verifies the signature with key and, when validate is set, the
// registered claims. Expiry maps to core.ErrTokenExpired and every other
// failure to core.ErrTokenMalformed.
func (j *JWTTokenizer) parse(tokenStr string, key []byte, claims jwt.Claims, validate bool) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if validate {
		opts = append(opts,
			jwt.WithIssuer(j.issuer),
			jwt.WithAudience(j.audience),
			jwt.WithExpirationRequired(),
		)
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	switch {
	case err == nil && token.Valid:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return core.ErrTokenExpired
	case err != nil:
		return fmt.Errorf("%w: %v", core.ErrTokenMalformed, err)
	default:
		return core.ErrTokenMalformed
	}
}
