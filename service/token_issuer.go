package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/internal/metrics"
	"github.com/layer-3/passport/ports"
	"go.uber.org/zap"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// TokenIssuer mints, rotates and verifies token pairs. Every live refresh
// token has a refresh session record keyed by its tokenId.
type TokenIssuer struct {
	tokenizer   ports.Tokenizer
	store       ports.Store
	identities  *IdentityStore
	revocations *RevocationRegistry
	accessTTL   time.Duration
	refreshTTL  time.Duration
	opts        options
}

func NewTokenIssuer(
	tokenizer ports.Tokenizer,
	store ports.Store,
	identities *IdentityStore,
	revocations *RevocationRegistry,
	accessTTL, refreshTTL time.Duration,
	opts ...Option,
) *TokenIssuer {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &TokenIssuer{
		tokenizer:   tokenizer,
		store:       store,
		identities:  identities,
		revocations: revocations,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		opts:        newOptions(opts),
	}
}

// Issue mints a new pair for identity and records its refresh session.
func (t *TokenIssuer) Issue(ctx context.Context, identity *core.Identity, method core.Method) (*core.TokenPair, error) {
	now := t.opts.now().UTC().Truncate(time.Second)
	tokenID := uuid.NewString()

	access := &core.Session{
		TokenID:   tokenID,
		Type:      core.TokenTypeAccess,
		UserID:    identity.ID,
		Address:   identity.Address,
		Email:     identity.Email,
		Method:    method,
		IssuedAt:  now,
		ExpiresAt: now.Add(t.accessTTL),
	}
	refresh := &core.Session{
		TokenID:   tokenID,
		Type:      core.TokenTypeRefresh,
		UserID:    identity.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(t.refreshTTL),
	}

	accessToken, err := t.tokenizer.SessionToAccessToken(access)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}
	refreshToken, err := t.tokenizer.SessionToRefreshToken(refresh)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	record, err := json.Marshal(core.RefreshSession{UserID: identity.ID, Method: method, CreatedAt: now})
	if err != nil {
		return nil, fmt.Errorf("encode refresh session: %w", err)
	}
	if err := t.store.Set(ctx, refreshSessionKeyPrefix+tokenID, string(record), t.refreshTTL); err != nil {
		return nil, fmt.Errorf("failed to store refresh session: %w", err)
	}

	t.opts.metrics.TokenOp(metrics.OpIssued)
	return &core.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenID:          tokenID,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Rotate consumes refreshToken and mints a new pair. Of any number of
// concurrent calls with the same token at most one succeeds.
func (t *TokenIssuer) Rotate(ctx context.Context, refreshToken string) (*core.TokenPair, *core.Identity, error) {
	session, err := t.tokenizer.RefreshTokenToSession(refreshToken)
	if err != nil {
		return nil, nil, err
	}

	raw, err := t.store.GetDel(ctx, refreshSessionKeyPrefix+session.TokenID)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return nil, nil, core.ErrTokenNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to consume refresh session: %w", err)
	}

	var record core.RefreshSession
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, nil, fmt.Errorf("decode refresh session: %w", core.ErrTokenMalformed)
	}
	if record.UserID != session.UserID {
		return nil, nil, fmt.Errorf("refresh session owner mismatch: %w", core.ErrTokenMalformed)
	}

	revoked, err := t.revocations.IsRevoked(ctx, session.TokenID)
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		return nil, nil, core.ErrTokenRevoked
	}

	identity, err := t.identities.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, err
	}

	pair, err := t.Issue(ctx, identity, record.Method)
	if err != nil {
		return nil, nil, err
	}
	t.opts.metrics.TokenOp(metrics.OpRotated)
	t.opts.log.Debug("refresh token rotated",
		zap.String("user_id", identity.ID),
		zap.String("old_token_id", session.TokenID),
		zap.String("token_id", pair.TokenID))
	return pair, identity, nil
}

// Verify validates an access token and checks the deny list. A deny list
// that cannot be read fails the verification.
func (t *TokenIssuer) Verify(ctx context.Context, accessToken string) (*core.Session, error) {
	session, err := t.tokenizer.AccessTokenToSession(accessToken)
	if err != nil {
		t.opts.metrics.Verification(verificationResult(err))
		return nil, err
	}

	revoked, err := t.revocations.IsRevoked(ctx, session.TokenID)
	if err != nil {
		t.opts.metrics.Verification("error")
		if !errors.Is(err, core.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
		}
		return nil, err
	}
	if revoked {
		t.opts.metrics.Verification("revoked")
		return nil, core.ErrTokenRevoked
	}

	t.opts.metrics.Verification("valid")
	return session, nil
}

// Revoke decodes token of either kind, expired or not, and revokes its
// pair for as long as the refresh token could have lived.
func (t *TokenIssuer) Revoke(ctx context.Context, token string) (*core.Session, error) {
	session, err := t.tokenizer.AnyTokenToSession(token)
	if err != nil {
		return nil, err
	}
	ttl := session.IssuedAt.Add(t.refreshTTL).Sub(t.opts.now())
	if err := t.revocations.Revoke(ctx, session.TokenID, ttl); err != nil {
		return nil, err
	}
	return session, nil
}

// Sessions lists the live refresh sessions of userID, newest first.
func (t *TokenIssuer) Sessions(ctx context.Context, userID string) ([]core.RefreshSession, error) {
	keys, err := t.store.Keys(ctx, refreshSessionKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh sessions: %w", err)
	}

	var sessions []core.RefreshSession
	for _, key := range keys {
		raw, err := t.store.Get(ctx, key)
		if errors.Is(err, ports.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load refresh session: %w", err)
		}
		var record core.RefreshSession
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			t.opts.log.Warn("skipping unreadable refresh session", zap.String("key", key), zap.Error(err))
			continue
		}
		if record.UserID != userID {
			continue
		}
		record.TokenID = strings.TrimPrefix(key, refreshSessionKeyPrefix)
		sessions = append(sessions, record)
	}

	slices.SortFunc(sessions, func(a, b core.RefreshSession) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return sessions, nil
}

func verificationResult(err error) string {
	switch {
	case errors.Is(err, core.ErrTokenExpired):
		return "expired"
	default:
		return "malformed"
	}
}
