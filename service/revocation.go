package service

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/passport/internal/metrics"
	"github.com/layer-3/passport/ports"
)

// RevocationRegistry records explicitly revoked tokenIds. An entry covers
// both tokens of a pair.
type RevocationRegistry struct {
	store ports.Store
	opts  options
}

func NewRevocationRegistry(store ports.Store, opts ...Option) *RevocationRegistry {
	return &RevocationRegistry{store: store, opts: newOptions(opts)}
}

// Revoke marks tokenID revoked for ttl and drops its refresh session so the
// sibling refresh token cannot mint new pairs. Repeating it is harmless.
func (r *RevocationRegistry) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := r.store.Set(ctx, revokedTokenKeyPrefix+tokenID, "1", ttl); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if err := r.store.Delete(ctx, refreshSessionKeyPrefix+tokenID); err != nil {
		return fmt.Errorf("failed to drop refresh session: %w", err)
	}
	r.opts.metrics.TokenOp(metrics.OpRevoked)
	return nil
}

// IsRevoked reports whether tokenID is on the deny list. Store errors are
// returned as-is; callers on the verify path must treat them as failure.
func (r *RevocationRegistry) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	ok, err := r.store.Exists(ctx, revokedTokenKeyPrefix+tokenID)
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return ok, nil
}
