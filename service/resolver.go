package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"go.uber.org/zap"
)

// Resolver maps a verified claim to exactly one identity, creating or
// merging records as needed.
type Resolver struct {
	identities *IdentityStore
	permittees ports.PermitteeChecker
	owners     ports.OwnerDirectory
	events     ports.EventPublisher
	opts       options
}

// NewResolver builds a Resolver. permittees and owners may be nil, in which
// case new identities are not permittees and carry no seeded details.
func NewResolver(
	identities *IdentityStore,
	permittees ports.PermitteeChecker,
	owners ports.OwnerDirectory,
	events ports.EventPublisher,
	opts ...Option,
) *Resolver {
	return &Resolver{
		identities: identities,
		permittees: permittees,
		owners:     owners,
		events:     events,
		opts:       newOptions(opts),
	}
}

// Resolve finds the identity the claim belongs to, creating one if none
// exists. The bool reports whether a new identity was created.
func (r *Resolver) Resolve(ctx context.Context, method core.Method, claim core.Claim) (*core.Identity, bool, error) {
	claim, err := claimFor(method, claim)
	if err != nil {
		return nil, false, err
	}

	// A lost index race means someone else just created the identity; the
	// second pass finds it.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := r.lookup(ctx, claim)
		if err == nil {
			merged, err := r.merge(ctx, existing.ID, method, claim, false)
			return merged, false, err
		}
		if !errors.Is(err, core.ErrNotFound) {
			return nil, false, err
		}

		created, err := r.create(ctx, method, claim)
		if errors.Is(err, core.ErrIndexConflict) {
			r.opts.log.Debug("lost identity creation race, retrying as lookup",
				zap.String("address", claim.Address), zap.String("email", claim.Email))
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return created, true, nil
	}
	return nil, false, core.ErrIdentityConflict
}

// LinkAuthMethod adds method to an existing identity, replacing its address
// or email with the claimed one.
func (r *Resolver) LinkAuthMethod(ctx context.Context, identityID string, method core.Method, claim core.Claim) (*core.Identity, error) {
	claim, err := claimFor(method, claim)
	if err != nil {
		return nil, err
	}
	return r.merge(ctx, identityID, method, claim, true)
}

// claimFor keeps only the claim fields the method can vouch for.
func claimFor(method core.Method, claim core.Claim) (core.Claim, error) {
	claim = claim.Normalized()
	switch method {
	case core.MethodMetamask, core.MethodWalletConnect:
		if claim.Address == "" {
			return core.Claim{}, fmt.Errorf("%s claim without address: %w", method, core.ErrInvalidRequest)
		}
		return core.Claim{Address: claim.Address}, nil
	case core.MethodGoogle:
		if claim.Address == "" || claim.Email == "" {
			return core.Claim{}, fmt.Errorf("google claim needs address and email: %w", core.ErrInvalidRequest)
		}
		return claim, nil
	case core.MethodEmail:
		if claim.Email == "" {
			return core.Claim{}, fmt.Errorf("email claim without email: %w", core.ErrInvalidRequest)
		}
		return core.Claim{Email: claim.Email}, nil
	default:
		return core.Claim{}, core.ErrUnsupportedMethod
	}
}

func (r *Resolver) lookup(ctx context.Context, claim core.Claim) (*core.Identity, error) {
	if claim.Address != "" {
		identity, err := r.identities.GetByAddress(ctx, claim.Address)
		if !errors.Is(err, core.ErrNotFound) {
			return identity, err
		}
	}
	if claim.Email != "" {
		return r.identities.GetByEmail(ctx, claim.Email)
	}
	return nil, core.ErrNotFound
}

// merge folds claim into the stored identity. On login an existing address
// is never replaced and an existing email is kept; linking replaces both.
// The decisions are taken against the record as it is when written.
func (r *Resolver) merge(ctx context.Context, identityID string, method core.Method, claim core.Claim, linking bool) (*core.Identity, error) {
	now := r.opts.now().UTC()
	var newMethod bool
	updated, err := r.identities.Modify(ctx, identityID, func(identity *core.Identity) error {
		newMethod = identity.AddMethod(method)
		if !linking {
			identity.LastLoginAt = now
		}

		if claim.Address != "" && claim.Address != identity.Address {
			if identity.Address != "" && !linking {
				return fmt.Errorf("identity %s is bound to another wallet: %w", identity.ID, core.ErrIdentityConflict)
			}
			if err := r.ensureUnowned(ctx, r.identities.GetByAddress, claim.Address, identity.ID); err != nil {
				return err
			}
			identity.Address = claim.Address
		}
		if claim.Email != "" && claim.Email != identity.Email {
			if err := r.ensureUnowned(ctx, r.identities.GetByEmail, claim.Email, identity.ID); err != nil {
				return err
			}
			if identity.Email == "" || linking {
				identity.Email = claim.Email
			}
		}
		if claim.Name != "" && (identity.Name == "" || linking) {
			identity.Name = claim.Name
		}
		if claim.Picture != "" && (identity.Picture == "" || linking) {
			identity.Picture = claim.Picture
		}
		return nil
	})
	if errors.Is(err, core.ErrIndexConflict) {
		return nil, fmt.Errorf("%w: %w", core.ErrIdentityConflict, err)
	}
	if err != nil {
		return nil, err
	}

	if newMethod {
		if err := r.events.PublishMethodLinked(ctx, updated.ID, method); err != nil {
			r.opts.log.Warn("failed to publish method linked event", zap.String("user_id", updated.ID), zap.Error(err))
		}
	}
	return updated, nil
}

func (r *Resolver) ensureUnowned(
	ctx context.Context,
	get func(context.Context, string) (*core.Identity, error),
	value, id string,
) error {
	owner, err := get(ctx, value)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner.ID != id {
		return fmt.Errorf("%s belongs to another identity: %w", value, core.ErrIdentityConflict)
	}
	return nil
}

func (r *Resolver) create(ctx context.Context, method core.Method, claim core.Claim) (*core.Identity, error) {
	now := r.opts.now().UTC()
	identity := &core.Identity{
		Address:       claim.Address,
		Email:         claim.Email,
		Name:          claim.Name,
		Picture:       claim.Picture,
		LinkedMethods: []core.Method{method},
		CreatedAt:     now,
		LastLoginAt:   now,
	}
	if claim.Address != "" {
		identity.IsPermittee = r.checkPermittee(ctx, claim.Address)
		r.seedOwnerDetails(ctx, identity)
	}

	created, err := r.identities.Create(ctx, identity)
	if err != nil {
		return nil, err
	}

	r.opts.metrics.IdentityCreated(string(method))
	r.opts.log.Info("identity created",
		zap.String("user_id", created.ID),
		zap.String("method", string(method)),
		zap.Bool("permittee", created.IsPermittee))
	if err := r.events.PublishIdentityCreated(ctx, created, method); err != nil {
		r.opts.log.Warn("failed to publish identity created event", zap.String("user_id", created.ID), zap.Error(err))
	}
	return created, nil
}

func (r *Resolver) checkPermittee(ctx context.Context, address string) bool {
	if r.permittees == nil {
		return false
	}
	ok, err := r.permittees.CheckPermittee(ctx, address)
	if err != nil {
		r.opts.log.Warn("permittee check failed", zap.String("address", address), zap.Error(err))
		return false
	}
	return ok
}

func (r *Resolver) seedOwnerDetails(ctx context.Context, identity *core.Identity) {
	if r.owners == nil || (identity.Name != "" && identity.Picture != "") {
		return
	}
	details, err := r.owners.OwnerDetails(ctx, identity.Address)
	if err != nil {
		r.opts.log.Warn("owner details lookup failed", zap.String("address", identity.Address), zap.Error(err))
		return
	}
	if details == nil {
		return
	}
	if identity.Name == "" {
		identity.Name = details.Name
	}
	if identity.Picture == "" {
		identity.Picture = details.Picture
	}
}
