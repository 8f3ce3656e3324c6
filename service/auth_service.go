package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"go.uber.org/zap"
)

// Auth attempt results.
const (
	resultSuccess = "success"
	resultPending = "pending"
	resultFailure = "failure"
)

// AuthService handles authentication business logic
type AuthService struct {
	proofs     *ProofVerifier
	resolver   *Resolver
	identities *IdentityStore
	tokens     *TokenIssuer
	signatures ports.SignatureVerifier
	mailer     ports.Mailer
	events     ports.EventPublisher
	store      ports.Store
	opts       options
}

// Config holds the dependencies and settings of an AuthService.
type Config struct {
	Store      ports.Store
	Tokenizer  ports.Tokenizer
	Signatures ports.SignatureVerifier
	Events     ports.EventPublisher
	Mailer     ports.Mailer
	Permittees ports.PermitteeChecker // optional
	Owners     ports.OwnerDirectory   // optional

	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	EmailProofTTL time.Duration
}

// NewAuthService wires the engine components around one store.
func NewAuthService(cfg Config, opts ...Option) *AuthService {
	identities := NewIdentityStore(cfg.Store, opts...)
	revocations := NewRevocationRegistry(cfg.Store, opts...)
	return &AuthService{
		proofs:     NewProofVerifier(cfg.Signatures, cfg.Store, cfg.EmailProofTTL, opts...),
		resolver:   NewResolver(identities, cfg.Permittees, cfg.Owners, cfg.Events, opts...),
		identities: identities,
		tokens:     NewTokenIssuer(cfg.Tokenizer, cfg.Store, identities, revocations, cfg.AccessTTL, cfg.RefreshTTL, opts...),
		signatures: cfg.Signatures,
		mailer:     cfg.Mailer,
		events:     cfg.Events,
		store:      cfg.Store,
		opts:       newOptions(opts),
	}
}

// Identities exposes the identity store for admin tooling and tests.
func (s *AuthService) Identities() *IdentityStore { return s.identities }

// AccessTTL is the validity of issued access tokens.
func (s *AuthService) AccessTTL() time.Duration { return s.tokens.accessTTL }

// Authenticate verifies proof and logs the caller in. An email request only
// sends a magic link and yields a pending result.
func (s *AuthService) Authenticate(ctx context.Context, proof core.Proof) (*core.LoginResult, error) {
	if proof == nil {
		return nil, core.ErrUnsupportedMethod
	}
	method := proof.Method()

	if req, ok := proof.(core.EmailRequest); ok {
		if err := s.requestMagicLink(ctx, req.Email); err != nil {
			s.opts.metrics.AuthAttempt(string(method), resultFailure)
			return nil, err
		}
		s.opts.metrics.AuthAttempt(string(method), resultPending)
		return &core.LoginResult{Pending: true}, nil
	}

	claim, err := s.proofs.Verify(ctx, proof)
	if err != nil {
		s.opts.metrics.AuthAttempt(string(method), resultFailure)
		s.opts.log.Info("proof rejected", zap.String("method", string(method)), zap.Error(err))
		return nil, err
	}
	return s.login(ctx, method, claim)
}

// ConsumeEmailProof redeems a magic link token and logs its owner in.
func (s *AuthService) ConsumeEmailProof(ctx context.Context, token string) (*core.LoginResult, error) {
	return s.Authenticate(ctx, core.EmailTokenProof{Token: token})
}

func (s *AuthService) requestMagicLink(ctx context.Context, email string) error {
	token, err := s.proofs.IssueEmailProof(ctx, email)
	if err != nil {
		return err
	}
	if err := s.mailer.SendMagicLink(ctx, core.NormalizeEmail(email), token); err != nil {
		return fmt.Errorf("%w: failed to send magic link: %w", core.ErrUpstreamUnavailable, err)
	}
	return nil
}

func (s *AuthService) login(ctx context.Context, method core.Method, claim core.Claim) (*core.LoginResult, error) {
	identity, created, err := s.resolver.Resolve(ctx, method, claim)
	if err != nil {
		s.opts.metrics.AuthAttempt(string(method), resultFailure)
		return nil, err
	}

	pair, err := s.tokens.Issue(ctx, identity, method)
	if err != nil {
		s.opts.metrics.AuthAttempt(string(method), resultFailure)
		return nil, err
	}

	s.opts.metrics.AuthAttempt(string(method), resultSuccess)
	s.opts.log.Info("login",
		zap.String("user_id", identity.ID),
		zap.String("method", string(method)),
		zap.String("token_id", pair.TokenID),
		zap.Bool("new", created))
	if err := s.events.PublishLogin(ctx, identity.ID, method, pair.TokenID); err != nil {
		s.opts.log.Warn("failed to publish login event", zap.String("user_id", identity.ID), zap.Error(err))
	}

	return &core.LoginResult{Identity: identity, Tokens: pair, IsNew: created}, nil
}

// Refresh rotates the refresh token and issues new access and refresh tokens
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*core.TokenPair, error) {
	pair, _, err := s.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes the pair behind token, which may be either kind and may
// already have expired.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	session, err := s.tokens.Revoke(ctx, token)
	if err != nil {
		return err
	}

	s.opts.log.Info("logout", zap.String("user_id", session.UserID), zap.String("token_id", session.TokenID))
	// The token is already revoked in the store; the event is best effort.
	if err := s.events.PublishLogout(ctx, session.UserID, session.TokenID); err != nil {
		s.opts.log.Warn("failed to publish logout event", zap.String("token_id", session.TokenID), zap.Error(err))
	}
	return nil
}

// VerifyToken checks an access token and loads the identity it names.
func (s *AuthService) VerifyToken(ctx context.Context, accessToken string) (*core.Session, *core.Identity, error) {
	session, err := s.tokens.Verify(ctx, accessToken)
	if err != nil {
		return nil, nil, err
	}
	identity, err := s.identities.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, err
	}
	return session, identity, nil
}

// LinkMethod attaches another method to an authenticated identity.
func (s *AuthService) LinkMethod(ctx context.Context, userID string, proof core.Proof) (*core.Identity, error) {
	if proof == nil {
		return nil, core.ErrUnsupportedMethod
	}
	if _, ok := proof.(core.EmailRequest); ok {
		return nil, fmt.Errorf("link email with a magic link token: %w", core.ErrInvalidRequest)
	}

	claim, err := s.proofs.Verify(ctx, proof)
	if err != nil {
		return nil, err
	}
	identity, err := s.resolver.LinkAuthMethod(ctx, userID, proof.Method(), claim)
	if err != nil {
		return nil, err
	}
	s.opts.log.Info("method linked", zap.String("user_id", userID), zap.String("method", string(proof.Method())))
	return identity, nil
}

// Sessions lists the live refresh sessions of userID.
func (s *AuthService) Sessions(ctx context.Context, userID string) ([]core.RefreshSession, error) {
	return s.tokens.Sessions(ctx, userID)
}

// SignatureCheck is the outcome of CheckSignature.
type SignatureCheck struct {
	Valid     bool
	Recovered string
}

// CheckSignature reports whether signature over message (the challenge when
// empty) was made by address. Malformed input yields an invalid result.
func (s *AuthService) CheckSignature(address, signature, message string) SignatureCheck {
	recovered, err := s.signatures.Recover(message, signature)
	if err != nil {
		return SignatureCheck{}
	}
	return SignatureCheck{
		Valid:     core.NormalizeAddress(recovered) == core.NormalizeAddress(address),
		Recovered: recovered,
	}
}

// Challenge returns the message wallets sign.
func (s *AuthService) Challenge() string {
	return s.signatures.Challenge()
}

// Ping checks the store.
func (s *AuthService) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		if errors.Is(err, core.ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	return nil
}
