package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

const (
	DefaultEmailProofTTL = 15 * time.Minute
	emailTokenBytes      = 32
	emailProofGrace      = 5 * time.Minute
)

// ProofVerifier validates proofs and yields verified claims.
type ProofVerifier struct {
	signatures ports.SignatureVerifier
	store      ports.Store
	emailTTL   time.Duration
	opts       options
}

func NewProofVerifier(signatures ports.SignatureVerifier, store ports.Store, emailTTL time.Duration, opts ...Option) *ProofVerifier {
	if emailTTL <= 0 {
		emailTTL = DefaultEmailProofTTL
	}
	return &ProofVerifier{
		signatures: signatures,
		store:      store,
		emailTTL:   emailTTL,
		opts:       newOptions(opts),
	}
}

// Verify turns a proof into a claim. Email requests are not proofs; they
// go through IssueEmailProof instead.
func (p *ProofVerifier) Verify(ctx context.Context, proof core.Proof) (core.Claim, error) {
	switch pr := proof.(type) {
	case core.MetamaskProof:
		addr, err := p.VerifySignatureProof(pr.Address, pr.Signature)
		return core.Claim{Address: addr}, err
	case core.WalletConnectProof:
		addr, err := p.VerifySignatureProof(pr.Address, pr.Signature)
		return core.Claim{Address: addr}, err
	case core.GoogleProof:
		email, err := normalizeEmail(pr.Email)
		if err != nil {
			return core.Claim{}, err
		}
		addr, err := p.VerifySignatureProof(pr.Address, pr.Signature)
		if err != nil {
			return core.Claim{}, err
		}
		return core.Claim{Address: addr, Email: email, Name: pr.Name, Picture: pr.Picture}, nil
	case core.EmailTokenProof:
		email, err := p.ConsumeEmailProof(ctx, pr.Token)
		return core.Claim{Email: email}, err
	case core.EmailRequest:
		return core.Claim{}, fmt.Errorf("email request carries no proof: %w", core.ErrInvalidRequest)
	default:
		return core.Claim{}, core.ErrUnsupportedMethod
	}
}

// VerifySignatureProof checks a signature over the challenge and returns the
// lower-cased address.
func (p *ProofVerifier) VerifySignatureProof(address, signature string) (string, error) {
	if err := p.signatures.Verify(address, signature); err != nil {
		if errors.Is(err, core.ErrInvalidSignature) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	return core.NormalizeAddress(address), nil
}

// IssueEmailProof stores a fresh single-use token for email. The key outlives
// the proof deadline by emailProofGrace so a late redemption is reported as
// expired rather than unknown; the store drops it afterwards.
func (p *ProofVerifier) IssueEmailProof(ctx context.Context, email string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}

	raw := make([]byte, emailTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate email token: %w", err)
	}
	token := hex.EncodeToString(raw)

	payload, err := json.Marshal(core.PendingEmailProof{
		Email:     email,
		ExpiresAt: p.opts.now().Add(p.emailTTL),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode email proof: %w", err)
	}
	if err := p.store.Set(ctx, emailProofKeyPrefix+token, string(payload), p.emailTTL+emailProofGrace); err != nil {
		return "", fmt.Errorf("failed to store email proof: %w", err)
	}

	return token, nil
}

// ConsumeEmailProof redeems token exactly once.
func (p *ProofVerifier) ConsumeEmailProof(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", core.ErrTokenNotFound
	}
	raw, err := p.store.GetDel(ctx, emailProofKeyPrefix+token)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return "", core.ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume email proof: %w", err)
	}

	var pending core.PendingEmailProof
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return "", fmt.Errorf("decode email proof: %w", core.ErrTokenMalformed)
	}
	if !p.opts.now().Before(pending.ExpiresAt) {
		return "", core.ErrTokenExpired
	}
	return pending.Email, nil
}

func normalizeEmail(email string) (string, error) {
	email = core.NormalizeEmail(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("malformed email: %w", core.ErrInvalidRequest)
	}
	return email, nil
}
