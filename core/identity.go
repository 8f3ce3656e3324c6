package core

import (
	"slices"
	"strings"
	"time"
)

// Method identifies how an identity proved control of an address or email.
type Method string

const (
	MethodMetamask      Method = "metamask"
	MethodWalletConnect Method = "walletconnect"
	MethodGoogle        Method = "google"
	MethodEmail         Method = "email"
)

// ParseMethod maps a method tag to a Method. The legacy wallet tags are
// folded into metamask.
func ParseMethod(tag string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "metamask", "biowallet", "wallet":
		return MethodMetamask, nil
	case "walletconnect":
		return MethodWalletConnect, nil
	case "google":
		return MethodGoogle, nil
	case "email":
		return MethodEmail, nil
	default:
		return "", ErrUnsupportedMethod
	}
}

// IsWallet reports whether the method proves control of a wallet address.
func (m Method) IsWallet() bool {
	return m == MethodMetamask || m == MethodWalletConnect || m == MethodGoogle
}

// Identity is the canonical user record.
type Identity struct {
	ID            string    `json:"id"`
	Address       string    `json:"address,omitempty"`
	Email         string    `json:"email,omitempty"`
	Name          string    `json:"name,omitempty"`
	Picture       string    `json:"picture,omitempty"`
	LinkedMethods []Method  `json:"auth_methods"`
	IsPermittee   bool      `json:"is_permittee"`
	CreatedAt     time.Time `json:"created_at"`
	LastLoginAt   time.Time `json:"last_login"`
}

// HasMethod reports whether m is already linked.
func (i *Identity) HasMethod(m Method) bool {
	return slices.Contains(i.LinkedMethods, m)
}

// AddMethod links m unless it already is and reports whether it was added.
func (i *Identity) AddMethod(m Method) bool {
	if i.HasMethod(m) {
		return false
	}
	i.LinkedMethods = append(i.LinkedMethods, m)
	return true
}

// Clone returns a deep copy so callers can patch without aliasing.
func (i *Identity) Clone() *Identity {
	c := *i
	c.LinkedMethods = slices.Clone(i.LinkedMethods)
	return &c
}

// Claim is the verified output of a proof: whatever the caller has shown
// control of, plus optional display metadata supplied with the proof.
type Claim struct {
	Address string
	Email   string
	Name    string
	Picture string
}

// Normalized lower-cases and trims the address and email.
func (c Claim) Normalized() Claim {
	c.Address = NormalizeAddress(c.Address)
	c.Email = NormalizeEmail(c.Email)
	return c
}

func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IdentityPatch lists the fields an update may change. Nil means unchanged.
// AddMethods is merged into the linked methods; none are ever removed.
type IdentityPatch struct {
	Address     *string
	Email       *string
	Name        *string
	Picture     *string
	AddMethods  []Method
	LastLoginAt *time.Time
}

// Apply writes the patch onto i.
func (p IdentityPatch) Apply(i *Identity) {
	if p.Address != nil {
		i.Address = NormalizeAddress(*p.Address)
	}
	if p.Email != nil {
		i.Email = NormalizeEmail(*p.Email)
	}
	if p.Name != nil {
		i.Name = *p.Name
	}
	if p.Picture != nil {
		i.Picture = *p.Picture
	}
	for _, m := range p.AddMethods {
		i.AddMethod(m)
	}
	if p.LastLoginAt != nil {
		i.LastLoginAt = p.LastLoginAt.UTC()
	}
}
