package ports

import "context"

// PermitteeChecker asks the external authority whether a wallet is a permittee.
type PermitteeChecker interface {
	CheckPermittee(ctx context.Context, address string) (bool, error)
}

// OwnerDetails is the display metadata the authority knows about a wallet.
type OwnerDetails struct {
	Name    string
	Picture string
}

// OwnerDirectory looks up display metadata for a wallet owner.
type OwnerDirectory interface {
	OwnerDetails(ctx context.Context, address string) (*OwnerDetails, error)
}

// Mailer delivers magic link tokens.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, token string) error
}
