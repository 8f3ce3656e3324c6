package core

// Proof is the evidence a caller presents to authenticate or to link a
// method. The set of variants is closed; consumers switch over the concrete
// types and treat anything else as ErrUnsupportedMethod.
type Proof interface {
	Method() Method
	proof()
}

// MetamaskProof is a personal_sign signature over the challenge message.
type MetamaskProof struct {
	Address   string
	Signature string
}

// WalletConnectProof is a signature relayed through a WalletConnect session.
type WalletConnectProof struct {
	Address   string
	Signature string
}

// GoogleProof is an OAuth login relayed through a hosted wallet: the wallet
// signs the challenge and the provider supplies the verified email.
type GoogleProof struct {
	Address   string
	Signature string
	Email     string
	Name      string
	Picture   string
}

// EmailRequest starts the magic link flow. It carries no proof yet.
type EmailRequest struct {
	Email string
}

// EmailTokenProof redeems a magic link token.
type EmailTokenProof struct {
	Token string
}

func (MetamaskProof) Method() Method      { return MethodMetamask }
func (WalletConnectProof) Method() Method { return MethodWalletConnect }
func (GoogleProof) Method() Method        { return MethodGoogle }
func (EmailRequest) Method() Method       { return MethodEmail }
func (EmailTokenProof) Method() Method    { return MethodEmail }

func (MetamaskProof) proof()      {}
func (WalletConnectProof) proof() {}
func (GoogleProof) proof()        {}
func (EmailRequest) proof()       {}
func (EmailTokenProof) proof()    {}
