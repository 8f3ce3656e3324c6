// Package eth verifies personal_sign (EIP-191) wallet signatures.
package eth

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/passport/core"
)

// DefaultChallenge is the fixed message wallets sign to log in.
const DefaultChallenge = "I want to proceed"

// RecoverAddress returns the address whose key produced signature over the
// EIP-191 hash of message. Malformed input yields core.ErrInvalidSignature.
func RecoverAddress(message, signature string) (common.Address, error) {
	if !strings.HasPrefix(signature, "0x") && !strings.HasPrefix(signature, "0X") {
		signature = "0x" + signature
	}
	decoded, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", core.ErrInvalidSignature)
	}
	if len(decoded) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes: %w", crypto.SignatureLength, core.ErrInvalidSignature)
	}

	sig := bytes.Clone(decoded)
	switch v := sig[crypto.RecoveryIDOffset]; v {
	case 27, 28:
		sig[crypto.RecoveryIDOffset] = v - 27
	case 0, 1:
	default:
		return common.Address{}, fmt.Errorf("invalid recovery id %d: %w", v, core.ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", core.ErrInvalidSignature)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a personal_sign signature with V in {27, 28}, the form
// browser wallets return.
func Sign(message string, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// PersonalSignVerifier checks signatures over a fixed challenge string.
type PersonalSignVerifier struct {
	challenge string
}

// NewPersonalSignVerifier creates a verifier; an empty challenge falls back
// to DefaultChallenge.
func NewPersonalSignVerifier(challenge string) *PersonalSignVerifier {
	if challenge == "" {
		challenge = DefaultChallenge
	}
	return &PersonalSignVerifier{challenge: challenge}
}

func (v *PersonalSignVerifier) Challenge() string {
	return v.challenge
}

// Verify succeeds iff signature over the challenge recovers address,
// compared case-insensitively.
func (v *PersonalSignVerifier) Verify(address, signature string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("malformed address: %w", core.ErrInvalidSignature)
	}
	recovered, err := RecoverAddress(v.challenge, signature)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered.Hex(), address) {
		return core.ErrInvalidSignature
	}
	return nil
}

// Recover returns the checksummed signer of an arbitrary message.
func (v *PersonalSignVerifier) Recover(message, signature string) (string, error) {
	if message == "" {
		message = v.challenge
	}
	addr, err := RecoverAddress(message, signature)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}
