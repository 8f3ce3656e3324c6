package ports

// SignatureVerifier recovers the signer of the challenge message.
type SignatureVerifier interface {
	// Verify succeeds iff signature over the challenge recovers address.
	Verify(address, signature string) error
	// Recover returns the checksummed signer of message.
	Recover(message, signature string) (string, error)
	Challenge() string
}
