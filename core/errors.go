package core

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenRevoked     = errors.New("token has been revoked")
	ErrTokenNotFound    = errors.New("token not found")
	ErrTokenMalformed   = errors.New("token is malformed")

	// ErrIdentityConflict is returned when an address or email is already
	// bound to another identity.
	ErrIdentityConflict = errors.New("identity conflict")
	ErrNotFound         = errors.New("not found")

	// ErrIndexConflict is the store-level signal that an index key is owned
	// by a different identity. The resolver turns it into a retry or an
	// ErrIdentityConflict.
	ErrIndexConflict = errors.New("index conflict")

	// ErrConcurrentUpdate is returned when an identity kept changing under
	// an update until it gave up.
	ErrConcurrentUpdate = errors.New("identity modified concurrently")

	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrStoreUnavailable    = errors.New("store unavailable")

	ErrUnsupportedMethod = errors.New("unsupported authentication method")
	ErrInvalidRequest    = errors.New("invalid request")
)
