package ports

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Store reads when the key is absent or expired.
var ErrKeyNotFound = errors.New("key not found")

// Store is the shared key-value store. Each call is atomic on its own; no
// multi-key transactions are offered. A zero ttl means no expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes the key only if it does not exist and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// GetDel reads and removes the key in one step.
	GetDel(ctx context.Context, key string) (string, error)
	// CompareAndDelete removes the key only if it currently holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	// CompareAndSwap replaces the value only if the key currently holds old.
	// The new value carries no expiry.
	CompareAndSwap(ctx context.Context, key, old, value string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Keys lists keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}
