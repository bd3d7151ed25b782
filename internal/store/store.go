package store

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when no value exists for the key.
var ErrKeyNotFound = errors.New("key not found")

// KVStore is the typed key-value port shared by the durable (cross-session)
// and session-scoped stores. Each key namespace has a single owning package:
// the cart package owns the cart key, the checkout package owns the
// pending/last order keys, the guard owns transaction records. Mutating a
// key from anywhere else is a bug.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
