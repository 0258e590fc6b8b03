package store

import "context"

// Store keeps the engine's state as opaque values grouped by prefix: one
// prefix for graph plans, one for run states, one per run for task records.
// Get of a missing key returns a nil value and no error.
type Store interface {
	Get(ctx context.Context, prefix, key string) ([]byte, error)
	Set(ctx context.Context, prefix, key string, value []byte) error
	// Remove of a missing key is not an error.
	Remove(ctx context.Context, prefix, key string) error
	// List calls iterator with every key under prefix until it returns false.
	List(ctx context.Context, prefix string, iterator func(key string) bool) error
}
