package domain

import "context"

// KVStore is the durable key-value store backing the cursor and bot settings.
type KVStore interface {
	// Get returns found=false when the key was never written.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Put(ctx context.Context, key, value string) error
	Close() error
}
