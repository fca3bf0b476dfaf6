// Package cursor persists the position in the homeserver's event stream.
//
// The cursor is the next_batch token returned by /sync. It is written only
// after a batch has been fully routed, so a restart resumes from the last
// batch that was handled and may redeliver it (at-least-once delivery).
package cursor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"matrixbot/internal/domain"
)

// Key is the store key holding the last persisted sync token.
const Key = "sync_token"

// ErrStorageUnavailable is returned when the backing store cannot be read
// or written. Callers decide whether to retry.
var ErrStorageUnavailable = errors.New("cursor storage unavailable")

// Store loads and saves the sync token.
type Store struct {
	kv     domain.KVStore
	logger *slog.Logger
}

func NewStore(kv domain.KVStore, logger *slog.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// Load returns the persisted token, or "" when none was ever saved.
func (s *Store) Load(ctx context.Context) (string, error) {
	token, found, err := s.kv.Get(ctx, Key)
	if err != nil {
		return "", fmt.Errorf("%w: load: %w", ErrStorageUnavailable, err)
	}
	if !found {
		s.logger.Info("no saved sync token, starting from the beginning")
		return "", nil
	}
	return token, nil
}

// Save durably stores token. Saving the same token again is harmless.
func (s *Store) Save(ctx context.Context, token string) error {
	if err := s.kv.Put(ctx, Key, token); err != nil {
		return fmt.Errorf("%w: save: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Reset forgets the cursor so the next start performs an initial sync.
func (s *Store) Reset(ctx context.Context) error {
	return s.Save(ctx, "")
}
