package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobmcallan/papertrade/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// GetSystemKV returns the value for key, or "" when it has never been set.
func (s *Store) GetSystemKV(_ context.Context, key string) (string, error) {
	var kv models.SystemKV
	if err := s.db.Get(key, &kv); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get system kv '%s': %w", key, err)
	}
	return kv.Value, nil
}

func (s *Store) SetSystemKV(_ context.Context, key, value string) error {
	kv := &models.SystemKV{Key: key, Value: value, DateTime: s.now()}
	if err := s.db.Upsert(key, kv); err != nil {
		return fmt.Errorf("failed to set system kv '%s': %w", key, err)
	}
	return nil
}
