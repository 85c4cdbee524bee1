package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobmcallan/papertrade/internal/models"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

// usernameClaim reserves a username. It is only ever inserted, never
// upserted, so a second claim on the same name fails with ErrKeyExists.
type usernameClaim struct {
	Username string
	UserID   int64
}

func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	id, err := s.nextID(s.userSeq)
	if err != nil {
		return fmt.Errorf("failed to allocate user id: %w", err)
	}
	user.ID = id
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}

	err = s.update(func(txn *badger.Txn) error {
		claim := &usernameClaim{Username: user.Username, UserID: user.ID}
		if err := s.db.TxInsert(txn, user.Username, claim); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return fmt.Errorf("%w: %s", models.ErrUsernameTaken, user.Username)
			}
			return err
		}
		return s.db.TxInsert(txn, user.ID, user)
	})
	if err != nil {
		if errors.Is(err, models.ErrUsernameTaken) {
			return err
		}
		return fmt.Errorf("failed to create user '%s': %w", user.Username, err)
	}

	s.logger.Debug().Int64("user_id", user.ID).Str("username", user.Username).Msg("User created")
	return nil
}

func (s *Store) GetUser(_ context.Context, userID int64) (*models.User, error) {
	var user models.User
	if err := s.db.Get(userID, &user); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", models.ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var claim usernameClaim
	if err := s.db.Get(username, &claim); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, username)
		}
		return nil, fmt.Errorf("failed to get user '%s': %w", username, err)
	}
	return s.GetUser(ctx, claim.UserID)
}

func (s *Store) ListUserIDs(_ context.Context) ([]int64, error) {
	var users []models.User
	if err := s.db.Find(&users, badgerhold.Where("ID").Gt(int64(0)).SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids, nil
}
