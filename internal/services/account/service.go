// Package account handles registration and authentication
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
)

const maxUsernameLength = 128

// Service implements interfaces.AccountService
type Service struct {
	store       interfaces.LedgerStore
	credentials interfaces.CredentialStore
	initialCash decimal.Decimal
	logger      *common.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a new account service
func NewService(store interfaces.LedgerStore, credentials interfaces.CredentialStore, initialCash decimal.Decimal, logger *common.Logger) *Service {
	return &Service{
		store:       store,
		credentials: credentials,
		initialCash: initialCash,
		logger:      logger,
	}
}

// ValidateUsername checks that a username is safe for storage.
// Rejects blank, too long, and control characters.
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: username is required", models.ErrInvalidInput)
	}
	if len(username) > maxUsernameLength {
		return fmt.Errorf("%w: username must be %d characters or fewer", models.ErrInvalidInput, maxUsernameLength)
	}
	for _, c := range username {
		if c < 0x20 || c == 0x7f {
			return fmt.Errorf("%w: username contains invalid control characters", models.ErrInvalidInput)
		}
	}
	return nil
}

// Register creates a user with the configured starting cash.
func (s *Service) Register(ctx context.Context, username, password, confirmation string) (*models.User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", models.ErrInvalidInput)
	}
	if confirmation == "" {
		return nil, fmt.Errorf("%w: password confirmation is required", models.ErrInvalidInput)
	}
	if password != confirmation {
		return nil, fmt.Errorf("%w: passwords do not match", models.ErrInvalidInput)
	}

	hash, err := s.credentials.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Cash:         s.initialCash,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, models.ErrUsernameTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("User registered")
	return user, nil
}

// Authenticate verifies credentials. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", models.ErrInvalidInput)
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			s.burnVerify(password)
			return nil, models.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !s.credentials.Verify(password, user.PasswordHash) {
		s.logger.Info().Str("username", username).Msg("Login rejected")
		return nil, models.ErrInvalidCredentials
	}
	return user, nil
}

// burnVerify spends the same work as a real verification so that unknown
// usernames take as long to reject as wrong passwords.
func (s *Service) burnVerify(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.credentials.Hash("papertrade-dummy-password")
	})
	if s.dummyHash != "" {
		s.credentials.Verify(password, s.dummyHash)
	}
}

// GetUser returns the account by id.
func (s *Service) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	return s.store.GetUser(ctx, userID)
}

var _ interfaces.AccountService = (*Service)(nil)
