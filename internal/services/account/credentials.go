package account

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/bobmcallan/papertrade/internal/interfaces"
)

// bcrypt ignores input past 72 bytes and newer versions reject it outright.
const maxPasswordBytes = 72

// BcryptCredentials implements interfaces.CredentialStore.
type BcryptCredentials struct {
	cost int
}

// NewBcryptCredentials returns a credential store hashing at cost, falling
// back to bcrypt.DefaultCost when cost is out of range.
func NewBcryptCredentials(cost int) *BcryptCredentials {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptCredentials{cost: cost}
}

func truncate(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}

func (c *BcryptCredentials) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(truncate(password), c.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (c *BcryptCredentials) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), truncate(password)) == nil
}

var _ interfaces.CredentialStore = (*BcryptCredentials)(nil)
