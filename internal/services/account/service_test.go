package account

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/models"
	badgerstore "github.com/bobmcallan/papertrade/internal/storage/badger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := badgerstore.NewStore(common.NewSilentLogger(), filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewService(store, NewBcryptCredentials(bcrypt.MinCost), decimal.RequireFromString("10000.00"), common.NewSilentLogger())
}

func TestRegister_CreatesUserWithStartingCash(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.Register(context.Background(), "alice", "s3cret", "s3cret")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.True(t, user.Cash.Equal(decimal.RequireFromString("10000.00")))
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	got, err := svc.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestRegister_InvalidInput(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		name                  string
		username, pass, confm string
	}{
		{"blank username", "", "pw", "pw"},
		{"whitespace username", "   ", "pw", "pw"},
		{"blank password", "bob", "", ""},
		{"blank confirmation", "bob", "pw", ""},
		{"mismatch", "bob", "pw", "pw2"},
		{"control chars", "bo\x00b", "pw", "pw"},
		{"too long", strings.Repeat("x", 129), "pw", "pw"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.username, tc.pass, tc.confm)
			assert.True(t, errors.Is(err, models.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "pw", "pw")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "other", "other")
	assert.True(t, errors.Is(err, models.ErrUsernameTaken), "got %v", err)

	// Uniqueness is case-sensitive
	_, err = svc.Register(ctx, "Alice", "pw", "pw")
	assert.NoError(t, err)
}

func TestRegister_ConcurrentDuplicates(t *testing.T) {
	svc := newTestService(t)

	var ok, taken int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(context.Background(), "race", "pw", "pw")
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, models.ErrUsernameTaken):
				atomic.AddInt32(&taken, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(7), taken)
}

func TestAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "alice", "s3cret", "s3cret")
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	_, err = svc.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials, "unknown users are not distinguishable")

	_, err = svc.Authenticate(ctx, "", "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestBcryptCredentials_TruncatesLongPasswords(t *testing.T) {
	creds := NewBcryptCredentials(bcrypt.MinCost)
	long := strings.Repeat("a", 100)

	hash, err := creds.Hash(long)
	require.NoError(t, err)
	assert.True(t, creds.Verify(long, hash))
	assert.True(t, creds.Verify(long[:72], hash), "bytes past 72 are ignored")
	assert.False(t, creds.Verify(long[:71], hash))
}

func TestBcryptCredentials_CostFallback(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptCredentials(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptCredentials(99).cost)
	assert.Equal(t, 12, NewBcryptCredentials(12).cost)
}
