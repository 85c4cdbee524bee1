package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/models"
	tcommon "github.com/bobmcallan/papertrade/tests/common"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// testStore creates a fresh database in the shared container and opens a
// Store against it.
func testStore(t *testing.T) *Store {
	t.Helper()
	pc := tcommon.StartPostgres(t)
	ctx := context.Background()

	dbName := tcommon.UniqueName(t, "t")
	admin, err := pgx.Connect(ctx, pc.DSN("postgres"))
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{dbName}.Sanitize())
	require.NoError(t, err)
	admin.Close(ctx)

	store, err := NewStore(ctx, common.NewSilentLogger(), common.PostgresConfig{DSN: pc.DSN(dbName), MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func buyFn(shares int64, price string) func(models.AccountState) (*models.Trade, error) {
	return func(st models.AccountState) (*models.Trade, error) {
		tr := models.NewBuy(st.UserID, "", shares, dec(price))
		if st.Cash.LessThanOrEqual(tr.Total) {
			return nil, models.ErrInsufficientFunds
		}
		return tr, nil
	}
}

func sellFn(shares int64, price string) func(models.AccountState) (*models.Trade, error) {
	return func(st models.AccountState) (*models.Trade, error) {
		if shares > st.NetShares {
			return nil, models.ErrInsufficientShares
		}
		return models.NewSell(st.UserID, "", shares, dec(price)), nil
	}
}

func TestCreateUser_UniqueViolation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	u := &models.User{Username: "alice", PasswordHash: "h", Cash: dec("10000.00")}
	require.NoError(t, store.CreateUser(ctx, u))
	assert.Greater(t, u.ID, int64(0))

	err := store.CreateUser(ctx, &models.User{Username: "alice", PasswordHash: "h", Cash: dec("1")})
	assert.True(t, errors.Is(err, models.ErrUsernameTaken), "got %v", err)

	got, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.Cash.Equal(dec("10000")))

	_, err = store.GetUser(ctx, 999)
	assert.True(t, errors.Is(err, models.ErrUserNotFound))
}

func TestExecuteTrade_ScenarioAndRebuild(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	u := &models.User{Username: "alice", PasswordHash: "h", Cash: dec("10000.00")}
	require.NoError(t, store.CreateUser(ctx, u))

	_, err := store.ExecuteTrade(ctx, u.ID, "AAA", buyFn(10, "50.00"))
	require.NoError(t, err)
	_, err = store.ExecuteTrade(ctx, u.ID, "AAA", sellFn(5, "60.00"))
	require.NoError(t, err)
	_, err = store.ExecuteTrade(ctx, u.ID, "AAA", sellFn(50, "60.00"))
	assert.True(t, errors.Is(err, models.ErrInsufficientShares))

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "9800.00", got.Cash.StringFixed(2))

	trades, err := store.ListTrades(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, models.TradeBuy, trades[0].Type)
	assert.True(t, trades[1].Total.Equal(dec("-300")))

	require.NoError(t, store.RebuildPositions(ctx, u.ID))
	positions, err := store.Positions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(5), positions[0].Shares)
	assert.True(t, positions[0].Cost.Equal(dec("200")))
}

func TestExecuteTrade_CompetingBuys(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	u := &models.User{Username: "racer", PasswordHash: "h", Cash: dec("1000.00")}
	require.NoError(t, store.CreateUser(ctx, u))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.ExecuteTrade(ctx, u.ID, "AAA", buyFn(6, "100.00"))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.True(t, errors.Is(err, models.ErrInsufficientFunds), "got %v", err)
		}
	}
	assert.Equal(t, 1, ok)

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "400.00", got.Cash.StringFixed(2))
}

func TestSystemKV(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	v, err := store.GetSystemKV(ctx, "schema_version")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, store.SetSystemKV(ctx, "schema_version", "1"))
	require.NoError(t, store.SetSystemKV(ctx, "schema_version", "2"))
	v, err = store.GetSystemKV(ctx, "schema_version")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}
