// Package interfaces defines service contracts for papertrade
package interfaces

import (
	"context"

	"github.com/bobmcallan/papertrade/internal/models"
)

// StorageManager coordinates the configured ledger backend
type StorageManager interface {
	LedgerStore() LedgerStore

	// Backend returns the backend name ("badger", "surrealdb" or "postgres").
	Backend() string

	Close() error
}

// TradeFunc validates a proposed trade against the account state read inside
// the write transaction and returns the trade to append. Returning an error
// aborts the transaction with no writes. It may be called more than once when
// a backend retries on conflict, so it must not have side effects.
type TradeFunc func(state models.AccountState) (*models.Trade, error)

// LedgerStore persists users, the append-only trade log and the position
// projection derived from it.
type LedgerStore interface {
	// CreateUser assigns ID and CreatedAt. Returns models.ErrUsernameTaken on
	// a duplicate username (case-sensitive).
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUserIDs(ctx context.Context) ([]int64, error)

	// ListTrades returns the user's trades in insertion order.
	ListTrades(ctx context.Context, userID int64) ([]*models.Trade, error)

	// Positions returns the projection rows for a user, including closed ones.
	Positions(ctx context.Context, userID int64) ([]*models.Position, error)
	NetShares(ctx context.Context, userID int64, symbol string) (int64, error)

	// ExecuteTrade runs one atomic read-validate-write for a user: it loads
	// the AccountState for symbol, calls fn, then debits trade.Total from
	// cash, appends the trade and updates the projection, all in a single
	// storage transaction serialised per user.
	ExecuteTrade(ctx context.Context, userID int64, symbol string, fn TradeFunc) (*models.Trade, error)

	// RebuildPositions recomputes a user's projection from the trade log.
	RebuildPositions(ctx context.Context, userID int64) error

	// System key-value (non-user-scoped)
	GetSystemKV(ctx context.Context, key string) (string, error)
	SetSystemKV(ctx context.Context, key, value string) error

	Close() error
}
