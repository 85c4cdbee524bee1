package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a trading account. Cash is mutated only by registration and by
// executed trades; accounts are never deleted.
type User struct {
	ID           int64           `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Cash         decimal.Decimal `json:"cash"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AccountState is the consistent snapshot an engine validation runs against:
// the user's cash and net share count for one symbol, read inside the write
// transaction.
type AccountState struct {
	UserID    int64           `json:"user_id"`
	Cash      decimal.Decimal `json:"cash"`
	NetShares int64           `json:"net_shares"`
}
