package interfaces

import (
	"context"

	"github.com/bobmcallan/papertrade/internal/models"
)

// PriceOracle resolves a symbol to a point-in-time quote. Unknown symbols
// return models.ErrUnknownSymbol.
type PriceOracle interface {
	Lookup(ctx context.Context, symbol string) (*models.Quote, error)
}

// CredentialStore hashes and verifies passwords.
type CredentialStore interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// AccountService manages registration and authentication
type AccountService interface {
	Register(ctx context.Context, username, password, confirmation string) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
	GetUser(ctx context.Context, userID int64) (*models.User, error)
}

// LedgerService is the accounting engine: valuation, trade execution and
// history for one explicitly identified user.
type LedgerService interface {
	Quote(ctx context.Context, symbol string) (*models.Quote, error)
	ComputePortfolio(ctx context.Context, userID int64) (*models.PortfolioView, error)
	ExecuteBuy(ctx context.Context, userID int64, symbol string, shares int64) (*models.Trade, error)
	ExecuteSell(ctx context.Context, userID int64, symbol string, shares int64) (*models.Trade, error)
	History(ctx context.Context, userID int64) ([]*models.Trade, error)
	SellablePositions(ctx context.Context, userID int64) ([]*models.Position, error)
	RenderAllocationChart(view *models.PortfolioView) ([]byte, error)
	RenderCashChart(ctx context.Context, userID int64) ([]byte, error)
}
