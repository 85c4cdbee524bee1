package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/papertrade/internal/models"
)

// ErrQuoteNotFound is returned by a QuoteProvider when the symbol has no
// listing or no current price.
var ErrQuoteNotFound = errors.New("quote not found")

// QuoteProvider is an upstream market data source
type QuoteProvider interface {
	// Name identifies the provider in logs and quote metadata.
	Name() string

	// GetQuote returns the latest price for symbol, or ErrQuoteNotFound.
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
}

// QuoteCache stores recent quotes keyed by normalised symbol.
type QuoteCache interface {
	// Get returns the cached quote and true on a hit.
	Get(ctx context.Context, symbol string) (*models.Quote, bool)
	Set(ctx context.Context, quote *models.Quote, ttl time.Duration) error
}
