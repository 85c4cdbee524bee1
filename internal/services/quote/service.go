// Package quote provides the price oracle: cached quote lookup with
// provider fallback.
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
)

// maxSymbolLength bounds user-supplied symbols before they reach a provider.
const maxSymbolLength = 20

// Service implements interfaces.PriceOracle over one or more providers.
// Providers are tried in order; a later provider is only consulted when an
// earlier one fails with an infrastructure error, never on "not found".
type Service struct {
	providers []interfaces.QuoteProvider
	cache     interfaces.QuoteCache
	cacheTTL  time.Duration
	timeout   time.Duration
	logger    *common.Logger
}

// NewService creates a new quote service. cache may be nil to disable caching.
func NewService(providers []interfaces.QuoteProvider, cache interfaces.QuoteCache, cacheTTL, timeout time.Duration, logger *common.Logger) *Service {
	return &Service{
		providers: providers,
		cache:     cache,
		cacheTTL:  cacheTTL,
		timeout:   timeout,
		logger:    logger,
	}
}

// NormalizeSymbol trims and upper-cases a ticker, rejecting empty or
// malformed input with models.ErrInvalidInput.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", fmt.Errorf("%w: symbol is required", models.ErrInvalidInput)
	}
	if len(s) > maxSymbolLength {
		return "", fmt.Errorf("%w: symbol is too long", models.ErrInvalidInput)
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '^':
		default:
			return "", fmt.Errorf("%w: symbol contains invalid character %q", models.ErrInvalidInput, r)
		}
	}
	return s, nil
}

// Lookup resolves symbol to a point-in-time quote.
func (s *Service) Lookup(ctx context.Context, symbol string) (*models.Quote, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if q, ok := s.cache.Get(ctx, sym); ok {
			return q, nil
		}
	}

	if len(s.providers) == 0 {
		return nil, errors.New("no quote provider configured")
	}

	var lastErr error
	for i, p := range s.providers {
		q, err := s.fetch(ctx, p, sym)
		if err == nil {
			if i > 0 {
				s.logger.Warn().Str("symbol", sym).Str("provider", p.Name()).Msg("Quote served by fallback provider")
			}
			s.store(ctx, q)
			return q, nil
		}
		if errors.Is(err, interfaces.ErrQuoteNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownSymbol, sym)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("quote lookup for %s: %w", sym, ctx.Err())
		}
		s.logger.Warn().Err(err).Str("symbol", sym).Str("provider", p.Name()).Msg("Quote provider failed")
		lastErr = err
	}
	return nil, fmt.Errorf("failed to look up quote for %s: %w", sym, lastErr)
}

// fetch calls one provider under the per-lookup timeout.
func (s *Service) fetch(ctx context.Context, p interfaces.QuoteProvider, sym string) (*models.Quote, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	q, err := p.GetQuote(ctx, sym)
	if err != nil {
		return nil, err
	}
	if q == nil || q.Price < 0 {
		return nil, fmt.Errorf("provider %s returned an invalid quote for %s", p.Name(), sym)
	}
	q.Symbol = sym
	if q.Name == "" {
		q.Name = sym
	}
	if q.Source == "" {
		q.Source = p.Name()
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}
	return q, nil
}

func (s *Service) store(ctx context.Context, q *models.Quote) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	if err := s.cache.Set(ctx, q, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("symbol", q.Symbol).Msg("Failed to cache quote")
	}
}

// Ensure Service implements PriceOracle
var _ interfaces.PriceOracle = (*Service)(nil)
