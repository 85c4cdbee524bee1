// Package ledger is the accounting engine: trade validation and execution,
// position aggregation and portfolio valuation.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
)

// Service implements interfaces.LedgerService
type Service struct {
	store  interfaces.LedgerStore
	oracle interfaces.PriceOracle
	config common.LedgerConfig
	logger *common.Logger
}

// NewService creates a new ledger service
func NewService(store interfaces.LedgerStore, oracle interfaces.PriceOracle, config common.LedgerConfig, logger *common.Logger) *Service {
	return &Service{
		store:  store,
		oracle: oracle,
		config: config,
		logger: logger,
	}
}

// ParseShares parses a share count as entered by a user. Only plain positive
// integers are accepted: no sign, no decimal point, no exponent.
func ParseShares(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: shares is required", models.ErrInvalidInput)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: shares must be a positive whole number", models.ErrInvalidInput)
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: shares out of range", models.ErrInvalidInput)
	}
	if err := validateShares(n); err != nil {
		return 0, err
	}
	return n, nil
}

func validateShares(n int64) error {
	if n <= 0 {
		return fmt.Errorf("%w: shares must be a positive whole number", models.ErrInvalidInput)
	}
	return nil
}

func validateSymbol(symbol string) error {
	if strings.TrimSpace(symbol) == "" {
		return fmt.Errorf("%w: symbol is required", models.ErrInvalidInput)
	}
	return nil
}

// Quote looks up the current price for symbol.
func (s *Service) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, err
	}
	return s.oracle.Lookup(ctx, symbol)
}

// canAfford applies the funds rule. By default a buy must leave a positive
// balance; with AllowExactBalance it may spend the balance exactly.
func (s *Service) canAfford(cash, cost decimal.Decimal) bool {
	if s.config.AllowExactBalance {
		return cash.GreaterThanOrEqual(cost)
	}
	return cash.GreaterThan(cost)
}

// quoteFor validates the request and prices it. The oracle is consulted
// before any storage transaction is opened.
func (s *Service) quoteFor(ctx context.Context, symbol string, shares int64) (*models.Quote, decimal.Decimal, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, decimal.Zero, err
	}
	if err := validateShares(shares); err != nil {
		return nil, decimal.Zero, err
	}
	q, err := s.oracle.Lookup(ctx, symbol)
	if err != nil {
		return nil, decimal.Zero, err
	}
	price := q.DecimalPrice()
	if price.IsNegative() {
		return nil, decimal.Zero, fmt.Errorf("oracle returned negative price %s for %s", price, q.Symbol)
	}
	return q, price, nil
}

// ExecuteBuy buys shares of symbol for userID at the current quote.
func (s *Service) ExecuteBuy(ctx context.Context, userID int64, symbol string, shares int64) (*models.Trade, error) {
	q, price, err := s.quoteFor(ctx, symbol, shares)
	if err != nil {
		return nil, err
	}
	cost := price.Mul(decimal.NewFromInt(shares))

	trade, err := s.store.ExecuteTrade(ctx, userID, q.Symbol, func(state models.AccountState) (*models.Trade, error) {
		if !s.canAfford(state.Cash, cost) {
			return nil, fmt.Errorf("%w: %s costs %s, available cash is %s",
				models.ErrInsufficientFunds, q.Symbol, cost.StringFixed(2), state.Cash.StringFixed(2))
		}
		return models.NewBuy(userID, q.Symbol, shares, price), nil
	})
	if err != nil {
		s.logRejected(userID, models.TradeBuy, q.Symbol, shares, err)
		return nil, err
	}

	s.logExecuted(trade)
	return trade, nil
}

// ExecuteSell sells shares of symbol for userID at the current quote.
func (s *Service) ExecuteSell(ctx context.Context, userID int64, symbol string, shares int64) (*models.Trade, error) {
	q, price, err := s.quoteFor(ctx, symbol, shares)
	if err != nil {
		return nil, err
	}

	trade, err := s.store.ExecuteTrade(ctx, userID, q.Symbol, func(state models.AccountState) (*models.Trade, error) {
		if shares > state.NetShares {
			return nil, fmt.Errorf("%w: requested %d %s, holding %d",
				models.ErrInsufficientShares, shares, q.Symbol, state.NetShares)
		}
		return models.NewSell(userID, q.Symbol, shares, price), nil
	})
	if err != nil {
		s.logRejected(userID, models.TradeSell, q.Symbol, shares, err)
		return nil, err
	}

	s.logExecuted(trade)
	return trade, nil
}

func (s *Service) logExecuted(t *models.Trade) {
	s.logger.Info().
		Int64("user_id", t.UserID).
		Int64("trade_id", t.ID).
		Str("type", string(t.Type)).
		Str("symbol", t.Symbol).
		Int64("shares", t.Shares).
		Str("price", t.Price.StringFixed(2)).
		Str("total", t.Total.StringFixed(2)).
		Msg("Trade executed")
}

func (s *Service) logRejected(userID int64, typ models.TradeType, symbol string, shares int64, err error) {
	evt := s.logger.Info()
	if !models.IsDomainError(err) {
		evt = s.logger.Error()
	}
	evt.Err(err).
		Int64("user_id", userID).
		Str("type", string(typ)).
		Str("symbol", symbol).
		Int64("shares", shares).
		Msg("Trade not executed")
}

// openPositions returns the user's open positions sorted by symbol.
func (s *Service) openPositions(ctx context.Context, userID int64) ([]*models.Position, error) {
	positions, err := s.store.Positions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	open := make([]*models.Position, 0, len(positions))
	for _, p := range positions {
		if p.Open() {
			open = append(open, p)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Symbol < open[j].Symbol })
	return open, nil
}

// ComputePortfolio values every open position at the current quote.
func (s *Service) ComputePortfolio(ctx context.Context, userID int64) (*models.PortfolioView, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	open, err := s.openPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &models.PortfolioView{
		UserID:        user.ID,
		Username:      user.Username,
		Cash:          user.Cash,
		Holdings:      make([]models.HoldingView, 0, len(open)),
		HoldingsValue: decimal.Zero,
		TotalProfit:   decimal.Zero,
	}

	for _, p := range open {
		h := models.HoldingView{
			Symbol:    p.Symbol,
			Name:      p.Symbol,
			Shares:    p.Shares,
			TotalCost: p.Cost,
		}

		q, err := s.oracle.Lookup(ctx, p.Symbol)
		switch {
		case err == nil:
			h.Name = q.Name
			h.Price = q.DecimalPrice()
		case s.config.StalePriceFallback && ctx.Err() == nil:
			s.logger.Warn().Err(err).Int64("user_id", userID).Str("symbol", p.Symbol).
				Msg("Valuing holding at last execution price")
			h.Price = p.LastPrice
			h.Stale = true
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, fmt.Errorf("%w: failed to value %s: %w", models.ErrQuoteUnavailable, p.Symbol, err)
		}

		h.CurrentValue = h.Price.Mul(decimal.NewFromInt(p.Shares))
		h.Profit = h.CurrentValue.Sub(h.TotalCost)

		view.HoldingsValue = view.HoldingsValue.Add(h.CurrentValue)
		view.TotalProfit = view.TotalProfit.Add(h.Profit)
		view.Holdings = append(view.Holdings, h)
	}

	view.TotalValue = view.Cash.Add(view.HoldingsValue)
	return view, nil
}

// History returns every trade for userID in execution order.
func (s *Service) History(ctx context.Context, userID int64) ([]*models.Trade, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	trades, err := s.store.ListTrades(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	return trades, nil
}

// SellablePositions returns the positions the user can sell from.
func (s *Service) SellablePositions(ctx context.Context, userID int64) ([]*models.Position, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.openPositions(ctx, userID)
}

var _ interfaces.LedgerService = (*Service)(nil)
