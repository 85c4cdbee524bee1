package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeType distinguishes buys from sells in the trade log.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// Trade is one immutable entry in the append-only trade log. Shares and
// Total are signed: positive for buys, negative for sells.
type Trade struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Shares    int64           `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Type      TradeType       `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewBuy builds a buy entry debiting shares*price.
func NewBuy(userID int64, symbol string, shares int64, price decimal.Decimal) *Trade {
	return &Trade{
		UserID: userID,
		Symbol: symbol,
		Shares: shares,
		Price:  price,
		Total:  price.Mul(decimal.NewFromInt(shares)),
		Type:   TradeBuy,
	}
}

// NewSell builds a sell entry crediting shares*price.
func NewSell(userID int64, symbol string, shares int64, price decimal.Decimal) *Trade {
	return &Trade{
		UserID: userID,
		Symbol: symbol,
		Shares: -shares,
		Price:  price,
		Total:  price.Mul(decimal.NewFromInt(-shares)),
		Type:   TradeSell,
	}
}

// Position is the materialized projection of a user's trades in one symbol.
// Shares is the sum of signed shares, Cost the sum of signed totals, and
// LastPrice the price of the most recent trade.
type Position struct {
	UserID    int64           `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Shares    int64           `json:"shares"`
	Cost      decimal.Decimal `json:"cost"`
	LastPrice decimal.Decimal `json:"last_price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Open reports whether the position still holds shares.
func (p *Position) Open() bool {
	return p.Shares > 0
}

// Apply folds a trade into the position.
func (p *Position) Apply(t *Trade) {
	p.Shares += t.Shares
	p.Cost = p.Cost.Add(t.Total)
	p.LastPrice = t.Price
	p.UpdatedAt = t.CreatedAt
}

// AggregatePositions derives positions from a trade log, preserving the
// order in which each symbol was first traded.
func AggregatePositions(userID int64, trades []*Trade) []*Position {
	bySymbol := make(map[string]*Position)
	var order []string
	for _, t := range trades {
		p, ok := bySymbol[t.Symbol]
		if !ok {
			p = &Position{UserID: userID, Symbol: t.Symbol}
			bySymbol[t.Symbol] = p
			order = append(order, t.Symbol)
		}
		p.Apply(t)
	}
	out := make([]*Position, 0, len(order))
	for _, s := range order {
		out = append(out, bySymbol[s])
	}
	return out
}
