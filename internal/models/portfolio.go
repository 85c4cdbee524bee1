// Package models defines data structures for papertrade
package models

import (
	"github.com/shopspring/decimal"
)

// HoldingView is one open position valued at the current quote.
type HoldingView struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Shares       int64           `json:"shares"`
	Price        decimal.Decimal `json:"price"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	CurrentValue decimal.Decimal `json:"current_value"`
	Profit       decimal.Decimal `json:"profit"`
	Stale        bool            `json:"stale,omitempty"` // valued at last execution price
}

// PortfolioView is the valued portfolio for one user.
type PortfolioView struct {
	UserID        int64           `json:"user_id"`
	Username      string          `json:"username"`
	Cash          decimal.Decimal `json:"cash"`
	Holdings      []HoldingView   `json:"holdings"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
}
