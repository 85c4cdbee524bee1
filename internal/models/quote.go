package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a point-in-time price from the oracle.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DecimalPrice converts the quoted float to a cent-precision decimal.
func (q *Quote) DecimalPrice() decimal.Decimal {
	return decimal.NewFromFloat(q.Price).Round(2)
}
