package models

import "time"

// Account is a user's virtual trading account.
type Account struct {
	Balance     float64   `json:"balance"` // realized cash
	Equity      float64   `json:"equity"`  // balance + floating_pnl
	Margin      float64   `json:"margin"`
	FreeMargin  float64   `json:"free_margin"` // balance - margin
	MarginLevel float64   `json:"margin_level"`
	FloatingPnL float64   `json:"floating_pnl"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
