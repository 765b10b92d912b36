package models

import (
	"strings"
	"time"
)

// Side of an order: BUY or SELL.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

// Position is a virtual position owned by one user. Once Closed is set the
// record is frozen: ClosePrice and ClosedAt are present and ProfitLoss no
// longer moves.
type Position struct {
	PositionID   string     `json:"position_id"`
	UserID       string     `json:"user_id"`
	Symbol       string     `json:"symbol"`
	OrderType    Side       `json:"order_type"`
	Volume       float64    `json:"volume"` // lots
	OpenPrice    float64    `json:"open_price"`
	CurrentPrice float64    `json:"current_price"`
	StopLoss     *float64   `json:"stop_loss,omitempty"`
	TakeProfit   *float64   `json:"take_profit,omitempty"`
	ProfitLoss   float64    `json:"profit_loss"`
	Closed       bool       `json:"closed"`
	OpenTime     time.Time  `json:"open_time"`
	ClosePrice   *float64   `json:"close_price,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
