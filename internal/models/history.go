package models

import "time"

// HistoryEntry is the append-only snapshot written when a position closes.
type HistoryEntry struct {
	HistoryID  string    `json:"history_id"`
	UserID     string    `json:"user_id"`
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	OrderType  Side      `json:"order_type"`
	Volume     float64   `json:"volume"`
	OpenPrice  float64   `json:"open_price"`
	ClosePrice float64   `json:"close_price"`
	ProfitLoss float64   `json:"profit_loss"`
	OpenTime   time.Time `json:"open_time"`
	CloseTime  time.Time `json:"close_time"`
	CreatedAt  time.Time `json:"created_at"`
}
