// Package valuation holds the pure position and account math of the ledger.
// Nothing here performs I/O.
package valuation

import (
	"paper_ledger/internal/models"

	"github.com/shopspring/decimal"
)

const (
	DefaultPnLMultiplier = 100.0 // notional per lot of the paper model, not a contract size
	DefaultMarginRate    = 0.01
)

// Model carries the two tunables of the paper-trading model.
type Model struct {
	PnLMultiplier float64
	MarginRate    float64
}

func DefaultModel() Model {
	return Model{PnLMultiplier: DefaultPnLMultiplier, MarginRate: DefaultMarginRate}
}

// BidAsk is the part of a quote valuation needs.
type BidAsk struct {
	Bid float64
	Ask float64
}

// FillPrice is the price a new position opens at: ask for BUY, bid for SELL.
func FillPrice(side models.Side, q BidAsk) float64 {
	if side == models.SideSell {
		return q.Bid
	}
	return q.Ask
}

// ExitPrice is the price a position can be unwound at: bid for BUY, ask for SELL.
func ExitPrice(side models.Side, q BidAsk) float64 {
	if side == models.SideSell {
		return q.Ask
	}
	return q.Bid
}

// CurrentPrice values p against q. Without a quote it keeps the last known
// current price, then the open price.
func CurrentPrice(p *models.Position, q *BidAsk) float64 {
	if q != nil {
		if px := ExitPrice(p.OrderType, *q); px > 0 {
			return px
		}
	}
	if p.CurrentPrice > 0 {
		return p.CurrentPrice
	}
	return p.OpenPrice
}

// PnL is the signed profit of volume lots moved from open to price, rounded to cents.
func (m Model) PnL(side models.Side, open, price, volume float64) float64 {
	diff := price - open
	if side == models.SideSell {
		diff = open - price
	}
	return Round2(diff * volume * m.PnLMultiplier)
}

// FloatingPnL is PnL of an open position at price.
func (m Model) FloatingPnL(p *models.Position, price float64) float64 {
	return m.PnL(p.OrderType, p.OpenPrice, price, p.Volume)
}

// MarginUsed is the margin reserved for volume lots at price.
func (m Model) MarginUsed(volume, price float64) float64 {
	return volume * price * m.MarginRate
}

// FloatingTotal sums profit_loss over open positions.
func FloatingTotal(positions []*models.Position) float64 {
	sum := decimal.Zero
	for _, p := range positions {
		if p == nil || p.Closed {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(p.ProfitLoss))
	}
	return sum.Round(2).InexactFloat64()
}

// Equity = balance + floating P&L of open positions.
func Equity(balance float64, positions []*models.Position) float64 {
	return Round2(balance + FloatingTotal(positions))
}

// MarginLevel is equity/margin in percent, zero while nothing is reserved.
func MarginLevel(equity, margin float64) float64 {
	if margin <= 0 {
		return 0
	}
	return Round2(equity / margin * 100)
}

// Round2 rounds half away from zero to two decimals.
func Round2(x float64) float64 {
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}

// Round5 rounds to the 5 decimals FX quotes carry.
func Round5(x float64) float64 {
	return decimal.NewFromFloat(x).Round(5).InexactFloat64()
}
