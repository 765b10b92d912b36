package service

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"paper_ledger/internal/models"
	ledger "paper_ledger/internal/modules/ledger/service"
	"paper_ledger/internal/valuation"
	"paper_ledger/pkg/tracing"
)

type OrderRequest struct {
	Symbol     string
	OrderType  string
	Volume     float64
	StopLoss   *float64
	TakeProfit *float64
}

type OrderResult struct {
	PositionID string      `json:"position_id"`
	Symbol     string      `json:"symbol"`
	OrderType  models.Side `json:"order_type"`
	Volume     float64     `json:"volume"`
	Price      float64     `json:"price"`
	Margin     float64     `json:"margin"`
}

type CloseResult struct {
	PositionID string      `json:"position_id"`
	Symbol     string      `json:"symbol"`
	OrderType  models.Side `json:"order_type"`
	Volume     float64     `json:"volume"`
	OpenPrice  float64     `json:"open_price"`
	ClosePrice float64     `json:"close_price"`
	ProfitLoss float64     `json:"profit_loss"`
}

type CloseAllResult struct {
	Closed []CloseResult `json:"closed"`
	Total  float64       `json:"total_profit_loss"`
}

// PlaceOrder opens a position at the live ask (BUY) or bid (SELL) and
// reserves its margin. Nothing is written when the quote is unavailable.
func (b *Bot) PlaceOrder(ctx context.Context, userID string, req OrderRequest) (res *OrderResult, err error) {
	const op = "place_order"
	span, ctx := tracing.Start(ctx, "trading."+op, userID)
	defer func() { tracing.Finish(span, err) }()

	side, err := validateOrder(op, userID, req)
	if err != nil {
		return nil, err
	}

	defer b.locks.lock(userID)()

	q, err := b.quotes.Get(ctx, req.Symbol)
	if err != nil {
		return nil, quoteErr(op, err)
	}
	price := valuation.FillPrice(side, q.BidAsk())
	if price <= 0 {
		return nil, quoteErr(op, errNoPrice(q.Symbol))
	}
	if err := checkProtective(op, side, price, req.StopLoss, req.TakeProfit); err != nil {
		return nil, err
	}

	now := b.now()
	pos := &models.Position{
		Symbol:       q.Symbol,
		OrderType:    side,
		Volume:       req.Volume,
		OpenPrice:    price,
		CurrentPrice: price,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		OpenTime:     now,
	}
	positionID, err := b.store.AddPosition(ctx, userID, pos)
	if err != nil {
		return nil, storeErr(op, err)
	}

	reserved := b.model.MarginUsed(req.Volume, price)
	acct, err := b.store.GetAccount(ctx, userID)
	if err != nil {
		b.log.Error("position opened but margin not reserved",
			zap.String("user_id", userID), zap.String("position_id", positionID), zap.Error(err))
		return nil, storeErr(op, err)
	}
	margin := acct.Margin + reserved
	err = b.store.PutAccount(ctx, userID, ledger.Fields{
		ledger.FieldMargin:      margin,
		ledger.FieldFreeMargin:  acct.Balance - margin,
		ledger.FieldMarginLevel: valuation.MarginLevel(acct.Equity, margin),
	})
	if err != nil {
		b.log.Error("position opened but margin not reserved",
			zap.String("user_id", userID), zap.String("position_id", positionID), zap.Error(err))
		return nil, storeErr(op, err)
	}

	b.log.Info("order placed",
		zap.String("user_id", userID),
		zap.String("position_id", positionID),
		zap.String("symbol", q.Symbol),
		zap.String("side", string(side)),
		zap.Float64("volume", req.Volume),
		zap.Float64("price", price),
	)
	return &OrderResult{
		PositionID: positionID,
		Symbol:     q.Symbol,
		OrderType:  side,
		Volume:     req.Volume,
		Price:      price,
		Margin:     reserved,
	}, nil
}

// ClosePosition closes an open position at the opposite side of the quote.
// A position that is not open, including one already closed, is not found.
func (b *Bot) ClosePosition(ctx context.Context, userID, positionID string) (res *CloseResult, err error) {
	const op = "close_position"
	span, ctx := tracing.Start(ctx, "trading."+op, userID)
	defer func() { tracing.Finish(span, err) }()

	if err := checkUser(op, userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(positionID) == "" {
		return nil, invalid(op, "position id is required")
	}

	defer b.locks.lock(userID)()

	open, err := b.store.ListOpenPositions(ctx, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	for _, p := range open {
		if p.PositionID == positionID {
			return b.closeLocked(ctx, op, userID, p)
		}
	}
	return nil, notFound(op, positionID)
}

// CloseAll closes every open position of the user. It stops at the first
// failure and returns what was closed up to that point along with the error.
func (b *Bot) CloseAll(ctx context.Context, userID string) (res *CloseAllResult, err error) {
	const op = "close_all"
	span, ctx := tracing.Start(ctx, "trading."+op, userID)
	defer func() { tracing.Finish(span, err) }()

	if err := checkUser(op, userID); err != nil {
		return nil, err
	}

	defer b.locks.lock(userID)()

	open, err := b.store.ListOpenPositions(ctx, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}

	res = &CloseAllResult{Closed: make([]CloseResult, 0, len(open))}
	for _, p := range open {
		cr, err := b.closeLocked(ctx, op, userID, p)
		if KindOf(err) == KindNotFound {
			continue
		}
		if err != nil {
			return res, err
		}
		res.Closed = append(res.Closed, *cr)
		res.Total = valuation.Round2(res.Total + cr.ProfitLoss)
	}
	return res, nil
}

func (b *Bot) closeLocked(ctx context.Context, op, userID string, p *models.Position) (*CloseResult, error) {
	q, err := b.quotes.Get(ctx, p.Symbol)
	if err != nil {
		return nil, quoteErr(op, err)
	}
	price := valuation.ExitPrice(p.OrderType, q.BidAsk())
	if price <= 0 {
		return nil, quoteErr(op, errNoPrice(q.Symbol))
	}

	st := ledger.Settlement{
		ClosePrice:    price,
		ProfitLoss:    b.model.PnL(p.OrderType, p.OpenPrice, price, p.Volume),
		MarginRelease: b.model.MarginUsed(p.Volume, p.OpenPrice),
	}
	if err := b.store.ClosePosition(ctx, userID, p.PositionID, st); err != nil {
		return nil, storeErr(op, err)
	}

	b.log.Info("position closed",
		zap.String("user_id", userID),
		zap.String("position_id", p.PositionID),
		zap.String("symbol", p.Symbol),
		zap.Float64("close_price", price),
		zap.Float64("profit_loss", st.ProfitLoss),
	)
	return &CloseResult{
		PositionID: p.PositionID,
		Symbol:     p.Symbol,
		OrderType:  p.OrderType,
		Volume:     p.Volume,
		OpenPrice:  p.OpenPrice,
		ClosePrice: price,
		ProfitLoss: st.ProfitLoss,
	}, nil
}

func validateOrder(op, userID string, req OrderRequest) (models.Side, error) {
	if err := checkUser(op, userID); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Symbol) == "" {
		return "", invalid(op, "symbol is required")
	}
	side, ok := models.ParseSide(req.OrderType)
	if !ok {
		return "", invalid(op, "order type must be BUY or SELL, got %q", req.OrderType)
	}
	if math.IsNaN(req.Volume) || math.IsInf(req.Volume, 0) || req.Volume <= 0 {
		return "", invalid(op, "volume must be a positive number, got %v", req.Volume)
	}
	if req.StopLoss != nil && !(*req.StopLoss > 0) {
		return "", invalid(op, "stop loss must be positive")
	}
	if req.TakeProfit != nil && !(*req.TakeProfit > 0) {
		return "", invalid(op, "take profit must be positive")
	}
	return side, nil
}

// checkProtective: BUY needs SL < price < TP, SELL needs TP < price < SL.
func checkProtective(op string, side models.Side, price float64, sl, tp *float64) error {
	buy := side == models.SideBuy
	if sl != nil {
		if buy && *sl >= price {
			return invalid(op, "stop loss %v must be below the fill price %v", *sl, price)
		}
		if !buy && *sl <= price {
			return invalid(op, "stop loss %v must be above the fill price %v", *sl, price)
		}
	}
	if tp != nil {
		if buy && *tp <= price {
			return invalid(op, "take profit %v must be above the fill price %v", *tp, price)
		}
		if !buy && *tp >= price {
			return invalid(op, "take profit %v must be below the fill price %v", *tp, price)
		}
	}
	return nil
}
