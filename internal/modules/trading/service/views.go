package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"paper_ledger/internal/models"
	ledger "paper_ledger/internal/modules/ledger/service"
	"paper_ledger/internal/valuation"
	"paper_ledger/pkg/tracing"
)

func errNoPrice(symbol string) error {
	return fmt.Errorf("no usable price for %s", symbol)
}

// GetPositions returns the open positions revalued at live quotes. A
// position whose quote cannot be fetched keeps its stored values.
func (b *Bot) GetPositions(ctx context.Context, userID string) (out []*models.Position, err error) {
	const op = "get_positions"
	span, ctx := tracing.Start(ctx, "trading."+op, userID)
	defer func() { tracing.Finish(span, err) }()

	if err := checkUser(op, userID); err != nil {
		return nil, err
	}

	defer b.locks.lock(userID)()
	return b.refreshLocked(ctx, op, userID)
}

// GetAccountInfo refreshes the open positions and rolls their floating P&L
// into the account.
func (b *Bot) GetAccountInfo(ctx context.Context, userID string) (acct *models.Account, err error) {
	const op = "get_account_info"
	span, ctx := tracing.Start(ctx, "trading."+op, userID)
	defer func() { tracing.Finish(span, err) }()

	if err := checkUser(op, userID); err != nil {
		return nil, err
	}

	defer b.locks.lock(userID)()

	positions, err := b.refreshLocked(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	acct, err = b.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}

	acct.FloatingPnL = valuation.FloatingTotal(positions)
	acct.Equity = valuation.Round2(acct.Balance + acct.FloatingPnL)
	acct.FreeMargin = acct.Balance - acct.Margin
	acct.MarginLevel = valuation.MarginLevel(acct.Equity, acct.Margin)

	err = b.store.PutAccount(ctx, userID, ledger.Fields{
		ledger.FieldFloatingPnL: acct.FloatingPnL,
		ledger.FieldEquity:      acct.Equity,
		ledger.FieldFreeMargin:  acct.FreeMargin,
		ledger.FieldMarginLevel: acct.MarginLevel,
	})
	if err != nil {
		return nil, storeErr(op, err)
	}
	acct.UpdatedAt = b.now()
	return acct, nil
}

func (b *Bot) GetTradingHistory(ctx context.Context, userID string) (out []*models.HistoryEntry, err error) {
	const op = "get_trading_history"
	span, ctx := tracing.Start(ctx, "trading."+op, userID)
	defer func() { tracing.Finish(span, err) }()

	if err := checkUser(op, userID); err != nil {
		return nil, err
	}
	out, err = b.store.ListHistory(ctx, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

func (b *Bot) refreshLocked(ctx context.Context, op, userID string) ([]*models.Position, error) {
	open, err := b.store.ListOpenPositions(ctx, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}

	out := make([]*models.Position, 0, len(open))
	for _, p := range open {
		q, err := b.quotes.Get(ctx, p.Symbol)
		if err != nil {
			b.log.Warn("quote unavailable, keeping last valuation",
				zap.String("user_id", userID),
				zap.String("position_id", p.PositionID),
				zap.String("symbol", p.Symbol),
				zap.Error(err),
			)
			if p.CurrentPrice <= 0 {
				p.CurrentPrice = valuation.CurrentPrice(p, nil)
			}
			out = append(out, p)
			continue
		}

		ba := q.BidAsk()
		p.CurrentPrice = valuation.CurrentPrice(p, &ba)
		p.ProfitLoss = b.model.FloatingPnL(p, p.CurrentPrice)

		err = b.store.UpdatePosition(ctx, userID, p.PositionID, ledger.Fields{
			ledger.FieldCurrentPrice: p.CurrentPrice,
			ledger.FieldProfitLoss:   p.ProfitLoss,
		})
		if errors.Is(err, ledger.ErrNotFound) {
			// closed since it was listed
			continue
		}
		if err != nil {
			b.log.Warn("refreshed valuation not persisted",
				zap.String("user_id", userID),
				zap.String("position_id", p.PositionID),
				zap.Error(err),
			)
		}
		out = append(out, p)
	}
	return out, nil
}
