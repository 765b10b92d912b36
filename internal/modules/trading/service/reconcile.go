package service

import (
	"context"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	ledger "paper_ledger/internal/modules/ledger/service"
	"paper_ledger/internal/valuation"
	"paper_ledger/pkg/tracing"
)

const (
	balanceTolerance = 0.005
	marginTolerance  = 1e-6
)

type ReconcileReport struct {
	Balance         float64 `json:"balance"`
	ExpectedBalance float64 `json:"expected_balance"`
	Margin          float64 `json:"margin"`
	ExpectedMargin  float64 `json:"expected_margin"`
	OpenPositions   int     `json:"open_positions"`
	HistoryEntries  int     `json:"history_entries"`
	Repaired        bool    `json:"repaired"`
}

// Reconcile rebuilds balance and margin from the position and history
// records, which are written before the account on close, and repairs the
// account when it drifted, e.g. after a close whose account step was lost.
func (b *Bot) Reconcile(ctx context.Context, userID string) (rep *ReconcileReport, err error) {
	const op = "reconcile"
	span, ctx := tracing.Start(ctx, "trading."+op, userID)
	defer func() { tracing.Finish(span, err) }()

	if err := checkUser(op, userID); err != nil {
		return nil, err
	}

	defer b.locks.lock(userID)()

	history, err := b.store.ListHistory(ctx, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	open, err := b.store.ListOpenPositions(ctx, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	acct, err := b.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}

	realized := decimal.NewFromFloat(b.defaultBalance)
	for _, h := range history {
		realized = realized.Add(decimal.NewFromFloat(h.ProfitLoss))
	}
	var margin float64
	for _, p := range open {
		margin += b.model.MarginUsed(p.Volume, p.OpenPrice)
	}

	rep = &ReconcileReport{
		Balance:         acct.Balance,
		ExpectedBalance: realized.Round(2).InexactFloat64(),
		Margin:          acct.Margin,
		ExpectedMargin:  margin,
		OpenPositions:   len(open),
		HistoryEntries:  len(history),
	}
	if math.Abs(rep.Balance-rep.ExpectedBalance) <= balanceTolerance &&
		math.Abs(rep.Margin-rep.ExpectedMargin) <= marginTolerance {
		return rep, nil
	}

	floating := valuation.FloatingTotal(open)
	equity := valuation.Round2(rep.ExpectedBalance + floating)
	err = b.store.PutAccount(ctx, userID, ledger.Fields{
		ledger.FieldBalance:     rep.ExpectedBalance,
		ledger.FieldMargin:      rep.ExpectedMargin,
		ledger.FieldFreeMargin:  rep.ExpectedBalance - rep.ExpectedMargin,
		ledger.FieldFloatingPnL: floating,
		ledger.FieldEquity:      equity,
		ledger.FieldMarginLevel: valuation.MarginLevel(equity, rep.ExpectedMargin),
	})
	if err != nil {
		return nil, storeErr(op, err)
	}
	rep.Repaired = true

	b.log.Warn("account repaired",
		zap.String("user_id", userID),
		zap.Float64("balance", rep.Balance),
		zap.Float64("expected_balance", rep.ExpectedBalance),
		zap.Float64("margin", rep.Margin),
		zap.Float64("expected_margin", rep.ExpectedMargin),
	)
	return rep, nil
}
