package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper_ledger/internal/models"
)

type tag struct{ name string }

func (t tag) String() string { return "tag:" + t.name }

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("MSK", 3*3600))

	out := Normalize(map[string]any{
		"time":   ts,
		"ptr":    &ts,
		"nilptr": (*time.Time)(nil),
		"nil":    nil,
		"side":   models.SideBuy,
		"tag":    tag{"x"},
		"floats": []float64{1.5, 2},
		"nested": Fields{"when": ts},
		"num":    3,
		"ok":     true,
	})

	assert.Equal(t, "2024-05-01T09:30:00Z", out["time"])
	assert.Equal(t, "2024-05-01T09:30:00Z", out["ptr"])
	assert.Nil(t, out["nilptr"])
	assert.Nil(t, out["nil"])
	assert.Equal(t, "BUY", out["side"])
	assert.Equal(t, "tag:x", out["tag"])
	assert.Equal(t, []any{1.5, 2.0}, out["floats"])
	assert.Equal(t, map[string]any{"when": "2024-05-01T09:30:00Z"}, out["nested"])
	assert.Equal(t, 3, out["num"])
	assert.Equal(t, true, out["ok"])

	assert.Nil(t, Normalize(nil))
}

func TestToFieldsDecodeRoundTrip(t *testing.T) {
	sl := 1.09
	in := &models.Position{
		PositionID: "p1",
		Symbol:     "EURUSD",
		OrderType:  models.SideBuy,
		Volume:     1,
		OpenPrice:  1.1,
		StopLoss:   &sl,
		OpenTime:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	doc, err := ToFields(in)
	require.NoError(t, err)
	assert.Equal(t, "BUY", doc["order_type"])
	assert.NotContains(t, doc, "take_profit")

	var out models.Position
	require.NoError(t, Decode(doc, &out))
	assert.Equal(t, in.Symbol, out.Symbol)
	require.NotNil(t, out.StopLoss)
	assert.Equal(t, sl, *out.StopLoss)
	assert.Nil(t, out.TakeProfit)
	assert.True(t, in.OpenTime.Equal(out.OpenTime))
}

func TestSettleAccount(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	acct := &models.Account{Balance: 1000, Margin: 0.034, FloatingPnL: 1.5}
	remaining := []*models.Position{{PositionID: "p2", ProfitLoss: 0.5}}

	f := SettleAccount(acct, remaining, Settlement{ClosePrice: 1.101, ProfitLoss: 1.0, MarginRelease: 0.011}, now)

	assert.Equal(t, 1001.0, f[FieldBalance])
	assert.InDelta(t, 0.023, f[FieldMargin].(float64), 1e-12)
	assert.InDelta(t, 1000.977, f[FieldFreeMargin].(float64), 1e-9)
	assert.Equal(t, 0.5, f[FieldFloatingPnL])
	assert.Equal(t, 1001.5, f[FieldEquity])
	assert.Equal(t, now, f[FieldUpdatedAt])
	assert.Positive(t, f[FieldMarginLevel].(float64))

	f = SettleAccount(&models.Account{Balance: 1000, Margin: 0.005}, nil, Settlement{ProfitLoss: -2, MarginRelease: 0.011}, now)
	assert.Equal(t, 0.0, f[FieldMargin])
	assert.Equal(t, 998.0, f[FieldFreeMargin])
	assert.Equal(t, 0.0, f[FieldMarginLevel])
}

func TestSettleAccountIgnoresStaleFloating(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	// floating_pnl was never rolled up after the last position refresh
	acct := &models.Account{Balance: 1000, Margin: 0.011, FloatingPnL: 0}

	f := SettleAccount(acct, nil, Settlement{ProfitLoss: 1, MarginRelease: 0.011}, now)

	assert.Equal(t, 1001.0, f[FieldBalance])
	assert.Equal(t, 0.0, f[FieldFloatingPnL])
	assert.Equal(t, 1001.0, f[FieldEquity])
}

func TestClosedEntryFallsBackToCreatedAt(t *testing.T) {
	created := time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC)
	now := created.Add(time.Hour)
	p := &models.Position{Symbol: "GBPUSD", OrderType: models.SideSell, Volume: 2, OpenPrice: 1.3, CreatedAt: created}

	h := ClosedEntry(p, "u1", "p1", Settlement{ClosePrice: 1.29, ProfitLoss: 2}, now)
	assert.Equal(t, created, h.OpenTime)
	assert.Equal(t, now, h.CloseTime)
	assert.Equal(t, "p1", h.PositionID)
	assert.Equal(t, 1.29, h.ClosePrice)
}

func TestDefaultAccount(t *testing.T) {
	now := time.Now().UTC()
	f := DefaultAccount(1000, now)
	assert.Equal(t, 1000.0, f[FieldBalance])
	assert.Equal(t, 1000.0, f[FieldEquity])
	assert.Equal(t, 1000.0, f[FieldFreeMargin])
	assert.Equal(t, 0.0, f[FieldMargin])
	assert.Equal(t, 0.0, f[FieldMarginLevel])
}
