package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper_ledger/internal/models"
	"paper_ledger/internal/modules/ledger/service"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	clk := &stepClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(dir, service.Options{DefaultBalance: 1000, Now: clk.Now}), dir
}

func openBuy(volume, price float64) *models.Position {
	return &models.Position{
		Symbol:       "EURUSD",
		OrderType:    models.SideBuy,
		Volume:       volume,
		OpenPrice:    price,
		CurrentPrice: price,
		OpenTime:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestGetAccountCreatesDefault(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, acct.Balance)
	assert.Equal(t, 1000.0, acct.Equity)
	assert.Equal(t, 1000.0, acct.FreeMargin)
	assert.Zero(t, acct.Margin)
	assert.Zero(t, acct.MarginLevel)
	assert.False(t, acct.CreatedAt.IsZero())

	_, err = os.Stat(s.path("u1"))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(s.path("u1")))

	again, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acct.CreatedAt.Equal(again.CreatedAt), "default account is created once")
}

func TestPutAccountMerges(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.PutAccount(ctx, "u1", service.Fields{service.FieldMargin: 0.011}))

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.011, acct.Margin, 1e-12)
	assert.Equal(t, 1000.0, acct.Balance, "untouched fields survive the merge")
	assert.True(t, acct.UpdatedAt.After(acct.CreatedAt))
}

func TestAddAndListOpenPositions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	id1, err := s.AddPosition(ctx, "u1", openBuy(1, 1.1))
	require.NoError(t, err)
	id2, err := s.AddPosition(ctx, "u1", openBuy(2, 1.2))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	_, err = s.AddPosition(ctx, "u2", openBuy(3, 1.3))
	require.NoError(t, err)

	open, err := s.ListOpenPositions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, id1, open[0].PositionID)
	assert.Equal(t, id2, open[1].PositionID)
	assert.Equal(t, "u1", open[0].UserID)
	assert.False(t, open[0].Closed)
	assert.False(t, open[0].CreatedAt.IsZero())
}

func TestUpdatePosition(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	pid, err := s.AddPosition(ctx, "u1", openBuy(1, 1.1))
	require.NoError(t, err)

	err = s.UpdatePosition(ctx, "u1", pid, service.Fields{
		service.FieldCurrentPrice: 1.101,
		service.FieldProfitLoss:   0.1,
	})
	require.NoError(t, err)

	open, err := s.ListOpenPositions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 1.101, open[0].CurrentPrice)
	assert.Equal(t, 0.1, open[0].ProfitLoss)
	assert.Equal(t, 1.1, open[0].OpenPrice)

	err = s.UpdatePosition(ctx, "u1", "missing", service.Fields{service.FieldProfitLoss: 1.0})
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestClosePositionSettlesOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	pid, err := s.AddPosition(ctx, "u1", openBuy(1, 1.1))
	require.NoError(t, err)
	require.NoError(t, s.PutAccount(ctx, "u1", service.Fields{
		service.FieldMargin:      0.011,
		service.FieldFloatingPnL: 1.0,
	}))
	require.NoError(t, s.UpdatePosition(ctx, "u1", pid, service.Fields{service.FieldProfitLoss: 1.0}))

	st := service.Settlement{ClosePrice: 1.101, ProfitLoss: 1.0, MarginRelease: 0.011}
	require.NoError(t, s.ClosePosition(ctx, "u1", pid, st))

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1001.0, acct.Balance)
	assert.Zero(t, acct.Margin)
	assert.Equal(t, 1001.0, acct.FreeMargin)
	assert.Zero(t, acct.FloatingPnL)
	assert.Equal(t, 1001.0, acct.Equity)

	open, err := s.ListOpenPositions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, open)

	hist, err := s.ListHistory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, pid, hist[0].PositionID)
	assert.Equal(t, "EURUSD", hist[0].Symbol)
	assert.Equal(t, models.SideBuy, hist[0].OrderType)
	assert.Equal(t, 1.1, hist[0].OpenPrice)
	assert.Equal(t, 1.101, hist[0].ClosePrice)
	assert.Equal(t, 1.0, hist[0].ProfitLoss)
	assert.NotEmpty(t, hist[0].HistoryID)

	err = s.ClosePosition(ctx, "u1", pid, st)
	assert.ErrorIs(t, err, service.ErrNotFound)

	err = s.UpdatePosition(ctx, "u1", pid, service.Fields{service.FieldProfitLoss: 5.0})
	assert.ErrorIs(t, err, service.ErrNotFound, "closed positions are frozen")

	acct, err = s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1001.0, acct.Balance, "second close must not book again")
}

func TestClosePositionRebuildsFloatingFromOpenPositions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	closing, err := s.AddPosition(ctx, "u1", openBuy(1, 1.1))
	require.NoError(t, err)
	kept, err := s.AddPosition(ctx, "u1", openBuy(1, 1.1))
	require.NoError(t, err)
	// refreshed positions, account floating_pnl never rolled up
	require.NoError(t, s.UpdatePosition(ctx, "u1", closing, service.Fields{service.FieldProfitLoss: 1.0}))
	require.NoError(t, s.UpdatePosition(ctx, "u1", kept, service.Fields{service.FieldProfitLoss: 0.25}))

	st := service.Settlement{ClosePrice: 1.101, ProfitLoss: 1.0, MarginRelease: 0.011}
	require.NoError(t, s.ClosePosition(ctx, "u1", closing, st))

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1001.0, acct.Balance)
	assert.Equal(t, 0.25, acct.FloatingPnL)
	assert.Equal(t, 1001.25, acct.Equity)
}

func TestCloseFloorsMargin(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	pid, err := s.AddPosition(ctx, "u1", openBuy(1, 1.1))
	require.NoError(t, err)

	st := service.Settlement{ClosePrice: 1.099, ProfitLoss: -0.1, MarginRelease: 0.011}
	require.NoError(t, s.ClosePosition(ctx, "u1", pid, st))

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, acct.Margin)
	assert.Equal(t, 999.9, acct.Balance)
}

func TestListHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, sym := range []string{"EURUSD", "GBPUSD", "USDJPY"} {
		_, err := s.AddHistory(ctx, "u1", &models.HistoryEntry{Symbol: sym, OrderType: models.SideSell})
		require.NoError(t, err)
	}

	hist, err := s.ListHistory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "USDJPY", hist[0].Symbol)
	assert.Equal(t, "GBPUSD", hist[1].Symbol)
	assert.Equal(t, "EURUSD", hist[2].Symbol)
	for i := 1; i < len(hist); i++ {
		assert.False(t, hist[i].CreatedAt.After(hist[i-1].CreatedAt))
	}

	empty, err := s.ListHistory(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSharedDirectoryIsReRead(t *testing.T) {
	ctx := context.Background()
	a, dir := newTestStore(t)
	b := NewStore(dir, service.Options{DefaultBalance: 1000})

	pid, err := a.AddPosition(ctx, "tg:42/chat", openBuy(1, 1.1))
	require.NoError(t, err)

	open, err := b.ListOpenPositions(ctx, "tg:42/chat")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, pid, open[0].PositionID)
}

func TestCorruptFileIsAnError(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t)

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(s.path("u1"), []byte("{not json"), 0o644))

	_, err := s.GetAccount(ctx, "u1")
	assert.Error(t, err)
}
