package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper_ledger/internal/models"
	ledger "paper_ledger/internal/modules/ledger/service"
	"paper_ledger/internal/modules/ledger/service/file"
	quotesvc "paper_ledger/internal/modules/quotes/service"
	"paper_ledger/internal/valuation"
)

type fakeQuotes struct {
	mu    sync.Mutex
	q     map[string]quotesvc.Quote
	err   map[string]error
	calls int
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{q: map[string]quotesvc.Quote{}, err: map[string]error{}}
}

func (f *fakeQuotes) set(symbol string, bid, ask float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.q[symbol] = quotesvc.Quote{Symbol: symbol, Bid: bid, Ask: ask, Timestamp: time.Now()}
	delete(f.err, symbol)
}

func (f *fakeQuotes) fail(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err[symbol] = err
}

func (f *fakeQuotes) Get(ctx context.Context, symbol string) (quotesvc.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	key, err := quotesvc.Key(symbol)
	if err != nil {
		return quotesvc.Quote{}, err
	}
	if err := f.err[key]; err != nil {
		return quotesvc.Quote{}, err
	}
	q, ok := f.q[key]
	if !ok {
		return quotesvc.Quote{}, quotesvc.ErrUpstream
	}
	return q, nil
}

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

type fixture struct {
	bot    *Bot
	store  ledger.Store
	quotes *fakeQuotes
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &stepClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := file.NewStore(t.TempDir(), ledger.Options{DefaultBalance: 1000, Now: clk.Now})
	return newFixtureWith(t, store, clk)
}

func newFixtureWith(t *testing.T, store ledger.Store, clk *stepClock) *fixture {
	t.Helper()
	quotes := newFakeQuotes()
	bot := NewBot(store, quotes, Config{
		Model:          valuation.DefaultModel(),
		DefaultBalance: 1000,
		Now:            clk.Now,
	}, zap.NewNop())
	return &fixture{bot: bot, store: store, quotes: quotes}
}

func (f *fixture) open(t *testing.T, user, symbol, side string, volume float64) *OrderResult {
	t.Helper()
	res, err := f.bot.PlaceOrder(context.Background(), user, OrderRequest{Symbol: symbol, OrderType: side, Volume: volume})
	require.NoError(t, err)
	return res
}

func (f *fixture) account(t *testing.T, user string) *models.Account {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), user)
	require.NoError(t, err)
	return acct
}

// failingStore lets single operations fail on top of a working store.
type failingStore struct {
	ledger.Store
	addPosition error
	putAccount  error
	close       error
}

func (s *failingStore) AddPosition(ctx context.Context, userID string, p *models.Position) (string, error) {
	if s.addPosition != nil {
		return "", s.addPosition
	}
	return s.Store.AddPosition(ctx, userID, p)
}

func (s *failingStore) PutAccount(ctx context.Context, userID string, fields ledger.Fields) error {
	if s.putAccount != nil {
		return s.putAccount
	}
	return s.Store.PutAccount(ctx, userID, fields)
}

func (s *failingStore) ClosePosition(ctx context.Context, userID, positionID string, st ledger.Settlement) error {
	if s.close != nil {
		return s.close
	}
	return s.Store.ClosePosition(ctx, userID, positionID, st)
}

var errDisk = errors.New("disk full")
