package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls atomic.Int32
	rate  float64
	err   error
	gate  chan struct{}
}

func (f *fakeSource) Rate(ctx context.Context, from, to string) (Rate, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return Rate{}, ctx.Err()
		}
	}
	if f.err != nil {
		return Rate{}, f.err
	}
	return Rate{Value: f.rate, LastRefreshed: "2024-05-01 12:00:00"}, nil
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newCache(src Source, clk *manualClock) *Cache {
	return NewCache(src, Options{TTL: 60 * time.Second, Timeout: time.Second, Spread: 0.0002, Now: clk.Now}, nil)
}

func TestCacheSynthesizesSpread(t *testing.T) {
	src := &fakeSource{rate: 1.0850}
	clk := &manualClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := newCache(src, clk)

	q, err := c.Get(context.Background(), "eur/usd")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", q.Symbol)
	assert.Equal(t, 1.08489, q.Bid)
	assert.Equal(t, 1.08511, q.Ask)
	assert.Less(t, q.Bid, q.Ask)
	assert.Equal(t, clk.Now(), q.Timestamp)
	assert.Equal(t, "2024-05-01 12:00:00", q.LastUpdated)
}

func TestCacheTTL(t *testing.T) {
	src := &fakeSource{rate: 1.25}
	clk := &manualClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := newCache(src, clk)
	ctx := context.Background()

	_, err := c.Get(ctx, "GBPUSD")
	require.NoError(t, err)
	clk.Advance(59 * time.Second)
	_, err = c.Get(ctx, "gbpusd")
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.calls.Load(), "served from cache inside the ttl")

	clk.Advance(time.Second)
	_, err = c.Get(ctx, "GBP/USD")
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load(), "refetched once the ttl elapsed")

	c.Invalidate("GBPUSD")
	_, err = c.Get(ctx, "GBPUSD")
	require.NoError(t, err)
	assert.EqualValues(t, 3, src.calls.Load())
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	clk := &manualClock{t: time.Now()}
	c := newCache(src, clk)
	ctx := context.Background()

	_, err := c.Get(ctx, "EURUSD")
	assert.ErrorIs(t, err, ErrUpstream)

	src.err = nil
	src.rate = 1.1
	q, err := c.Get(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Positive(t, q.Bid)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestCacheKeepsRateLimitKind(t *testing.T) {
	src := &fakeSource{err: ErrRateLimited}
	c := newCache(src, &manualClock{t: time.Now()})

	_, err := c.Get(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestCacheRejectsInvalidSymbolWithoutFetching(t *testing.T) {
	src := &fakeSource{rate: 1}
	c := newCache(src, &manualClock{t: time.Now()})

	_, err := c.Get(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrInvalidSymbol)
	assert.Zero(t, src.calls.Load())
}

func TestCacheRejectsNonPositiveRate(t *testing.T) {
	src := &fakeSource{rate: 0}
	c := newCache(src, &manualClock{t: time.Now()})

	_, err := c.Get(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	src := &fakeSource{rate: 1.1, gate: make(chan struct{})}
	c := newCache(src, &manualClock{t: time.Now()})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "EURUSD")
			assert.NoError(t, err)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
}

func TestCacheWaiterSurvivesCancelledLeader(t *testing.T) {
	src := &fakeSource{rate: 1.1, gate: make(chan struct{})}
	c := newCache(src, &manualClock{t: time.Now()})

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(leaderCtx, "EURUSD")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		q   Quote
		err error
	}
	waiter := make(chan result, 1)
	go func() {
		q, err := c.Get(context.Background(), "EURUSD")
		waiter <- result{q, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(src.gate)
	r := <-waiter
	require.NoError(t, r.err)
	assert.Equal(t, "EURUSD", r.q.Symbol)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestCacheTimeout(t *testing.T) {
	src := &fakeSource{rate: 1.1, gate: make(chan struct{})}
	c := NewCache(src, Options{TTL: time.Minute, Timeout: 20 * time.Millisecond, Spread: 0.0002}, nil)

	_, err := c.Get(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
