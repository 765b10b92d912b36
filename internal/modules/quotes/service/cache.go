package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"paper_ledger/internal/valuation"
)

var (
	ErrInvalidSymbol = errors.New("quotes: invalid symbol")
	ErrUpstream      = errors.New("quotes: upstream error")
	ErrRateLimited   = errors.New("quotes: rate limited")
)

// Rate is one conversion rate as the upstream reports it.
type Rate struct {
	Value         float64
	LastRefreshed string
}

// Source fetches the live rate from -> to.
type Source interface {
	Rate(ctx context.Context, from, to string) (Rate, error)
}

// Quote is a two-sided price with a synthetic spread around the upstream rate.
type Quote struct {
	Symbol      string    `json:"symbol"`
	Bid         float64   `json:"bid"`
	Ask         float64   `json:"ask"`
	Timestamp   time.Time `json:"timestamp"`
	LastUpdated string    `json:"last_updated,omitempty"`
}

func (q Quote) BidAsk() valuation.BidAsk {
	return valuation.BidAsk{Bid: q.Bid, Ask: q.Ask}
}

type Options struct {
	TTL     time.Duration
	Timeout time.Duration
	Spread  float64 // fraction of the rate, split evenly around it
	Now     func() time.Time
}

// Cache serves quotes from memory for TTL and collapses concurrent misses
// on one symbol into a single upstream call. Failures are not cached.
type Cache struct {
	src  Source
	opts Options
	log  *zap.Logger

	mu      sync.RWMutex
	entries map[string]Quote
	group   singleflight.Group
}

func NewCache(src Source, opts Options, log *zap.Logger) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		src:     src,
		opts:    opts,
		log:     log,
		entries: make(map[string]Quote),
	}
}

// Get returns the quote for symbol.
func (c *Cache) Get(ctx context.Context, symbol string) (Quote, error) {
	from, to, err := ParseSymbol(symbol)
	if err != nil {
		return Quote{}, err
	}
	key := from + to

	if q, ok := c.fresh(key); ok {
		return q, nil
	}

	// the shared fetch outlives any single waiter; each waiter still honors its own ctx
	ch := c.group.DoChan(key, func() (any, error) {
		if q, ok := c.fresh(key); ok {
			return q, nil
		}
		return c.fetch(context.WithoutCancel(ctx), key, from, to)
	})
	select {
	case <-ctx.Done():
		return Quote{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Quote{}, res.Err
		}
		return res.Val.(Quote), nil
	}
}

// Invalidate drops the cached quote of symbol.
func (c *Cache) Invalidate(symbol string) {
	key, err := Key(symbol)
	if err != nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) fresh(key string) (Quote, bool) {
	c.mu.RLock()
	q, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.opts.Now().Sub(q.Timestamp) >= c.opts.TTL {
		return Quote{}, false
	}
	return q, true
}

func (c *Cache) fetch(ctx context.Context, key, from, to string) (Quote, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	rate, err := c.src.Rate(ctx, from, to)
	if err != nil {
		c.log.Warn("quote fetch failed", zap.String("symbol", key), zap.Error(err))
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstream) {
			return Quote{}, err
		}
		return Quote{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if rate.Value <= 0 {
		return Quote{}, fmt.Errorf("%w: non-positive rate %v for %s", ErrUpstream, rate.Value, key)
	}

	half := rate.Value * c.opts.Spread / 2
	q := Quote{
		Symbol:      key,
		Bid:         valuation.Round5(rate.Value - half),
		Ask:         valuation.Round5(rate.Value + half),
		Timestamp:   c.opts.Now(),
		LastUpdated: rate.LastRefreshed,
	}

	c.mu.Lock()
	c.entries[key] = q
	c.mu.Unlock()

	c.log.Debug("quote fetched", zap.String("symbol", key), zap.Float64("bid", q.Bid), zap.Float64("ask", q.Ask))
	return q, nil
}
