// Package service is the trading orchestrator: it opens and closes virtual
// positions and keeps the account record in step with them.
package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	ledger "paper_ledger/internal/modules/ledger/service"
	quotesvc "paper_ledger/internal/modules/quotes/service"
	"paper_ledger/internal/valuation"
)

// QuoteProvider returns a live two-sided quote for a symbol.
type QuoteProvider interface {
	Get(ctx context.Context, symbol string) (quotesvc.Quote, error)
}

type Config struct {
	Model          valuation.Model
	DefaultBalance float64
	Now            func() time.Time
}

type Bot struct {
	store  ledger.Store
	quotes QuoteProvider
	model  valuation.Model

	defaultBalance float64
	now            func() time.Time

	log   *zap.Logger
	locks *userLocks
}

func NewBot(store ledger.Store, quotes QuoteProvider, cfg Config, log *zap.Logger) *Bot {
	if cfg.Model.PnLMultiplier <= 0 || cfg.Model.MarginRate <= 0 {
		cfg.Model = valuation.DefaultModel()
	}
	if cfg.DefaultBalance <= 0 {
		cfg.DefaultBalance = 1000.0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		store:          store,
		quotes:         quotes,
		model:          cfg.Model,
		defaultBalance: cfg.DefaultBalance,
		now:            func() time.Time { return cfg.Now().UTC() },
		log:            log,
		locks:          newUserLocks(),
	}
}

func checkUser(op, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return invalid(op, "user id is required")
	}
	return nil
}
