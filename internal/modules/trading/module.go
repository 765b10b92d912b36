package trading

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"paper_ledger/internal/modules/config"
	ledger "paper_ledger/internal/modules/ledger/service"
	quotesvc "paper_ledger/internal/modules/quotes/service"
	"paper_ledger/internal/modules/trading/service"
	"paper_ledger/internal/valuation"
)

func NewBot(store ledger.Store, quotes *quotesvc.Cache, cfg *config.Config, log *zap.Logger) *service.Bot {
	return service.NewBot(store, quotes, service.Config{
		Model: valuation.Model{
			PnLMultiplier: cfg.Ledger.PnLMultiplier,
			MarginRate:    cfg.Ledger.MarginRate,
		},
		DefaultBalance: cfg.Ledger.DefaultBalance,
	}, log.Named("trading"))
}

func Module() fx.Option {
	return fx.Module("trading",
		fx.Provide(NewBot),
	)
}
