package quotes

import (
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"paper_ledger/internal/modules/config"
	"paper_ledger/internal/modules/quotes/service"
)

func NewCache(cfg *config.Config, log *zap.Logger) *service.Cache {
	src := service.NewAlphaVantage(cfg.Quotes.URL, cfg.Quotes.APIKey, &http.Client{Timeout: cfg.Quotes.Timeout})
	return service.NewCache(src, service.Options{
		TTL:     cfg.Quotes.TTL,
		Timeout: cfg.Quotes.Timeout,
		Spread:  cfg.Quotes.Spread,
	}, log.Named("quotes"))
}

func Module() fx.Option {
	return fx.Module("quotes",
		fx.Provide(NewCache),
	)
}
