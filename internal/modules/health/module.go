package health

import (
	"go.uber.org/fx"

	"paper_ledger/internal/modules/health/service"
)

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
		),
	)
}
