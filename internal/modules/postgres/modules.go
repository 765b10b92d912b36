package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"paper_ledger/internal/modules/config"
	"paper_ledger/pkg/db"
)

// New opens the pool when postgres is the configured primary and returns nil
// otherwise. An unreachable server is logged; the ledger falls back per call.
func New(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*db.PgTxManager, error) {
	if cfg.Remote.Driver != config.DriverPostgres {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Remote.Timeout)
	defer cancel()

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.Remote.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	tx := db.NewPgTxManager(poolMaster)
	if err := tx.Ping(ctx); err != nil {
		log.Warn("postgres is not reachable", zap.Error(err))
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tx.Close()
			return nil
		},
	})
	return tx, nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(New),
	)
}
