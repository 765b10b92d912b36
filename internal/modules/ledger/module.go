package ledger

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"paper_ledger/internal/modules/config"
	healthsvc "paper_ledger/internal/modules/health/service"
	"paper_ledger/internal/modules/ledger/service"
	"paper_ledger/internal/modules/ledger/service/file"
	"paper_ledger/internal/modules/ledger/service/mongo"
	"paper_ledger/internal/modules/ledger/service/pg"
	"paper_ledger/pkg/db"
)

type Params struct {
	fx.In

	Lc    fx.Lifecycle
	Cfg   *config.Config
	Log   *zap.Logger
	State *healthsvc.State
	PgTx  *db.PgTxManager `optional:"true"`
}

// NewStore builds the configured primary behind the local file fallback.
func NewStore(p Params) service.Store {
	opts := service.Options{DefaultBalance: p.Cfg.Ledger.DefaultBalance}
	local := file.NewStore(p.Cfg.Fallback.Dir, opts)
	log := p.Log.Named("ledger")

	ctx, cancel := context.WithTimeout(context.Background(), p.Cfg.Remote.Timeout)
	defer cancel()

	var primary service.Store
	switch p.Cfg.Remote.Driver {
	case config.DriverPostgres:
		if p.PgTx == nil {
			break
		}
		s := pg.NewStore(p.PgTx, opts)
		if err := s.Migrate(ctx); err != nil {
			log.Warn("postgres migrate failed", zap.Error(err))
			p.State.PrimaryFailed(err)
		}
		primary = s

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, p.Cfg.Remote.DSN)
		if err != nil {
			log.Warn("mongo is not reachable, using local store only", zap.Error(err))
			p.State.PrimaryFailed(err)
			break
		}
		s := mongo.NewStore(client.Database(p.Cfg.Remote.Database), opts)
		if err := s.EnsureIndexes(ctx); err != nil {
			log.Warn("mongo indexes", zap.Error(err))
		}
		p.Lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Disconnect(ctx)
			},
		})
		primary = s
	}

	log.Info("ledger store ready",
		zap.String("driver", p.Cfg.Remote.Driver),
		zap.Bool("primary", primary != nil),
		zap.String("fallback_dir", p.Cfg.Fallback.Dir),
	)
	return service.NewFallback(primary, local, p.Cfg.Remote.Timeout, log, p.State)
}

func Module() fx.Option {
	return fx.Module("ledger",
		fx.Provide(NewStore),
	)
}
