package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"paper_ledger/internal/modules/config"
	"paper_ledger/internal/modules/health"
	healthsvc "paper_ledger/internal/modules/health/service"
	"paper_ledger/internal/modules/ledger"
	ledgersvc "paper_ledger/internal/modules/ledger/service"
	"paper_ledger/internal/modules/postgres"
	"paper_ledger/internal/modules/quotes"
	"paper_ledger/internal/modules/trading"
	tradingsvc "paper_ledger/internal/modules/trading/service"
	"paper_ledger/pkg/logger"
	"paper_ledger/pkg/tracing"
)

const startTimeout = 15 * time.Second

type deps struct {
	Cfg   *config.Config
	Bot   *tradingsvc.Bot
	Store ledgersvc.Store
	State *healthsvc.State
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Log.Level, cfg.Log.Development)
}

func fxLogger(cfg *config.Config, log *zap.Logger) fxevent.Logger {
	if cfg.Log.Development {
		return &fxevent.ZapLogger{Logger: log}
	}
	return fxevent.NopLogger
}

func startTracing(lc fx.Lifecycle, cfg *config.Config) error {
	if !cfg.Tracing.Enabled {
		return nil
	}
	_, closer, err := tracing.InitTracer(tracing.Config{Host: cfg.Tracing.Host, Port: cfg.Tracing.Port})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	return nil
}

// run starts the application, calls fn and prints its result as an envelope.
func run(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, d *deps) (any, error)) error {
	d := &deps{}
	app := fx.New(
		config.Module(opts.configPath),
		fx.Provide(newLogger),
		fx.WithLogger(fxLogger),
		health.Module(),
		postgres.Module(),
		ledger.Module(),
		quotes.Module(),
		trading.Module(),
		fx.Invoke(startTracing),
		fx.Populate(&d.Cfg, &d.Bot, &d.Store, &d.State),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(cmd.Context(), startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	data, err := fn(cmd.Context(), d)
	if perr := printJSON(cmd.OutOrStdout(), tradingsvc.Envelope(data, err)); perr != nil {
		return perr
	}
	if err != nil {
		return errFailed
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func requireUser(opts *rootOptions) error {
	if opts.user == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}
