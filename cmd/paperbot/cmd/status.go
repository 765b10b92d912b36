package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"paper_ledger/internal/modules/config"
	healthsvc "paper_ledger/internal/modules/health/service"
)

type statusView struct {
	Driver      string             `json:"driver"`
	FallbackDir string             `json:"fallback_dir"`
	Health      healthsvc.Snapshot `json:"health"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe the ledger store and report its health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, d *deps) (any, error) {
				if opts.user != "" {
					// one real call so the snapshot reflects the primary right now
					if _, err := d.Store.GetAccount(ctx, opts.user); err != nil {
						return nil, err
					}
				}
				return statusView{
					Driver:      d.Cfg.Remote.Driver,
					FallbackDir: d.Cfg.Fallback.Dir,
					Health:      d.State.Snapshot(),
				}, nil
			})
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if opts.configPath == "" {
				cfg, err = config.NewConfig()
			} else {
				cfg, err = config.Load(opts.configPath)
			}
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	})
	return cmd
}
