package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newAccountCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show the account with open positions revalued",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, d *deps) (any, error) {
				return d.Bot.GetAccountInfo(ctx, opts.user)
			})
		},
	}
}

func newPositionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions at live prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, d *deps) (any, error) {
				return d.Bot.GetPositions(ctx, opts.user)
			})
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List closed trades, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, d *deps) (any, error) {
				return d.Bot.GetTradingHistory(ctx, opts.user)
			})
		},
	}
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild balance and margin from positions and history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, d *deps) (any, error) {
				return d.Bot.Reconcile(ctx, opts.user)
			})
		},
	}
}
