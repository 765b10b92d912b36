package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	tradingsvc "paper_ledger/internal/modules/trading/service"
)

func newOrderCmd(opts *rootOptions) *cobra.Command {
	var sl, tp float64

	cmd := &cobra.Command{
		Use:   "order <symbol> <BUY|SELL> <volume>",
		Short: "Open a position at the live price",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			volume, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("volume %q: %w", args[2], err)
			}

			req := tradingsvc.OrderRequest{
				Symbol:    args[0],
				OrderType: args[1],
				Volume:    volume,
			}
			if cmd.Flags().Changed("sl") {
				req.StopLoss = &sl
			}
			if cmd.Flags().Changed("tp") {
				req.TakeProfit = &tp
			}

			return run(cmd, opts, func(ctx context.Context, d *deps) (any, error) {
				return d.Bot.PlaceOrder(ctx, opts.user, req)
			})
		},
	}
	cmd.Flags().Float64Var(&sl, "sl", 0, "stop loss price")
	cmd.Flags().Float64Var(&tp, "tp", 0, "take profit price")
	return cmd
}

func newCloseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "close <position-id>",
		Short: "Close an open position at the live price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, d *deps) (any, error) {
				return d.Bot.ClosePosition(ctx, opts.user, args[0])
			})
		},
	}
}

func newCloseAllCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "close-all",
		Short: "Close every open position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, d *deps) (any, error) {
				return d.Bot.CloseAll(ctx, opts.user)
			})
		},
	}
}
