package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errFailed is returned after a failure envelope was already printed.
var errFailed = errors.New("operation failed")

type rootOptions struct {
	user       string
	configPath string
}

func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil && !errors.Is(err, errFailed) {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

// NewRootCmd builds the paperbot command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "paperbot",
		Short:         "Virtual paper-trading ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.user, "user", "u", os.Getenv("LEDGER_USER"), "user id the command acts for")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default configs/$CONFIG_FILE)")

	root.AddCommand(
		newAccountCmd(opts),
		newOrderCmd(opts),
		newCloseCmd(opts),
		newCloseAllCmd(opts),
		newPositionsCmd(opts),
		newHistoryCmd(opts),
		newReconcileCmd(opts),
		newStatusCmd(opts),
		newConfigCmd(opts),
	)
	return root
}
