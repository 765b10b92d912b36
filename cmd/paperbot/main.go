package main

import (
	"os"

	"paper_ledger/cmd/paperbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
