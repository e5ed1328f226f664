package main

import (
	"os"

	"strategy-ledger/cmd/ledger/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
