// Package main is the gridsql command.
package main

import (
	"os"

	"github.com/leapstack-labs/gridsql/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
