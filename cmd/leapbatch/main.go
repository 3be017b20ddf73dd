// Package main provides the leapbatch command.
package main

import (
	"os"

	"github.com/leapstack-labs/leapbatch/internal/cli"
)

func main() {
	os.Exit(cli.ExitCode(cli.Execute()))
}
