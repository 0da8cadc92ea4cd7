// Package main provides the cloudgate command-line interface.
package main

import (
	"os"

	"github.com/lvonguyen/cloudgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
