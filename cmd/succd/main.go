// Package main provides the entry point for the succ CLI.
package main

import (
	"os"

	"github.com/succ-project/succ/cmd/succd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
