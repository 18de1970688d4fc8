// Package main provides the squad fine-tuning CLI.
package main

import (
	"os"

	"github.com/born-ml/squad/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
