package main

import (
	"os"

	"github.com/credmux/credmux/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
